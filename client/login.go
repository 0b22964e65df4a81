package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jmcleod/honeycomb/credentials"
)

// LoginResponse is the backend's answer to a successful login. The
// *ExpiresIn fields are lifetimes in seconds.
type LoginResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	UserEmail        string `json:"user_email"`
	UserName         string `json:"user_name"`
	UserRole         string `json:"user_role"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	CSRFToken        string `json:"csrf_token"`
	CSRFExpiresIn    int    `json:"csrf_expires_in"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges email and password for a credential set and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	url := c.baseURL + c.endpoints.Login
	status, header, data, err := c.unauthenticated(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusTooManyRequests {
		retryAfter := header.Get(headerRetryAfter)
		return nil, &Error{
			Kind: KindRateLimited, Method: http.MethodPost, Path: c.endpoints.Login,
			Status: status, RetryAfter: retryAfter, Message: rateLimitMessage(retryAfter),
		}
	}
	if !isSuccess(status) {
		msg := errorDetail(data)
		if msg == "" {
			msg = "login failed"
		}
		return nil, &Error{Kind: KindAPI, Method: http.MethodPost, Path: c.endpoints.Login, Status: status, Message: msg}
	}

	var resp LoginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{
			Kind: KindMalformedResponse, Method: http.MethodPost, Path: c.endpoints.Login,
			Status: status, Message: "login response unreadable", Err: err,
		}
	}
	if resp.AccessToken == "" {
		return nil, &Error{
			Kind: KindMalformedResponse, Method: http.MethodPost, Path: c.endpoints.Login,
			Status: status, Message: "login response carried no access token",
		}
	}

	c.persist("access token", c.store.SetAccessToken(resp.AccessToken))
	c.persist("refresh token", c.store.SetRefreshToken(resp.RefreshToken))
	c.persist("csrf token", c.store.SetCSRFToken(resp.CSRFToken))
	c.persist("identity", c.store.SetIdentity(credentials.Identity{
		Email:       resp.UserEmail,
		DisplayName: resp.UserName,
		Role:        resp.UserRole,
	}))
	c.log.Info().Str("email", resp.UserEmail).Int("expires_in", resp.ExpiresIn).Msg("logged in")
	return &resp, nil
}

func (c *Client) persist(what string, err error) {
	if err != nil {
		c.log.Warn().Err(err).Str("record", what).Msg("kept in memory only")
	}
}
