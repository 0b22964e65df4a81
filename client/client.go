// Package client dispatches authenticated calls to the backend. Every call
// carries the stored bearer and CSRF tokens; a 401 triggers one refresh and
// one retry of the identical request, and every other failure is surfaced
// as a typed *Error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jmcleod/honeycomb/credentials"
)

const (
	headerAuthorization = "Authorization"
	headerCSRF          = "X-CSRF-Token"
	headerRequestID     = "X-Request-ID"
	headerRetryAfter    = "Retry-After"

	maxBodyBytes = 16 << 20
)

// TokenStore is the credential state the dispatcher reads and mutates.
// *credentials.Store satisfies it.
type TokenStore interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
	CSRFToken() (string, bool)
	SetAccessToken(token string) error
	SetRefreshToken(token string) error
	SetCSRFToken(token string) error
	SetIdentity(id credentials.Identity) error
	ClearCSRF() error
	ForceLogout(reason credentials.LogoutReason) error
}

// Endpoints locates the backend routes relative to the base URL. APIPrefix
// is prepended to the paths given to Send and Get; the auth and health
// paths are used as is.
type Endpoints struct {
	APIPrefix string
	Login     string
	Refresh   string
	Health    string
}

// DefaultEndpoints matches the stock backend layout.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		APIPrefix: "/api",
		Login:     "/api/auth/login",
		Refresh:   "/api/auth/refresh",
		Health:    "/api/health",
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithEndpoints overrides the route layout.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		c.endpoints = e
	}
}

// WithRefresher replaces the refresh coordinator built by New.
func WithRefresher(r *Refresher) Option {
	return func(c *Client) {
		c.refresher = r
	}
}

// Client is the request dispatcher.
type Client struct {
	baseURL   string
	store     TokenStore
	http      *http.Client
	log       zerolog.Logger
	endpoints Endpoints
	refresher *Refresher
	requestID func() string
}

// New returns a Client talking to baseURL with credentials from store.
func New(baseURL string, store TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		store:     store,
		http:      http.DefaultClient,
		log:       zerolog.Nop(),
		endpoints: DefaultEndpoints(),
		requestID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.refresher == nil {
		c.refresher = NewRefresher(c.baseURL+c.endpoints.Refresh, store,
			WithRefreshHTTPClient(c.http), WithRefreshLogger(c.log))
	}
	return c
}

// Send POSTs payload as JSON to path under the API prefix.
func (c *Client) Send(ctx context.Context, path string, payload any) (Content, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Content{}, fmt.Errorf("encoding payload for %s: %w", path, err)
	}
	return c.dispatch(ctx, http.MethodPost, path, body)
}

// Get runs the same protocol as Send for a GET of path.
func (c *Client) Get(ctx context.Context, path string) (Content, error) {
	return c.dispatch(ctx, http.MethodGet, path, nil)
}

// attempt is the dispatcher state. There is no state after
// retryAfterRefresh, so a logical call is sent at most twice.
type attempt int

const (
	firstAttempt attempt = iota
	retryAfterRefresh
)

func (a attempt) String() string {
	if a == retryAfterRefresh {
		return "retry_after_refresh"
	}
	return "first_attempt"
}

type call struct {
	method    string
	path      string
	url       string
	body      []byte
	requestID string
}

func (c *Client) dispatch(ctx context.Context, method, path string, body []byte) (Content, error) {
	cl := call{
		method:    method,
		path:      path,
		url:       c.baseURL + c.endpoints.APIPrefix + path,
		body:      body,
		requestID: c.requestID(),
	}

	state := firstAttempt
	for {
		status, header, data, err := c.roundTrip(ctx, cl, true)
		if err != nil {
			return Content{}, c.transportError(ctx, cl, err)
		}
		c.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", status).
			Stringer("attempt", state).
			Str("request_id", cl.requestID).
			Msg("dispatch")

		if state == retryAfterRefresh {
			if isSuccess(status) {
				return normalizeBody(data), nil
			}
			return Content{}, c.expire(cl, status, nil)
		}

		switch {
		case status == http.StatusTooManyRequests:
			retryAfter := header.Get(headerRetryAfter)
			c.log.Warn().Str("path", path).Str("retry_after", retryAfter).Msg("rate limited")
			return Content{}, &Error{
				Kind: KindRateLimited, Method: method, Path: path, RequestID: cl.requestID,
				Status: status, RetryAfter: retryAfter, Message: rateLimitMessage(retryAfter),
			}
		case status == http.StatusForbidden:
			if err := c.store.ClearCSRF(); err != nil {
				c.log.Warn().Err(err).Msg("csrf token cleared in memory only")
			}
			c.log.Warn().Str("path", path).Msg("csrf token rejected")
			return Content{}, &Error{
				Kind: KindSecurityRejected, Method: method, Path: path, RequestID: cl.requestID,
				Status: status, Message: msgSecurityRejected,
			}
		case status == http.StatusUnauthorized:
			c.log.Info().Str("path", path).Msg("access token rejected, refreshing")
			if _, err := c.refresher.Refresh(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Content{}, ctxErr
				}
				return Content{}, c.expire(cl, status, err)
			}
			state = retryAfterRefresh
		case !isSuccess(status):
			return Content{}, &Error{
				Kind: KindAPI, Method: method, Path: path, RequestID: cl.requestID,
				Status: status, Message: errorDetail(data),
			}
		default:
			return normalizeBody(data), nil
		}
	}
}

// expire tears the credential set down after the refresh path failed.
func (c *Client) expire(cl call, status int, cause error) error {
	if err := c.store.ForceLogout(credentials.ReasonSessionExpired); err != nil {
		c.log.Error().Err(err).Msg("credentials not fully cleared after failed refresh")
	}
	return &Error{
		Kind: KindSessionExpired, Method: cl.method, Path: cl.path, RequestID: cl.requestID,
		Status: status, Message: msgSessionExpired, Err: cause,
	}
}

func (c *Client) transportError(ctx context.Context, cl call, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.log.Error().Err(err).Str("path", cl.path).Str("url", cl.url).Msg("backend unreachable")
	return &Error{
		Kind: KindNetworkUnavailable, Method: cl.method, Path: cl.path, RequestID: cl.requestID,
		Message: msgNetwork, Err: err,
	}
}

// roundTrip sends one HTTP request built from the current store contents and
// returns the fully read response.
func (c *Client) roundTrip(ctx context.Context, cl call, authenticated bool) (int, http.Header, []byte, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, cl.url, body)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, cl.requestID)
	if authenticated {
		if token, ok := c.store.AccessToken(); ok {
			req.Header.Set(headerAuthorization, "Bearer "+token)
		}
		if csrf, ok := c.store.CSRFToken(); ok {
			req.Header.Set(headerCSRF, csrf)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// errorDetail extracts the backend's "detail" field, falling back to the
// raw body text.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && !isEmptyValue(payload.Detail) {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		return string(payload.Detail)
	}
	return strings.TrimSpace(string(body))
}

// unauthenticated sends a call without credential headers and without the
// refresh protocol. Used for login and health checks.
func (c *Client) unauthenticated(ctx context.Context, method, url string, body []byte) (int, http.Header, []byte, error) {
	cl := call{method: method, path: url, url: url, body: body, requestID: c.requestID()}
	status, header, data, err := c.roundTrip(ctx, cl, false)
	if err != nil {
		return 0, nil, nil, c.transportError(ctx, cl, err)
	}
	return status, header, data, nil
}

var _ TokenStore = (*credentials.Store)(nil)

// IsTerminal reports whether err requires returning to the unauthenticated
// state.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
