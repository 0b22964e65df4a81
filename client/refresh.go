package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken is returned by Refresh when nothing can be exchanged.
var ErrNoRefreshToken = errors.New("no refresh token")

// RefreshStore is the slice of credential state the refresher touches.
type RefreshStore interface {
	RefreshToken() (string, bool)
	SetAccessToken(token string) error
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshHTTPClient sets the HTTP client used for the exchange.
func WithRefreshHTTPClient(hc *http.Client) RefresherOption {
	return func(r *Refresher) {
		if hc != nil {
			r.http = hc
		}
	}
}

// WithRefreshLogger sets the logger.
func WithRefreshLogger(log zerolog.Logger) RefresherOption {
	return func(r *Refresher) {
		r.log = log
	}
}

// Refresher exchanges the refresh token for a new access token. Callers that
// overlap share one exchange.
type Refresher struct {
	url   string
	store RefreshStore
	http  *http.Client
	log   zerolog.Logger
	group singleflight.Group
}

// NewRefresher returns a Refresher posting to url.
func NewRefresher(url string, store RefreshStore, opts ...RefresherOption) *Refresher {
	r := &Refresher{url: url, store: store, http: http.DefaultClient, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

// Refresh obtains a new access token and stores it. On failure the store is
// left untouched; deciding what to clear is the caller's business.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan("refresh", func() (any, error) {
		// The exchange outlives any single waiter's cancellation.
		return r.exchange(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Refresher) exchange(ctx context.Context) (string, error) {
	refreshToken, ok := r.store.RefreshToken()
	if !ok {
		r.log.Info().Msg("no refresh token stored")
		return "", ErrNoRefreshToken
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		r.log.Warn().Err(err).Msg("refresh request failed")
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading refresh response: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		r.log.Warn().Int("status", resp.StatusCode).Msg("refresh rejected")
		return "", fmt.Errorf("refresh rejected with status %d: %s", resp.StatusCode, errorDetail(data))
	}

	var out refreshResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("refresh response carried no access token")
	}
	if err := r.store.SetAccessToken(out.AccessToken); err != nil {
		r.log.Warn().Err(err).Msg("refreshed access token kept in memory only")
	}
	r.log.Info().Msg("access token refreshed")
	return out.AccessToken, nil
}
