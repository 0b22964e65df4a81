package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/honeycomb/client"
	"github.com/jmcleod/honeycomb/credentials"
	"github.com/jmcleod/honeycomb/storage/memory"
)

type seenRequest struct {
	auth      string
	csrf      string
	requestID string
	body      string
}

// scripted is a fake backend whose /api/chat and /api/auth/refresh handlers
// are set per test. It records what the chat route received.
type scripted struct {
	mu        sync.Mutex
	seen      []seenRequest
	refreshes atomic.Int32

	chat    http.HandlerFunc
	refresh http.HandlerFunc
}

func (s *scripted) requests() []seenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]seenRequest(nil), s.seen...)
}

func setupBackend(t *testing.T, s *scripted) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/api/chat", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		s.mu.Lock()
		s.seen = append(s.seen, seenRequest{
			auth:      req.Header.Get("Authorization"),
			csrf:      req.Header.Get("X-CSRF-Token"),
			requestID: req.Header.Get("X-Request-ID"),
			body:      string(body),
		})
		s.mu.Unlock()
		s.chat(w, req)
	})
	r.Post("/api/auth/refresh", func(w http.ResponseWriter, req *http.Request) {
		s.refreshes.Add(1)
		if s.refresh == nil {
			http.Error(w, `{"detail":"no refresh configured"}`, http.StatusInternalServerError)
			return
		}
		s.refresh(w, req)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func loggedInStore(t *testing.T) *credentials.Store {
	t.Helper()
	s := credentials.Open(memory.NewRepository())
	require.NoError(t, s.SetAccessToken("old-access"))
	require.NoError(t, s.SetRefreshToken("refresh-1"))
	require.NoError(t, s.SetCSRFToken("csrf-1"))
	require.NoError(t, s.SetIdentity(credentials.Identity{Email: "kim@example.com"}))
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func okContent(content any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"content": content})
	}
}

func status(code int, detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, code, map[string]string{"detail": detail})
	}
}

func TestSendInjectsCredentials(t *testing.T) {
	s := &scripted{chat: okContent("hello")}
	srv := setupBackend(t, s)
	c := client.New(srv.URL, loggedInStore(t))

	got, err := c.Send(t.Context(), "/chat", map[string]string{"q": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text())
	assert.False(t, got.IsStructured())

	reqs := s.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer old-access", reqs[0].auth)
	assert.Equal(t, "csrf-1", reqs[0].csrf)
	assert.NotEmpty(t, reqs[0].requestID)
	assert.JSONEq(t, `{"q":"hi"}`, reqs[0].body)
}

func TestSendWithoutCredentials(t *testing.T) {
	s := &scripted{chat: status(http.StatusUnauthorized, "missing token")}
	srv := setupBackend(t, s)
	store := credentials.Open(memory.NewRepository())
	c := client.New(srv.URL, store)

	_, err := c.Send(t.Context(), "/chat", map[string]string{})
	assert.ErrorIs(t, err, client.ErrSessionExpired)

	reqs := s.requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].auth)
	assert.Empty(t, reqs[0].csrf)
	assert.Equal(t, int32(0), s.refreshes.Load(), "no refresh token means no refresh call")
}

func TestUnauthorizedRefreshAndRetryOnce(t *testing.T) {
	s := &scripted{}
	s.chat = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer new-access" {
			status(http.StatusUnauthorized, "token expired")(w, r)
			return
		}
		okContent(map[string]string{"answer": "42"})(w, r)
	}
	s.refresh = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "refresh-1" {
			status(http.StatusUnauthorized, "bad refresh token")(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "new-access"})
	}
	srv := setupBackend(t, s)
	store := loggedInStore(t)
	c := client.New(srv.URL, store)

	got, err := c.Send(t.Context(), "/chat", map[string]string{"q": "meaning"})
	require.NoError(t, err)
	require.True(t, got.IsStructured())
	var decoded map[string]string
	require.NoError(t, got.Decode(&decoded))
	assert.Equal(t, "42", decoded["answer"])

	reqs := s.requests()
	require.Len(t, reqs, 2, "exactly one retry")
	assert.Equal(t, "Bearer old-access", reqs[0].auth)
	assert.Equal(t, "Bearer new-access", reqs[1].auth)
	assert.Equal(t, reqs[0].body, reqs[1].body, "retry re-sends the identical payload")
	assert.Equal(t, reqs[0].requestID, reqs[1].requestID)
	assert.Equal(t, int32(1), s.refreshes.Load())

	access, _ := store.AccessToken()
	assert.Equal(t, "new-access", access)
}

func TestUnauthorizedRefreshRejected(t *testing.T) {
	s := &scripted{
		chat:    status(http.StatusUnauthorized, "token expired"),
		refresh: status(http.StatusUnauthorized, "refresh token expired"),
	}
	srv := setupBackend(t, s)
	store := loggedInStore(t)
	var reasons []credentials.LogoutReason
	store.OnForcedLogout(func(r credentials.LogoutReason) { reasons = append(reasons, r) })
	c := client.New(srv.URL, store)

	_, err := c.Send(t.Context(), "/chat", map[string]string{})
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrSessionExpired)
	assert.True(t, client.IsTerminal(err))

	assert.Len(t, s.requests(), 1, "no retry without a new token")
	assert.False(t, store.IsAuthenticated())
	_, ok := store.RefreshToken()
	assert.False(t, ok)
	_, ok = store.CSRFToken()
	assert.False(t, ok)
	_, ok = store.Identity()
	assert.False(t, ok)
	assert.Equal(t, []credentials.LogoutReason{credentials.ReasonSessionExpired}, reasons)
}

func TestUnauthorizedRefreshUnreachable(t *testing.T) {
	s := &scripted{chat: status(http.StatusUnauthorized, "token expired")}
	srv := setupBackend(t, s)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	store := loggedInStore(t)
	c := client.New(srv.URL, store,
		client.WithRefresher(client.NewRefresher(deadURL+"/api/auth/refresh", store)))

	_, err := c.Send(t.Context(), "/chat", map[string]string{})
	assert.ErrorIs(t, err, client.ErrSessionExpired)
	assert.Len(t, s.requests(), 1)
	assert.False(t, store.IsAuthenticated(), "a failed refresh never leaves a stale access token")
}

func TestRetryFailureIsTerminal(t *testing.T) {
	s := &scripted{
		chat: status(http.StatusUnauthorized, "still expired"),
		refresh: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"access_token": "new-access"})
		},
	}
	srv := setupBackend(t, s)
	store := loggedInStore(t)
	c := client.New(srv.URL, store)

	_, err := c.Send(t.Context(), "/chat", map[string]string{})
	var apiErr *client.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, client.KindSessionExpired, apiErr.Kind)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	assert.Len(t, s.requests(), 2, "never retried twice")
	assert.Equal(t, int32(1), s.refreshes.Load())
	assert.False(t, store.IsAuthenticated())
}

func TestForbiddenClearsOnlyCSRF(t *testing.T) {
	s := &scripted{chat: status(http.StatusForbidden, "CSRF token mismatch")}
	srv := setupBackend(t, s)
	store := loggedInStore(t)
	c := client.New(srv.URL, store)

	_, err := c.Send(t.Context(), "/chat", map[string]string{})
	assert.ErrorIs(t, err, client.ErrSecurityRejected)
	assert.False(t, client.IsTerminal(err))

	_, ok := store.CSRFToken()
	assert.False(t, ok)
	access, ok := store.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "old-access", access)
	_, ok = store.RefreshToken()
	assert.True(t, ok)
	assert.Equal(t, int32(0), s.refreshes.Load())
	assert.Len(t, s.requests(), 1)
}

func TestRateLimitedNeverRefreshes(t *testing.T) {
	s := &scripted{chat: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		status(http.StatusTooManyRequests, "slow down")(w, r)
	}}
	srv := setupBackend(t, s)
	store := loggedInStore(t)
	c := client.New(srv.URL, store)

	_, err := c.Send(t.Context(), "/chat", map[string]string{})
	var apiErr *client.Error
	require.True(t, errors.As(err, &apiErr))
	assert.ErrorIs(t, err, client.ErrRateLimited)
	assert.Equal(t, "17", apiErr.RetryAfter)
	delay, ok := apiErr.RetryAfterDelay()
	assert.True(t, ok)
	assert.Equal(t, 17*time.Second, delay)

	assert.Equal(t, int32(0), s.refreshes.Load())
	assert.Len(t, s.requests(), 1)
	assert.True(t, store.IsAuthenticated())
}

func TestOtherStatusIsAPIError(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		status  int
		message string
	}{
		{"structured detail", status(http.StatusBadRequest, "message is required"), 400, "message is required"},
		{"plain body", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}, 502, "upstream exploded"},
		{"non string detail", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]string{{"msg": "field required"}}})
		}, 422, `[{"msg":"field required"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &scripted{chat: tc.handler}
			srv := setupBackend(t, s)
			c := client.New(srv.URL, loggedInStore(t))

			_, err := c.Send(t.Context(), "/chat", map[string]string{})
			var apiErr *client.Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, client.KindAPI, apiErr.Kind)
			assert.ErrorIs(t, err, client.ErrAPI)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.message, apiErr.Message)
		})
	}
}

func TestNetworkUnavailable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	store := loggedInStore(t)
	c := client.New(url, store)
	_, err := c.Send(t.Context(), "/chat", map[string]string{})
	assert.ErrorIs(t, err, client.ErrNetworkUnavailable)
	assert.NotErrorIs(t, err, client.ErrAPI)
	assert.True(t, store.IsAuthenticated())
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	s := &scripted{chat: func(w http.ResponseWriter, _ *http.Request) {
		<-release
		okContent("late")(w, nil)
	}}
	srv := setupBackend(t, s)
	defer close(release)
	c := client.New(srv.URL, loggedInStore(t))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, "/chat", map[string]string{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, client.ErrNetworkUnavailable)
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const callers = 5
	var arrived atomic.Int32
	allArrived := make(chan struct{})

	s := &scripted{}
	s.chat = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer new-access" {
			okContent("ok")(w, r)
			return
		}
		if arrived.Add(1) == callers {
			close(allArrived)
		}
		select {
		case <-allArrived:
		case <-time.After(2 * time.Second):
		}
		status(http.StatusUnauthorized, "expired")(w, r)
	}
	s.refresh = func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "new-access"})
	}
	srv := setupBackend(t, s)
	c := client.New(srv.URL, loggedInStore(t))

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Send(context.Background(), "/chat", map[string]string{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), s.refreshes.Load())
}

func TestErrorMessageMentionsKind(t *testing.T) {
	err := &client.Error{Kind: client.KindRateLimited, Method: "POST", Path: "/chat", Status: 429, Message: "too many requests"}
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, err.Error(), "/chat")
	assert.Contains(t, err.Error(), "429")
}
