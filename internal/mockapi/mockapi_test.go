package mockapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/honeycomb/internal/mockapi"
)

var alice = mockapi.User{Email: "alice@example.com", Password: "pw", Name: "Alice", Role: "lead"}

func setupServer(t *testing.T, opts ...mockapi.Option) (*mockapi.Server, *httptest.Server) {
	t.Helper()
	stub := mockapi.New(append([]mockapi.Option{mockapi.WithUsers(alice)}, opts...)...)
	srv := httptest.NewServer(stub.Router())
	t.Cleanup(srv.Close)
	return stub, srv
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func login(t *testing.T, baseURL string) mockapi.LoginResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/api/auth/login", mockapi.LoginRequest{Email: alice.Email, Password: alice.Password}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out mockapi.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func authHeaders(l mockapi.LoginResponse) map[string]string {
	return map[string]string{"Authorization": "Bearer " + l.AccessToken, "X-CSRF-Token": l.CSRFToken}
}

func chatBody(text string) mockapi.ChatRequest {
	return mockapi.ChatRequest{Messages: []mockapi.ChatMessage{{Role: "user", Content: text}}}
}

func TestLogin(t *testing.T) {
	_, srv := setupServer(t, mockapi.WithAccessTTL(10*time.Minute))

	l := login(t, srv.URL)
	assert.NotEmpty(t, l.AccessToken)
	assert.NotEmpty(t, l.RefreshToken)
	assert.NotEmpty(t, l.CSRFToken)
	assert.Equal(t, "Alice", l.UserName)
	assert.Equal(t, 600, l.ExpiresIn)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", mockapi.LoginRequest{Email: alice.Email, Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var errBody mockapi.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Equal(t, "invalid email or password", errBody.Detail)
}

func TestLoginLockout(t *testing.T) {
	_, srv := setupServer(t)
	for range 5 {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", mockapi.LoginRequest{Email: alice.Email, Password: "wrong"}, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", mockapi.LoginRequest{Email: alice.Email, Password: alice.Password}, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestChatRequiresCredentials(t *testing.T) {
	stub, srv := setupServer(t)
	l := login(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat", chatBody("hi"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/chat", chatBody("hi"),
		map[string]string{"Authorization": "Bearer " + l.AccessToken, "X-CSRF-Token": "forged"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/chat", chatBody("hi"), authHeaders(l))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Echo: hi", out["content"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	assert.Equal(t, 3, stub.Count("chat"))
	assert.Equal(t, 1, stub.Count("login"))
}

func TestExpiredAndRevokedTokens(t *testing.T) {
	stub, srv := setupServer(t)
	l := login(t, srv.URL)

	expired, err := stub.IssueAccessToken(alice.Email, -time.Minute)
	require.NoError(t, err)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat", chatBody("hi"),
		map[string]string{"Authorization": "Bearer " + expired, "X-CSRF-Token": l.CSRFToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	stub.RevokeAccessTokens()
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/chat", chatBody("hi"), authHeaders(l))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefresh(t *testing.T) {
	stub, srv := setupServer(t)
	l := login(t, srv.URL)
	stub.RevokeAccessTokens()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/refresh", mockapi.RefreshRequest{RefreshToken: l.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out mockapi.RefreshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.AccessToken)

	l.AccessToken = out.AccessToken
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/chat", chatBody("again"), authHeaders(l))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/refresh", mockapi.RefreshRequest{RefreshToken: "bogus"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	stub.SetRefreshFailure(true)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/refresh", mockapi.RefreshRequest{RefreshToken: l.RefreshToken}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 3, stub.Count("refresh"))
}

func TestRateLimit(t *testing.T) {
	_, srv := setupServer(t, mockapi.WithRateLimit(2, time.Minute))
	l := login(t, srv.URL)

	for range 2 {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat", chatBody("hi"), authHeaders(l))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat", chatBody("hi"), authHeaders(l))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestAnalyzeEncodesReportAsString(t *testing.T) {
	_, srv := setupServer(t)
	l := login(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/analyze", chatBody("[File: a.txt]\nx\n\n---\n[File: b.txt]\ny"), authHeaders(l))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	encoded, ok := out["content"].(string)
	require.True(t, ok, "content is a JSON string")

	var report struct {
		Overview struct {
			FileCount int `json:"file_count"`
		} `json:"overview"`
	}
	require.NoError(t, json.Unmarshal([]byte(encoded), &report))
	assert.Equal(t, 2, report.Overview.FileCount)
}

func TestDocumentsAndHealth(t *testing.T) {
	_, srv := setupServer(t, mockapi.WithDocuments(mockapi.Document{ID: "1", FileName: "runbook.md", Content: "steps"}))
	l := login(t, srv.URL)

	// GET is exempt from the CSRF check.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/documents", nil, map[string]string{"Authorization": "Bearer " + l.AccessToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Content struct {
			Documents []mockapi.Document `json:"documents"`
		} `json:"content"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Content.Documents, 1)
	assert.Equal(t, "runbook.md", out.Content.Documents[0].FileName)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
