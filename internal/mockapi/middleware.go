package mockapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type contextKey int

const subjectKey contextKey = iota

const csrfHeaderName = "X-CSRF-Token"

// AuthMiddleware requires a valid bearer access token and stores its
// subject on the request context.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		subject, err := s.verifyAccessToken(raw)
		switch {
		case errors.Is(err, jwtlib.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "token expired")
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CSRFMiddleware requires the caller's CSRF token on mutating requests.
// Safe methods are exempt.
func (s *Server) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		s.mu.Lock()
		want, ok := s.csrfTokens[subjectFromContext(r.Context())]
		s.mu.Unlock()
		got := r.Header.Get(csrfHeaderName)
		if !ok || got == "" {
			writeError(w, http.StatusForbidden, "missing CSRF token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware applies the per-subject fixed window.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, retryAfter := s.limiter.allow(subjectFromContext(r.Context()), s.now()); !ok {
			writeRateLimited(w, retryAfter, "too many requests; try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

var routeNames = map[string]string{
	"/api/health":       "health",
	"/api/auth/login":   "login",
	"/api/auth/refresh": "refresh",
	"/api/chat":         "chat",
	"/api/analyze":      "analyze",
	"/api/documents":    "documents",
}

// countRoutes tallies every request per route before any auth check.
func (s *Server) countRoutes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name, ok := routeNames[r.URL.Path]; ok {
			s.mu.Lock()
			s.counters[name]++
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func subjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey).(string)
	return subject
}
