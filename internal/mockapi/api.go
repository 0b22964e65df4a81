// Package mockapi is an in-process stand-in for the handover backend. It
// speaks the same wire contract as the real service (bearer access tokens,
// CSRF header, refresh exchange, 429 with Retry-After) and is used by tests
// and the devserver command.
package mockapi

import (
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultCSRFTTL    = time.Hour
)

// User is an account the stub accepts at login.
type User struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// DemoUser is seeded by the devserver command.
var DemoUser = User{Email: "demo@honeycomb.local", Password: "honeycomb", Name: "Demo User", Role: "member"}

// Document is a stored source file.
type Document struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

type refreshGrant struct {
	email     string
	expiresAt time.Time
}

// Server holds the stub's state. The zero value is not usable; call New.
type Server struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	csrfTTL    time.Duration
	now        func() time.Time
	log        zerolog.Logger

	limiter      *windowLimiter
	loginLimiter *loginRateLimiter

	mu             sync.Mutex
	users          map[string]User
	refreshTokens  map[string]refreshGrant
	csrfTokens     map[string]string
	generation     int
	refreshFailure bool
	counters       map[string]int
	documents      []Document
}

// Option configures a Server.
type Option func(*Server)

// WithUsers registers accounts.
func WithUsers(users ...User) Option {
	return func(s *Server) {
		for _, u := range users {
			s.users[strings.ToLower(u.Email)] = u
		}
	}
}

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = d
	}
}

// WithRateLimit allows limit authenticated calls per token subject in each
// fixed window. A limit of 0 disables rate limiting.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(s *Server) {
		s.limiter = newWindowLimiter(limit, window)
	}
}

// WithSecret sets the HS256 signing key.
func WithSecret(secret []byte) Option {
	return func(s *Server) {
		s.secret = append([]byte(nil), secret...)
	}
}

// WithDocuments seeds the document listing.
func WithDocuments(docs ...Document) Option {
	return func(s *Server) {
		s.documents = append(s.documents, docs...)
	}
}

// WithNow overrides the clock used for token timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// New returns a Server with no users, no rate limit and a fixed development
// signing key.
func New(opts ...Option) *Server {
	s := &Server{
		secret:        []byte("honeycomb-dev-signing-key"),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		csrfTTL:       defaultCSRFTTL,
		now:           time.Now,
		log:           zerolog.Nop(),
		limiter:       newWindowLimiter(0, time.Minute),
		loginLimiter:  newLoginRateLimiter(),
		users:         make(map[string]User),
		refreshTokens: make(map[string]refreshGrant),
		csrfTokens:    make(map[string]string),
		counters:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the routes mounted under /api.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders, s.countRoutes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Post("/auth/login", s.Login)
		r.Post("/auth/refresh", s.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware, s.RateLimitMiddleware, s.CSRFMiddleware)
			r.Post("/chat", s.Chat)
			r.Post("/analyze", s.Analyze)
			r.Get("/documents", s.ListDocuments)
		})
	})
	return r
}

// Count returns how many requests reached the named route: health, login,
// refresh, chat, analyze or documents.
func (s *Server) Count(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[route]
}

// RevokeAccessTokens invalidates every access token issued so far. Refresh
// tokens stay valid.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// SetRefreshFailure makes the refresh route reject every exchange.
func (s *Server) SetRefreshFailure(fail bool) {
	s.mu.Lock()
	s.refreshFailure = fail
	s.mu.Unlock()
}
