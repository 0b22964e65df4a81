package mockapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Login exchanges email and password for a credential set.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	now := s.now()
	if blocked, retryAfter := s.loginLimiter.check(email, now); blocked {
		writeRateLimited(w, retryAfter, "too many failed login attempts; try again later")
		return
	}

	s.mu.Lock()
	user, ok := s.users[email]
	s.mu.Unlock()
	if !ok || user.Password != req.Password {
		s.loginLimiter.recordFailure(email, now)
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.loginLimiter.recordSuccess(email)

	access, err := s.IssueAccessToken(email, s.accessTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().Str("email", email).Msg("login")
	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken:      access,
		TokenType:        "bearer",
		UserEmail:        user.Email,
		UserName:         user.Name,
		UserRole:         user.Role,
		ExpiresIn:        int(s.accessTTL.Seconds()),
		RefreshToken:     s.issueRefreshToken(email),
		RefreshExpiresIn: int(s.refreshTTL.Seconds()),
		CSRFToken:        s.csrfTokenFor(email),
		CSRFExpiresIn:    int(s.csrfTTL.Seconds()),
	})
}

// Refresh exchanges a refresh token for a new access token.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	s.mu.Lock()
	failing := s.refreshFailure
	grant, ok := s.refreshTokens[req.RefreshToken]
	s.mu.Unlock()

	if failing {
		writeError(w, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}
	if !ok || !s.now().Before(grant.expiresAt) {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	access, err := s.IssueAccessToken(grant.email, s.accessTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().Str("email", grant.email).Msg("refresh")
	writeJSON(w, http.StatusOK, RefreshResponse{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int(s.accessTTL.Seconds()),
	})
}
