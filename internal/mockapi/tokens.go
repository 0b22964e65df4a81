package mockapi

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errRevoked = errors.New("token revoked")

type accessClaims struct {
	Generation int `json:"gen"`
	jwtlib.RegisteredClaims
}

// IssueAccessToken signs an access token for email valid for ttl from now.
// A negative ttl yields an already expired token.
func (s *Server) IssueAccessToken(email string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	now := s.now()
	claims := accessClaims{
		Generation: gen,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return token, nil
}

// verifyAccessToken returns the subject of a valid, unrevoked token.
func (s *Server) verifyAccessToken(raw string) (string, error) {
	var claims accessClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(s.now),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	if claims.Generation < gen {
		return "", errRevoked
	}
	return claims.Subject, nil
}

func (s *Server) issueRefreshToken(email string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[token] = refreshGrant{email: email, expiresAt: s.now().Add(s.refreshTTL)}
	s.mu.Unlock()
	return token
}

// csrfTokenFor returns the user's CSRF token, minting one on first use.
func (s *Server) csrfTokenFor(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.csrfTokens[email]; ok {
		return token
	}
	token := uuid.NewString()
	s.csrfTokens[email] = token
	return token
}
