package credentials

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the access token to inspect.
type TokenSource interface {
	AccessToken() (string, bool)
}

// Inspector reads the expiry claim of the current access token. The
// signature is not verified; the backend remains the authority on validity.
type Inspector struct {
	tokens TokenSource
	now    func() time.Time
}

// InspectorOption configures an Inspector.
type InspectorOption func(*Inspector)

// WithNow overrides the clock.
func WithNow(now func() time.Time) InspectorOption {
	return func(i *Inspector) {
		i.now = now
	}
}

// NewInspector returns an Inspector reading tokens from src.
func NewInspector(src TokenSource, opts ...InspectorOption) *Inspector {
	i := &Inspector{tokens: src, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

var (
	errNoExpiry       = errors.New("token has no exp claim")
	errMalformedToken = errors.New("malformed token")
)

// ExpiryOf decodes the exp claim of a JWT without verifying it. A token
// golang-jwt will not parse, such as one with an unregistered alg, still
// yields its expiry when the payload segment decodes.
func ExpiryOf(rawToken string) (time.Time, error) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser(jwtlib.WithPaddingAllowed()).ParseUnverified(rawToken, claims); err != nil {
		claims, err = decodePayload(rawToken)
		if err != nil {
			return time.Time{}, err
		}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errNoExpiry
	}
	return exp.Time, nil
}

// decodePayload reads the claims segment alone, in either base64 alphabet
// and with or without padding.
func decodePayload(rawToken string) (jwtlib.MapClaims, error) {
	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return nil, errMalformedToken
	}
	seg := strings.TrimRight(parts[1], "=")
	data, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(seg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedToken, err)
	}
	claims := jwtlib.MapClaims{}
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedToken, err)
	}
	return claims, nil
}

// RemainingLifetime returns how long the access token has left, floored at
// zero. An absent or undecodable token has no lifetime left.
func (i *Inspector) RemainingLifetime() time.Duration {
	token, ok := i.tokens.AccessToken()
	if !ok {
		return 0
	}
	exp, err := ExpiryOf(token)
	if err != nil {
		return 0
	}
	left := exp.Sub(i.now())
	if left < 0 {
		return 0
	}
	return left
}

// RemainingLifetimeSeconds is RemainingLifetime in whole seconds.
func (i *Inspector) RemainingLifetimeSeconds() int64 {
	return int64(i.RemainingLifetime() / time.Second)
}

// IsExpired reports whether no whole second of lifetime remains.
func (i *Inspector) IsExpired() bool {
	return i.RemainingLifetimeSeconds() == 0
}

// IsExpiringSoon reports whether less than threshold remains.
func (i *Inspector) IsExpiringSoon(threshold time.Duration) bool {
	return i.RemainingLifetimeSeconds() < int64(threshold/time.Second)
}
