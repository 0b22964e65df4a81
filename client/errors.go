package client

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failed logical call.
type Kind int

const (
	// KindRateLimited: the backend answered 429. Never retried automatically.
	KindRateLimited Kind = iota + 1
	// KindSecurityRejected: the CSRF token was refused (403).
	KindSecurityRejected
	// KindSessionExpired: refresh failed or the refreshed retry failed.
	// Credentials have been cleared and a forced logout signalled.
	KindSessionExpired
	// KindAPI: any other non-success status.
	KindAPI
	// KindNetworkUnavailable: the backend could not be reached at all.
	KindNetworkUnavailable
	// KindMalformedResponse: a success status with an unparsable body.
	// Dispatch never fails with it; Content.Malformed reports the condition.
	KindMalformedResponse
)

// Sentinels matched by *Error through errors.Is.
var (
	ErrRateLimited        = errors.New("rate limited")
	ErrSecurityRejected   = errors.New("security check rejected")
	ErrSessionExpired     = errors.New("session expired")
	ErrAPI                = errors.New("api error")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrMalformedResponse  = errors.New("malformed response")
)

var kindSentinels = map[Kind]error{
	KindRateLimited:        ErrRateLimited,
	KindSecurityRejected:   ErrSecurityRejected,
	KindSessionExpired:     ErrSessionExpired,
	KindAPI:                ErrAPI,
	KindNetworkUnavailable: ErrNetworkUnavailable,
	KindMalformedResponse:  ErrMalformedResponse,
}

func (k Kind) String() string {
	if err, ok := kindSentinels[k]; ok {
		return err.Error()
	}
	return "unknown"
}

// Error is returned by every dispatcher call that does not succeed.
type Error struct {
	Kind      Kind
	Method    string
	Path      string
	RequestID string
	// Status is the HTTP status that decided the outcome, 0 for transport
	// failures.
	Status int
	// RetryAfter is the verbatim Retry-After header of a 429.
	RetryAfter string
	// Message is the backend's detail text for KindAPI, otherwise guidance
	// for the user.
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Path != "" {
		fmt.Fprintf(&b, " [%s %s]", e.Method, e.Path)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's Kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// RetryAfterDelay parses RetryAfter as delta seconds or an HTTP date.
func (e *Error) RetryAfterDelay() (time.Duration, bool) {
	return parseRetryAfter(e.RetryAfter, time.Now())
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if ts, err := http.ParseTime(v); err == nil {
		d := ts.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

const (
	msgSecurityRejected = "security verification failed, please log in again"
	msgSessionExpired   = "could not renew the session, please log in again"
	msgNetwork          = "cannot reach the backend; check that the backend is running and the network is up"
)

func rateLimitMessage(retryAfter string) string {
	if retryAfter == "" {
		return "too many requests, try again later"
	}
	return "too many requests, try again in " + retryAfter + " seconds"
}
