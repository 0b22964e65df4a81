package mockapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// windowLimiter allows limit calls per key in each fixed window.
type windowLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*windowState
}

type windowState struct {
	start time.Time
	count int
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{limit: limit, window: window, windows: make(map[string]*windowState)}
}

// allow reports whether the call may proceed and, if not, how long until the
// window resets.
func (l *windowLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.windows[key]
	if !ok || now.Sub(st.start) >= l.window {
		st = &windowState{start: now}
		l.windows[key] = st
	}
	if st.count >= l.limit {
		return false, st.start.Add(l.window).Sub(now)
	}
	st.count++
	return true, 0
}

// loginRateLimiter tracks failed logins per email and locks the account out
// with exponential backoff once maxFailures is reached.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	maxFailures   = 5
	baseLockout   = 1 * time.Minute
	maxLockout    = 15 * time.Minute
	attemptExpiry = 1 * time.Hour
)

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{attempts: make(map[string]*attemptRecord)}
}

func (rl *loginRateLimiter) check(email string, now time.Time) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[email]
	if !ok {
		return false, 0
	}
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, email)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *loginRateLimiter) recordFailure(email string, now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[email]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[email] = rec
	}
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= maxFailures {
		lockout := baseLockout
		for i := 0; i < rec.failures-maxFailures; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *loginRateLimiter) recordSuccess(email string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, email)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
}

func retryAfterString(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
