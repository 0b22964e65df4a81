package mockapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowLimiter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newWindowLimiter(2, time.Minute)

	ok, _ := l.allow("a", start)
	assert.True(t, ok)
	ok, _ = l.allow("a", start.Add(time.Second))
	assert.True(t, ok)
	ok, wait := l.allow("a", start.Add(20*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait)

	ok, _ = l.allow("b", start.Add(20*time.Second))
	assert.True(t, ok, "keys are independent")

	ok, _ = l.allow("a", start.Add(time.Minute))
	assert.True(t, ok, "a new window starts")
}

func TestWindowLimiterDisabled(t *testing.T) {
	l := newWindowLimiter(0, time.Minute)
	for range 100 {
		ok, _ := l.allow("a", time.Now())
		assert.True(t, ok)
	}
}

func TestLoginRateLimiterBackoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newLoginRateLimiter()
	for range maxFailures {
		rl.recordFailure("x", now)
	}
	blocked, wait := rl.check("x", now)
	assert.True(t, blocked)
	assert.Equal(t, baseLockout, wait)

	rl.recordFailure("x", now)
	_, wait = rl.check("x", now)
	assert.Equal(t, 2*baseLockout, wait)

	rl.recordSuccess("x")
	blocked, _ = rl.check("x", now)
	assert.False(t, blocked)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "2", retryAfterString(1500*time.Millisecond))
	assert.Equal(t, "60", retryAfterString(time.Minute))
}
