package monitor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/honeycomb/credentials"
	"github.com/jmcleod/honeycomb/monitor"
)

type fakeLifetime struct {
	mu   sync.Mutex
	left time.Duration
}

func (f *fakeLifetime) RemainingLifetime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.left
}

func (f *fakeLifetime) set(d time.Duration) {
	f.mu.Lock()
	f.left = d
	f.mu.Unlock()
}

type fakeCreds struct {
	authenticated atomic.Bool
	logouts       atomic.Int32
	lastReason    atomic.Value
}

func (f *fakeCreds) IsAuthenticated() bool { return f.authenticated.Load() }

func (f *fakeCreds) ForceLogout(reason credentials.LogoutReason) error {
	f.authenticated.Store(false)
	f.logouts.Add(1)
	f.lastReason.Store(reason)
	return nil
}

func newCreds(authenticated bool) *fakeCreds {
	c := &fakeCreds{}
	c.authenticated.Store(authenticated)
	return c
}

func TestCheckStatuses(t *testing.T) {
	var advised []time.Duration
	lt := &fakeLifetime{left: time.Hour}
	creds := newCreds(true)
	m := monitor.New(lt, creds,
		monitor.WithWarnThreshold(5*time.Minute),
		monitor.WithAdvisory(func(d time.Duration) { advised = append(advised, d) }))

	assert.Equal(t, monitor.StatusOK, m.Check())
	assert.Empty(t, advised)

	lt.set(4 * time.Minute)
	assert.Equal(t, monitor.StatusExpiringSoon, m.Check())
	assert.Equal(t, []time.Duration{4 * time.Minute}, advised)
	assert.Equal(t, int32(0), creds.logouts.Load(), "an advisory never interrupts the user")

	lt.set(0)
	assert.Equal(t, monitor.StatusExpired, m.Check())
	assert.Equal(t, int32(1), creds.logouts.Load())
	assert.Equal(t, credentials.ReasonTokenLapsed, creds.lastReason.Load())

	// Already logged out: nothing left to do.
	assert.Equal(t, monitor.StatusUnauthenticated, m.Check())
	assert.Equal(t, int32(1), creds.logouts.Load())
}

func TestCheckSubSecondCountsAsExpired(t *testing.T) {
	creds := newCreds(true)
	m := monitor.New(&fakeLifetime{left: 900 * time.Millisecond}, creds)
	assert.Equal(t, monitor.StatusExpired, m.Check())
}

func TestStartPollsUntilStop(t *testing.T) {
	lt := &fakeLifetime{left: time.Hour}
	creds := newCreds(true)
	m := monitor.New(lt, creds, monitor.WithInterval(10*time.Millisecond))
	m.Start(t.Context())

	lt.set(0)
	require.Eventually(t, func() bool { return creds.logouts.Load() == 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestStartStopsWithContext(t *testing.T) {
	creds := newCreds(true)
	m := monitor.New(&fakeLifetime{left: time.Hour}, creds, monitor.WithInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestStopWithoutStart(t *testing.T) {
	m := monitor.New(&fakeLifetime{}, newCreds(false))
	m.Stop()
}

func TestWithRealInspector(t *testing.T) {
	// A stored access token that is not a JWT decodes to no lifetime.
	store := credentials.Open(memoryRepo(t))
	require.NoError(t, store.SetAccessToken("opaque"))
	insp := credentials.NewInspector(store)

	m := monitor.New(insp, store)
	assert.Equal(t, monitor.StatusExpired, m.Check())
	assert.False(t, store.IsAuthenticated())
}
