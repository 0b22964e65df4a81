// Package monitor polls the access token's remaining lifetime and forces a
// logout once it lapses. It catches idle sessions that never make a request
// and so never see a 401.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcleod/honeycomb/credentials"
)

const (
	DefaultInterval      = 60 * time.Second
	DefaultWarnThreshold = 5 * time.Minute
)

// Status is the outcome of one poll.
type Status int

const (
	StatusUnauthenticated Status = iota
	StatusOK
	StatusExpiringSoon
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusExpiringSoon:
		return "expiring_soon"
	case StatusExpired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Lifetime reports how long the access token has left.
type Lifetime interface {
	RemainingLifetime() time.Duration
}

// Credentials is the credential state the monitor can tear down.
type Credentials interface {
	IsAuthenticated() bool
	ForceLogout(reason credentials.LogoutReason) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithWarnThreshold sets the remaining lifetime under which an advisory is
// emitted.
func WithWarnThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		m.warn = d
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) {
		m.log = log
	}
}

// WithAdvisory registers fn to receive the remaining lifetime whenever it is
// below the warning threshold.
func WithAdvisory(fn func(remaining time.Duration)) Option {
	return func(m *Monitor) {
		m.advisory = fn
	}
}

// Monitor is the periodic expiry check.
type Monitor struct {
	lifetime Lifetime
	creds    Credentials
	interval time.Duration
	warn     time.Duration
	log      zerolog.Logger
	advisory func(time.Duration)

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New returns a Monitor. It does nothing until Start is called.
func New(lifetime Lifetime, creds Credentials, opts ...Option) *Monitor {
	m := &Monitor{
		lifetime: lifetime,
		creds:    creds,
		interval: DefaultInterval,
		warn:     DefaultWarnThreshold,
		log:      zerolog.Nop(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check performs one poll. A lapsed token triggers a forced logout with
// ReasonTokenLapsed. With no access token stored there is nothing to do.
func (m *Monitor) Check() Status {
	if !m.creds.IsAuthenticated() {
		return StatusUnauthenticated
	}
	remaining := m.lifetime.RemainingLifetime()
	if remaining < time.Second {
		m.log.Warn().Msg("access token lapsed, logging out")
		if err := m.creds.ForceLogout(credentials.ReasonTokenLapsed); err != nil {
			m.log.Error().Err(err).Msg("logout after token lapse incomplete")
		}
		return StatusExpired
	}
	if remaining < m.warn {
		m.log.Warn().Int64("remaining_seconds", int64(remaining/time.Second)).Msg("access token expiring soon")
		if m.advisory != nil {
			m.advisory(remaining)
		}
		return StatusExpiringSoon
	}
	return StatusOK
}

// Start launches the poll loop. It runs until Stop is called or ctx is
// done. Calling Start more than once has no effect.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Stop ends the poll loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
}
