// Package app wires the credential store, session store, dispatcher and
// expiry monitor over one storage repository. It owns their lifecycle:
// Open loads persisted state at start, Close releases it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcleod/honeycomb/client"
	"github.com/jmcleod/honeycomb/credentials"
	"github.com/jmcleod/honeycomb/internal/config"
	"github.com/jmcleod/honeycomb/monitor"
	"github.com/jmcleod/honeycomb/sessions"
	"github.com/jmcleod/honeycomb/storage"
)

// App is the owned client state.
type App struct {
	Config      *config.Config
	Credentials *credentials.Store
	Inspector   *credentials.Inspector
	Sessions    *sessions.Store
	Client      *client.Client
	Monitor     *monitor.Monitor

	repo storage.Repository
}

type options struct {
	log        zerolog.Logger
	httpClient *http.Client
	repo       storage.Repository
	advisory   func(remaining time.Duration)
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithHTTPClient sets the HTTP client used by the dispatcher.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithRepository uses repo instead of opening the configured backend. The
// App takes ownership and closes it.
func WithRepository(repo storage.Repository) Option {
	return func(o *options) {
		o.repo = repo
	}
}

// WithAdvisory forwards expiry advisories from the monitor.
func WithAdvisory(fn func(remaining time.Duration)) Option {
	return func(o *options) {
		o.advisory = fn
	}
}

// Open validates cfg, opens storage and loads persisted credentials and
// chat history.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	repo := o.repo
	if repo == nil {
		var err error
		repo, err = OpenRepository(ctx, cfg.Storage, cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
	}

	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.HTTP.Timeout}
	}

	creds := credentials.Open(repo, credentials.WithLogger(o.log.With().Str("component", "credentials").Logger()))
	insp := credentials.NewInspector(creds)
	chats := sessions.Open(repo, sessions.WithLogger(o.log.With().Str("component", "sessions").Logger()))
	c := client.New(cfg.BaseURL, creds,
		client.WithHTTPClient(hc),
		client.WithLogger(o.log.With().Str("component", "client").Logger()),
		client.WithEndpoints(client.Endpoints{
			APIPrefix: cfg.APIPrefix,
			Login:     cfg.LoginPath,
			Refresh:   cfg.RefreshPath,
			Health:    cfg.HealthPath,
		}),
	)
	monOpts := []monitor.Option{
		monitor.WithInterval(cfg.Expiry.PollInterval),
		monitor.WithWarnThreshold(cfg.Expiry.WarnThreshold),
		monitor.WithLogger(o.log.With().Str("component", "monitor").Logger()),
	}
	if o.advisory != nil {
		monOpts = append(monOpts, monitor.WithAdvisory(o.advisory))
	}

	return &App{
		Config:      cfg,
		Credentials: creds,
		Inspector:   insp,
		Sessions:    chats,
		Client:      c,
		Monitor:     monitor.New(insp, creds, monOpts...),
		repo:        repo,
	}, nil
}

// StartMonitor begins background expiry polling.
func (a *App) StartMonitor(ctx context.Context) {
	a.Monitor.Start(ctx)
}

// Close stops the monitor and closes storage.
func (a *App) Close() error {
	a.Monitor.Stop()
	return a.repo.Close()
}

// OnForcedLogout registers fn for every forced return to the
// unauthenticated state.
func (a *App) OnForcedLogout(fn func(credentials.LogoutReason)) {
	a.Credentials.OnForcedLogout(fn)
}

// Login authenticates and stores the credential set.
func (a *App) Login(ctx context.Context, email, password string) (*client.LoginResponse, error) {
	return a.Client.Login(ctx, email, password)
}

// Logout clears every credential. Chat history is kept.
func (a *App) Logout() error {
	return a.Credentials.ForceLogout(credentials.ReasonUserLogout)
}

// NewChat detaches from the current session; the next Chat starts a new one.
func (a *App) NewChat() error {
	return a.Sessions.SetCurrent("")
}

// Chat sends text in the current session, starting one if none is current,
// and returns the assistant's reply turn. The user turn is recorded even
// when the call fails.
func (a *App) Chat(ctx context.Context, text string) (sessions.Turn, error) {
	current, ok := a.Sessions.Current()
	var history []client.Message
	if ok {
		sess, err := a.Sessions.Get(current)
		if err != nil {
			return sessions.Turn{}, err
		}
		for _, t := range sess.Turns {
			history = append(history, client.Message{Role: string(t.Role), Content: t.Text})
		}
	}

	id, err := a.Sessions.AppendTurn(current, sessions.Turn{Role: sessions.RoleUser, Text: text})
	if err != nil {
		return sessions.Turn{}, err
	}
	if !ok {
		if err := a.Sessions.SetCurrent(id); err != nil {
			return sessions.Turn{}, err
		}
	}

	reply, err := a.Client.Chat(ctx, text, history)
	if err != nil {
		return sessions.Turn{}, err
	}
	turn := sessions.Turn{Role: sessions.RoleAssistant, Text: reply}
	if _, err := a.Sessions.AppendTurn(id, turn); err != nil {
		return sessions.Turn{}, err
	}
	return turn, nil
}
