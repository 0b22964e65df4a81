// Package credentials owns the client's credential set: the access, refresh
// and CSRF tokens plus the cached user identity. Values are held in memory
// inside memguard Enclaves and mirrored to a storage.Repository so they
// survive restarts.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"

	"github.com/jmcleod/honeycomb/storage"
)

// Namespace is the storage namespace holding every credential record.
const Namespace = "credentials"

const (
	keyAccess   = "access_token"
	keyRefresh  = "refresh_token"
	keyCSRF     = "csrf_token"
	keyIdentity = "user_info"
)

// ErrClearIncomplete wraps the storage failure of a ClearAll that could not
// delete every persisted record. In-memory state is wiped regardless.
var ErrClearIncomplete = errors.New("credential clear incomplete")

// Identity is the cached user profile returned at login.
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	Department  string `json:"department"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load and persistence warnings.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// Store is the process-wide credential state. It is safe for concurrent use;
// every write replaces a whole field so concurrent writers resolve as last
// write wins.
type Store struct {
	repo storage.Repository
	log  zerolog.Logger

	// writeMu orders whole writes (memory then storage) so the persisted
	// value always matches the in-memory one. mu guards the fields only.
	writeMu  sync.Mutex
	mu       sync.RWMutex
	access   *memguard.Enclave
	refresh  *memguard.Enclave
	csrf     *memguard.Enclave
	identity *Identity

	listenersMu sync.Mutex
	listeners   []func(LogoutReason)
}

// Open creates a Store over repo and loads any previously persisted
// credentials. Missing or malformed records are treated as absent.
func Open(repo storage.Repository, opts ...Option) *Store {
	s := &Store{repo: repo, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *Store) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, dst := range map[string]**memguard.Enclave{
		keyAccess:  &s.access,
		keyRefresh: &s.refresh,
		keyCSRF:    &s.csrf,
	} {
		var token string
		if !s.read(key, &token) {
			continue
		}
		*dst = seal(token)
	}

	var id Identity
	if s.read(keyIdentity, &id) {
		s.identity = &id
	}
}

// read decodes a persisted JSON value into dst and reports whether it was
// present and well formed.
func (s *Store) read(key string, dst any) bool {
	data, err := s.repo.Get(Namespace, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential record unreadable, treating as absent")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("credential record malformed, treating as absent")
		return false
	}
	return true
}

func (s *Store) write(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.repo.Put(Namespace, key, data); err != nil {
		return fmt.Errorf("persisting %s: %w", key, err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	if err := s.repo.Delete(Namespace, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// seal moves token into an Enclave. An empty token yields nil (absent).
func seal(token string) *memguard.Enclave {
	if token == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(token))
}

func unseal(e *memguard.Enclave) (string, bool) {
	if e == nil {
		return "", false
	}
	buf, err := e.Open()
	if err != nil {
		return "", false
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true
}

func (s *Store) get(field **memguard.Enclave) (string, bool) {
	s.mu.RLock()
	e := *field
	s.mu.RUnlock()
	return unseal(e)
}

func (s *Store) set(field **memguard.Enclave, key, token string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	*field = seal(token)
	s.mu.Unlock()
	if token == "" {
		return s.remove(key)
	}
	return s.write(key, token)
}

// AccessToken returns the current access token.
func (s *Store) AccessToken() (string, bool) { return s.get(&s.access) }

// RefreshToken returns the current refresh token.
func (s *Store) RefreshToken() (string, bool) { return s.get(&s.refresh) }

// CSRFToken returns the current CSRF token.
func (s *Store) CSRFToken() (string, bool) { return s.get(&s.csrf) }

// SetAccessToken replaces the access token. The in-memory value is updated
// even when persisting fails; the returned error only reports persistence.
// An empty token clears the field.
func (s *Store) SetAccessToken(token string) error { return s.set(&s.access, keyAccess, token) }

// SetRefreshToken replaces the refresh token. See SetAccessToken.
func (s *Store) SetRefreshToken(token string) error { return s.set(&s.refresh, keyRefresh, token) }

// SetCSRFToken replaces the CSRF token. See SetAccessToken.
func (s *Store) SetCSRFToken(token string) error { return s.set(&s.csrf, keyCSRF, token) }

// ClearCSRF drops only the CSRF token.
func (s *Store) ClearCSRF() error { return s.set(&s.csrf, keyCSRF, "") }

// Identity returns a copy of the cached user identity.
func (s *Store) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// SetIdentity caches the user identity.
func (s *Store) SetIdentity(id Identity) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	cp := id
	s.identity = &cp
	s.mu.Unlock()
	return s.write(keyIdentity, id)
}

// IsAuthenticated reports whether an access token is held.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access != nil
}

// ClearAll wipes every credential and the identity. In-memory state is
// always cleared; persisted records are deleted in the order access,
// identity, refresh, csrf inside one batch. A storage failure is returned
// wrapped in ErrClearIncomplete.
func (s *Store) ClearAll() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.access, s.identity, s.refresh, s.csrf = nil, nil, nil, nil
	s.mu.Unlock()

	err := s.repo.Batch(Namespace, func(tx storage.BatchTx) error {
		for _, key := range []string{keyAccess, keyIdentity, keyRefresh, keyCSRF} {
			if err := tx.Delete(key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrClearIncomplete, err)
	}
	return nil
}
