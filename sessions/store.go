package sessions

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/jmcleod/honeycomb/storage"
)

// Namespace is the storage namespace for chat history.
const Namespace = "chat"

const (
	keySessions = "honeycomb_chat_sessions"
	keyCurrent  = "honeycomb_current_session"
)

// ErrSessionNotFound is returned when an id does not name a stored session.
var ErrSessionNotFound = errors.New("session not found")

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load and persistence warnings.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithNow overrides the clock used for timestamps and ids.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the session collection. Sessions are kept most recent first.
// Persistence failures are logged and never returned from mutations; the
// in-memory collection stays authoritative for the running process.
type Store struct {
	repo    storage.Repository
	log     zerolog.Logger
	now     func() time.Time
	entropy io.Reader

	mu       sync.Mutex
	sessions []Session
	current  string
}

// Open creates a Store over repo and loads the persisted collection.
func Open(repo storage.Repository, opts ...Option) *Store {
	s := &Store{
		repo:    repo,
		log:     zerolog.Nop(),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.LoadAll()
	return s
}

// LoadAll replaces the in-memory collection with the persisted one and
// returns a copy of it. Missing or malformed data yields an empty
// collection. A current pointer naming no loaded session is dropped.
func (s *Store) LoadAll() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	s.current = ""

	var loaded []Session
	if s.read(keySessions, &loaded) {
		s.sessions = loaded
	}

	var current string
	if s.read(keyCurrent, &current) && current != "" {
		if s.indexLocked(current) >= 0 {
			s.current = current
		} else {
			s.log.Warn().Str("session_id", current).Msg("current session pointer is dangling, dropping it")
		}
	}
	return s.snapshotLocked()
}

func (s *Store) read(key string, dst any) bool {
	data, err := s.repo.Get(Namespace, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("chat history unreadable, starting empty")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("chat history malformed, starting empty")
		return false
	}
	return true
}

// SaveAll replaces the collection with sessions and persists it.
func (s *Store) SaveAll(sessions []Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		s.sessions = append(s.sessions, sess.clone())
	}
	if s.current != "" && s.indexLocked(s.current) < 0 {
		s.current = ""
		if err := s.persistCurrentLocked(); err != nil {
			return err
		}
	}
	return s.persistSessionsLocked()
}

func (s *Store) persistSessionsLocked() error {
	sessions := s.sessions
	if sessions == nil {
		sessions = []Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}
	if err := s.repo.Put(Namespace, keySessions, data); err != nil {
		return fmt.Errorf("persisting sessions: %w", err)
	}
	return nil
}

func (s *Store) persistCurrentLocked() error {
	if s.current == "" {
		if err := s.repo.Delete(Namespace, keyCurrent); err != nil {
			return fmt.Errorf("clearing current session: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(s.current)
	if err != nil {
		return fmt.Errorf("encoding current session: %w", err)
	}
	if err := s.repo.Put(Namespace, keyCurrent, data); err != nil {
		return fmt.Errorf("persisting current session: %w", err)
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []Session {
	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.clone()
	}
	return out
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Round(0)
}

// AppendTurn adds turn to the session named by id and returns the id. An
// empty id starts a new session titled after the turn. Appending to an
// unknown id returns ErrSessionNotFound.
func (s *Store) AppendTurn(id string, turn Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.stamp()
	if id == "" {
		newID, err := ulid.New(ulid.Timestamp(now), s.entropy)
		if err != nil {
			return "", fmt.Errorf("generating session id: %w", err)
		}
		sess := Session{
			ID:        newID.String(),
			Title:     TitleFor(turn.Text),
			Turns:     []Turn{turn},
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.sessions = append([]Session{sess}, s.sessions...)
		s.logPersist(s.persistSessionsLocked())
		return sess.ID, nil
	}

	i := s.indexLocked(id)
	if i < 0 {
		return "", fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	sess := &s.sessions[i]
	if !now.After(sess.UpdatedAt) {
		now = sess.UpdatedAt.Add(time.Nanosecond)
	}
	sess.Turns = append(sess.Turns, turn)
	sess.UpdatedAt = now
	s.logPersist(s.persistSessionsLocked())
	return id, nil
}

func (s *Store) logPersist(err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("chat history not persisted")
	}
}

// SetCurrent points at the session named by id. An empty id clears the
// pointer.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && s.indexLocked(id) < 0 {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	s.current = id
	s.logPersist(s.persistCurrentLocked())
	return nil
}

// Current returns the id of the current session.
func (s *Store) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != ""
}

// List returns a copy of every session, most recent first.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns a copy of the session named by id.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Session{}, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s.sessions[i].clone(), nil
}
