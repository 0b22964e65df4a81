package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/honeycomb/internal/util"
)

const (
	keyringNamespace = "__keyring"
	keyringSaltKey   = "salt"
	sealedKeyInfo    = "honeycomb:storage_key:v1"
	saltLen          = 16
)

// ErrUnreadable is returned by a SealedRepository when a stored value cannot
// be decrypted.
var ErrUnreadable = errors.New("sealed record unreadable")

// ErrWrongPassphrase is returned when the passphrase does not open the
// keyring check value. Nothing is written in that case.
var ErrWrongPassphrase = errors.New("wrong storage passphrase")

const keyringCheckPlaintext = "honeycomb-keyring-check"

var keyringCheckAAD = []byte(keyringNamespace + ":check")

type keyringRecord struct {
	Salt   []byte              `json:"salt"`
	Params util.Argon2idParams `json:"params"`
	Check  *Envelope           `json:"check,omitempty"`
}

// SealedRepository encrypts every value at rest with AES-256-GCM before it
// reaches the wrapped Repository. The record key is derived from a local
// passphrase and only lives in memory inside a memguard Enclave.
type SealedRepository struct {
	inner     Repository
	key       *memguard.Enclave
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ Repository = (*SealedRepository)(nil)

// NewSealedRepository wraps inner. The Argon2id salt and a check value are
// created on first use and persisted in inner so later runs derive the same
// key and reject a different passphrase with ErrWrongPassphrase.
func NewSealedRepository(inner Repository, passphrase string) (*SealedRepository, error) {
	return newSealedRepository(inner, passphrase, util.DefaultArgon2idParams())
}

func newSealedRepository(inner Repository, passphrase string, params util.Argon2idParams) (*SealedRepository, error) {
	rec, err := loadOrCreateKeyring(inner, params)
	if err != nil {
		return nil, err
	}
	key, err := util.DeriveStorageKey(passphrase, rec.Salt, rec.Params, sealedKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving storage key: %w", err)
	}

	if rec.Check != nil {
		plain, err := OpenRecord(key, rec.Check, keyringCheckAAD)
		if err != nil || string(plain) != keyringCheckPlaintext {
			util.WipeBytes(key)
			return nil, ErrWrongPassphrase
		}
	} else {
		rec.Check, err = SealRecord(key, []byte(keyringCheckPlaintext), keyringCheckAAD)
		if err != nil {
			util.WipeBytes(key)
			return nil, err
		}
		if err := putKeyring(inner, rec); err != nil {
			util.WipeBytes(key)
			return nil, err
		}
	}
	// NewEnclave wipes key.
	return &SealedRepository{inner: inner, key: memguard.NewEnclave(key)}, nil
}

func loadOrCreateKeyring(repo Repository, params util.Argon2idParams) (*keyringRecord, error) {
	data, err := repo.Get(keyringNamespace, keyringSaltKey)
	if err == nil {
		var rec keyringRecord
		if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil && len(rec.Salt) == saltLen {
			return &rec, nil
		}
		// Corrupt keyring: the salt is gone so sealed values are lost either way.
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}

	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return nil, err
	}
	return &keyringRecord{Salt: salt, Params: params}, nil
}

func putKeyring(repo Repository, rec *keyringRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := repo.Put(keyringNamespace, keyringSaltKey, data); err != nil {
		return fmt.Errorf("persisting keyring: %w", err)
	}
	return nil
}

func aadFor(namespace, key string) []byte {
	return []byte(namespace + ":" + key)
}

func (s *SealedRepository) seal(namespace, key string, value []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening storage key: %w", err)
	}
	defer buf.Destroy()
	env, err := SealRecord(buf.Bytes(), value, aadFor(namespace, key))
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (s *SealedRepository) open(namespace, key string, data []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, ErrUnreadable)
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening storage key: %w", err)
	}
	defer buf.Destroy()
	plain, err := OpenRecord(buf.Bytes(), &env, aadFor(namespace, key))
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, ErrUnreadable)
	}
	return plain, nil
}

func (s *SealedRepository) Put(namespace, key string, value []byte) error {
	data, err := s.seal(namespace, key, value)
	if err != nil {
		return err
	}
	return s.inner.Put(namespace, key, data)
}

func (s *SealedRepository) Get(namespace, key string) ([]byte, error) {
	data, err := s.inner.Get(namespace, key)
	if err != nil {
		return nil, err
	}
	return s.open(namespace, key, data)
}

func (s *SealedRepository) Delete(namespace, key string) error {
	return s.inner.Delete(namespace, key)
}

func (s *SealedRepository) List(namespace string) ([]string, error) {
	return s.inner.List(namespace)
}

func (s *SealedRepository) Batch(namespace string, fn func(tx BatchTx) error) error {
	return s.inner.Batch(namespace, func(tx BatchTx) error {
		return fn(&sealedBatchTx{repo: s, namespace: namespace, tx: tx})
	})
}

// Close stops further sealing and closes the wrapped repository.
func (s *SealedRepository) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.inner.Close()
	})
	return err
}

type sealedBatchTx struct {
	repo      *SealedRepository
	namespace string
	tx        BatchTx
}

func (t *sealedBatchTx) Put(key string, value []byte) error {
	data, err := t.repo.seal(t.namespace, key, value)
	if err != nil {
		return err
	}
	return t.tx.Put(key, data)
}

func (t *sealedBatchTx) Delete(key string) error {
	return t.tx.Delete(key)
}
