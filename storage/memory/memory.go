// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/honeycomb/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing and for sessions that must not touch disk.
type Repository struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	closed bool
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Repository) Put(namespace, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return storage.ErrClosed
	}
	r.putLocked(namespace, key, value)
	return nil
}

func (r *Repository) putLocked(namespace, key string, value []byte) {
	if _, ok := r.data[namespace]; !ok {
		r.data[namespace] = make(map[string][]byte)
	}
	r.data[namespace][key] = clone(value)
}

func (r *Repository) Get(namespace, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, storage.ErrClosed
	}
	v, ok := r.data[namespace][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, storage.ErrNotFound)
	}
	return clone(v), nil
}

func (r *Repository) Delete(namespace, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return storage.ErrClosed
	}
	delete(r.data[namespace], key)
	return nil
}

func (r *Repository) List(namespace string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, storage.ErrClosed
	}
	keys := make([]string, 0, len(r.data[namespace]))
	for k := range r.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return storage.ErrClosed
	}

	snapshot := r.snapshot(namespace)
	if err := fn(&memoryBatchTx{repo: r, namespace: namespace}); err != nil {
		r.restore(namespace, snapshot)
		return err
	}
	return nil
}

func (r *Repository) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Repository) snapshot(namespace string) map[string][]byte {
	original, ok := r.data[namespace]
	if !ok {
		return nil
	}
	cp := make(map[string][]byte, len(original))
	for k, v := range original {
		cp[k] = clone(v)
	}
	return cp
}

func (r *Repository) restore(namespace string, snapshot map[string][]byte) {
	if snapshot == nil {
		delete(r.data, namespace)
	} else {
		r.data[namespace] = snapshot
	}
}

type memoryBatchTx struct {
	repo      *Repository
	namespace string
}

func (tx *memoryBatchTx) Put(key string, value []byte) error {
	tx.repo.putLocked(tx.namespace, key, value)
	return nil
}

func (tx *memoryBatchTx) Delete(key string) error {
	delete(tx.repo.data[tx.namespace], key)
	return nil
}
