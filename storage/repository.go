// Package storage provides the durable key/value abstraction that backs the
// credential and chat-session stores.
package storage

import "errors"

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrClosed is returned by operations on a closed repository.
	ErrClosed = errors.New("repository closed")
)

// BatchTx provides Put and Delete within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(key string, value []byte) error
	Delete(key string) error
}

// Repository is a namespaced key/value store holding opaque blobs
// (JSON documents in practice).
type Repository interface {
	Put(namespace, key string, value []byte) error
	// Get returns ErrNotFound (possibly wrapped) when the key is absent.
	Get(namespace, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(namespace, key string) error
	// List returns the keys stored in namespace in ascending order.
	List(namespace string) ([]string, error)
	// Batch runs fn inside a transaction. If fn returns an error every
	// write made through tx is discarded.
	Batch(namespace string, fn func(tx BatchTx) error) error
	Close() error
}
