// Package redis implements storage.Repository on a Redis server, one hash per
// namespace.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/honeycomb/storage"
)

const defaultPrefix = "honeycomb:"

// Store implements storage.Repository backed by Redis hashes.
type Store struct {
	rdb    *goredis.Client
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository wraps an existing client. prefix namespaces the hash keys;
// an empty prefix uses "honeycomb:".
func NewRepository(rdb *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRepository(rdb, ""), nil
}

func (s *Store) hashKey(namespace string) string {
	return s.prefix + namespace
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Put(namespace, key string, value []byte) error {
	return s.rdb.HSet(context.Background(), s.hashKey(namespace), key, value).Err()
}

func (s *Store) Get(namespace, key string) ([]byte, error) {
	v, err := s.rdb.HGet(context.Background(), s.hashKey(namespace), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) Delete(namespace, key string) error {
	return s.rdb.HDel(context.Background(), s.hashKey(namespace), key).Err()
}

func (s *Store) List(namespace string) ([]string, error) {
	keys, err := s.rdb.HKeys(context.Background(), s.hashKey(namespace)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

type op struct {
	key    string
	value  []byte
	delete bool
}

type stagedTx struct {
	ops []op
}

func (tx *stagedTx) Put(key string, value []byte) error {
	tx.ops = append(tx.ops, op{key: key, value: append([]byte(nil), value...)})
	return nil
}

func (tx *stagedTx) Delete(key string) error {
	tx.ops = append(tx.ops, op{key: key, delete: true})
	return nil
}

// Batch stages writes in memory and applies them in one MULTI/EXEC block,
// so a failing fn never reaches the server.
func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	staged := &stagedTx{}
	if err := fn(staged); err != nil {
		return err
	}
	if len(staged.ops) == 0 {
		return nil
	}
	hk := s.hashKey(namespace)
	_, err := s.rdb.TxPipelined(context.Background(), func(pipe goredis.Pipeliner) error {
		for _, o := range staged.ops {
			if o.delete {
				pipe.HDel(context.Background(), hk, o.key)
			} else {
				pipe.HSet(context.Background(), hk, o.key, o.value)
			}
		}
		return nil
	})
	return err
}
