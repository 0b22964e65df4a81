// Package storagetest holds the conformance suite every storage.Repository
// backend must pass.
package storagetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/honeycomb/storage"
)

// Run exercises repo against the storage.Repository contract. The
// repository must start empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, repo.Put("credentials", "access_token", []byte(`"tok-1"`)))
		got, err := repo.Get("credentials", "access_token")
		require.NoError(t, err)
		assert.Equal(t, `"tok-1"`, string(got))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, repo.Put("credentials", "csrf_token", []byte(`"a"`)))
		require.NoError(t, repo.Put("credentials", "csrf_token", []byte(`"b"`)))
		got, err := repo.Get("credentials", "csrf_token")
		require.NoError(t, err)
		assert.Equal(t, `"b"`, string(got))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get("credentials", "no-such-key")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		_, err = repo.Get("no-such-namespace", "k")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("NamespacesIsolated", func(t *testing.T) {
		require.NoError(t, repo.Put("chat", "access_token", []byte(`"other"`)))
		got, err := repo.Get("credentials", "access_token")
		require.NoError(t, err)
		assert.Equal(t, `"tok-1"`, string(got))
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Put("listing", "b", []byte("2")))
		require.NoError(t, repo.Put("listing", "a", []byte("1")))
		keys, err := repo.List("listing")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)

		keys, err = repo.List("empty-namespace")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put("credentials", "refresh_token", []byte(`"r"`)))
		require.NoError(t, repo.Delete("credentials", "refresh_token"))
		_, err := repo.Get("credentials", "refresh_token")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		assert.NoError(t, repo.Delete("credentials", "never-existed"))
		assert.NoError(t, repo.Delete("never-existed", "k"))
	})

	t.Run("BatchCommit", func(t *testing.T) {
		require.NoError(t, repo.Put("batch", "stale", []byte("x")))
		err := repo.Batch("batch", func(tx storage.BatchTx) error {
			if err := tx.Put("one", []byte("1")); err != nil {
				return err
			}
			return tx.Delete("stale")
		})
		require.NoError(t, err)

		got, err := repo.Get("batch", "one")
		require.NoError(t, err)
		assert.Equal(t, "1", string(got))
		_, err = repo.Get("batch", "stale")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("BatchRollback", func(t *testing.T) {
		require.NoError(t, repo.Put("rollback", "keep", []byte("k")))
		boom := errors.New("boom")
		err := repo.Batch("rollback", func(tx storage.BatchTx) error {
			if err := tx.Delete("keep"); err != nil {
				return err
			}
			if err := tx.Put("new", []byte("n")); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := repo.Get("rollback", "keep")
		require.NoError(t, err, "delete inside failed batch must be rolled back")
		assert.Equal(t, "k", string(got))
		_, err = repo.Get("rollback", "new")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "put inside failed batch must be rolled back")
	})

	t.Run("ValueIsolation", func(t *testing.T) {
		v := []byte("mutable")
		require.NoError(t, repo.Put("iso", "k", v))
		v[0] = 'X'
		got, err := repo.Get("iso", "k")
		require.NoError(t, err)
		assert.Equal(t, "mutable", string(got))
		got[0] = 'Y'
		again, err := repo.Get("iso", "k")
		require.NoError(t, err)
		assert.Equal(t, "mutable", string(again))
	})
}
