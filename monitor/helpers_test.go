package monitor_test

import (
	"testing"

	"github.com/jmcleod/honeycomb/storage"
	"github.com/jmcleod/honeycomb/storage/memory"
)

func memoryRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo := memory.NewRepository()
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}
