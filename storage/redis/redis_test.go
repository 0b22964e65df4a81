package redis

import (
	"context"
	"os"
	"testing"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/honeycomb/storage/storagetest"
)

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("HONEYCOMB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HONEYCOMB_TEST_REDIS_ADDR not set; skipping Redis tests")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())

	// Unique prefix per run keeps the suite's "starts empty" precondition.
	s := NewRepository(rdb, "honeycomb-test-"+ulid.Make().String()+":")
	defer s.Close()
	storagetest.Run(t, s)
}
