package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jmcleod/honeycomb/internal/config"
	"github.com/jmcleod/honeycomb/storage"
	"github.com/jmcleod/honeycomb/storage/bbolt"
	"github.com/jmcleod/honeycomb/storage/memory"
	"github.com/jmcleod/honeycomb/storage/postgres"
	"github.com/jmcleod/honeycomb/storage/redis"
	"github.com/jmcleod/honeycomb/storage/sqlstore"
)

const (
	boltFileName   = "honeycomb.db"
	sqliteFileName = "honeycomb.sqlite"
)

// OpenRepository opens the backend named by cfg.Driver. File-backed
// drivers keep their data under dataDir. When cfg.Passphrase is set the
// repository is wrapped so every value is sealed at rest.
func OpenRepository(ctx context.Context, cfg config.StorageConfig, dataDir string) (storage.Repository, error) {
	repo, err := openBackend(ctx, cfg, dataDir)
	if err != nil {
		return nil, err
	}
	if cfg.Passphrase == "" {
		return repo, nil
	}
	sealed, err := storage.NewSealedRepository(repo, cfg.Passphrase)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("sealing storage: %w", err)
	}
	return sealed, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig, dataDir string) (storage.Repository, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewRepository(), nil
	case config.DriverBBolt, "":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return bbolt.NewRepositoryFromFile(filepath.Join(dataDir, boltFileName), &bolt.Options{Timeout: time.Second})
	case config.DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return nil, fmt.Errorf("creating data dir: %w", err)
			}
			dsn = filepath.Join(dataDir, sqliteFileName)
		}
		return sqlstore.OpenSQLite(dsn)
	case config.DriverMySQL:
		return sqlstore.OpenMySQL(cfg.DSN)
	case config.DriverPostgres:
		return postgres.NewRepositoryFromDSN(ctx, cfg.DSN)
	case config.DriverRedis:
		return redis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
