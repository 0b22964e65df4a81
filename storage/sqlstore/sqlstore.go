// Package sqlstore implements storage.Repository on top of gorm, so the same
// kv_records table can live in SQLite (pure Go driver) or MySQL.
package sqlstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jmcleod/honeycomb/storage"
)

type record struct {
	Namespace string    `gorm:"column:namespace;type:varchar(128);primaryKey"`
	Key       string    `gorm:"column:record_key;type:varchar(191);primaryKey"`
	Value     []byte    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (record) TableName() string { return "kv_records" }

// Store implements storage.Repository backed by a gorm database.
type Store struct {
	db *gorm.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository migrates the kv_records table and returns a Store using db.
func NewRepository(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrating kv_records: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenSQLite opens (or creates) a SQLite database. dsn may be a file path or
// "file::memory:?cache=shared".
func OpenSQLite(dsn string) (*Store, error) {
	return open(sqlite.Open(dsn))
}

// OpenMySQL connects to MySQL using a go-sql-driver DSN.
func OpenMySQL(dsn string) (*Store, error) {
	return open(mysql.Open(dsn))
}

func open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return NewRepository(db)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func upsert(db *gorm.DB, namespace, key string, value []byte) error {
	rec := record{Namespace: namespace, Key: key, Value: value, UpdatedAt: time.Now()}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

func remove(db *gorm.DB, namespace, key string) error {
	return db.Where("namespace = ? AND record_key = ?", namespace, key).Delete(&record{}).Error
}

func (s *Store) Put(namespace, key string, value []byte) error {
	return upsert(s.db, namespace, key, value)
}

func (s *Store) Get(namespace, key string) ([]byte, error) {
	var rec record
	err := s.db.Where("namespace = ? AND record_key = ?", namespace, key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

func (s *Store) Delete(namespace, key string) error {
	return remove(s.db, namespace, key)
}

func (s *Store) List(namespace string) ([]string, error) {
	keys := []string{}
	err := s.db.Model(&record{}).
		Where("namespace = ?", namespace).
		Order("record_key ASC").
		Pluck("record_key", &keys).Error
	return keys, err
}

// Batch runs fn inside db.Transaction; returning an error rolls back.
func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormBatchTx{db: tx, namespace: namespace})
	})
}

type gormBatchTx struct {
	db        *gorm.DB
	namespace string
}

func (tx *gormBatchTx) Put(key string, value []byte) error {
	return upsert(tx.db, tx.namespace, key, value)
}

func (tx *gormBatchTx) Delete(key string) error {
	return remove(tx.db, tx.namespace, key)
}
