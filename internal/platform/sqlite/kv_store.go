// Package sqlite provides a SQLite-backed implementation of store.KVStore
// for durable client state. The schema is managed with goose migrations
// embedded in the binary.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/phrazzld/scry-deck/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryDSN opens a private in-memory database. Used by tests.
const MemoryDSN = ":memory:"

// KVStore implements store.KVStore on a single SQLite table.
type KVStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure KVStore implements store.KVStore interface
var _ store.KVStore = (*KVStore)(nil)

// Open opens (or creates) the database at path and applies pending migrations.
// Pass MemoryDSN for an in-memory database.
// Any failure is wrapped in store.ErrUnavailable.
func Open(ctx context.Context, path string, logger *slog.Logger) (*KVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "sqlite_kv_store"))

	dsn := path
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %v", store.ErrUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", store.ErrUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", store.ErrUnavailable, err)
	}

	// Limit to single connection to avoid "database is locked" errors and to
	// keep an in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: setting busy timeout: %v", store.ErrUnavailable, err)
	}

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %v", store.ErrUnavailable, err)
	}

	return &KVStore{db: db, logger: logger}, nil
}

// migrate applies the embedded goose migrations.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		logger.Debug("applied migration",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration))
	}
	return nil
}

// Get implements store.KVStore.Get.
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", store.NewStoreError(key, "get", "key is empty", store.ErrInvalidKey)
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", store.NewStoreError(key, "get", "query failed", MapError(err))
	}
	return value, nil
}

// Set implements store.KVStore.Set.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return store.NewStoreError(key, "set", "key is empty", store.ErrInvalidKey)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return store.NewStoreError(key, "set", "write failed", MapError(err))
	}

	s.logger.Debug("stored value", slog.String("key", key))
	return nil
}

// Delete implements store.KVStore.Delete.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return store.NewStoreError(key, "delete", "delete failed", MapError(err))
	}
	return nil
}

// Close implements store.KVStore.Close.
func (s *KVStore) Close() error {
	return s.db.Close()
}

// MapError maps a database error to the matching store error.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", store.ErrClosed, err)
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
