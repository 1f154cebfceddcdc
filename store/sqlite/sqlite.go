/*
Package sqlite provides a SQLite-backed implementation of kv.Store.

PURPOSE:
  Persists the park's collections in a single SQLite table, one row per
  collection key. This is the default storage for a single household: one
  file on disk, no server.

DRIVERS:
  DriverCGO  ("sqlite3"): github.com/mattn/go-sqlite3, needs cgo
  DriverPure ("sqlite"):  modernc.org/sqlite, pure Go, no cgo toolchain
  Both are registered; the caller picks one by name.

KEY TABLES:
  app_collections: key TEXT PRIMARY KEY, value_json TEXT, updated_at TEXT

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, so
  writes to one key are applied in the order they were issued.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store := sqlite.New("./points.db", sqlite.DriverCGO)
  if err := store.Open(ctx); err != nil {
      // *kv.InitError: degrade to memory
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on Open() with CREATE TABLE IF NOT EXISTS.

SEE ALSO:
  - kv/store.go: Interface definition
  - kv/memory.go: In-memory implementation
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/warp/points-park/kv"
)

const (
	DriverCGO  = "sqlite3"
	DriverPure = "sqlite"
)

// Store implements kv.Store using SQLite.
type Store struct {
	path   string
	driver string

	mu sync.RWMutex
	db *sql.DB
}

var _ kv.Store = (*Store)(nil)

// New creates a store for the given database path. Nothing is opened until
// Open is called. Use ":memory:" for an in-memory database.
func New(path, driver string) *Store {
	if driver == "" {
		driver = DriverCGO
	}
	return &Store{path: path, driver: driver}
}

// Open opens the database and creates the schema. Idempotent.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.driver, dsn(s.path, s.driver))
	if err != nil {
		return &kv.InitError{Cause: fmt.Errorf("failed to open database: %w", err)}
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &kv.InitError{Cause: fmt.Errorf("failed to reach database: %w", err)}
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return &kv.InitError{Cause: fmt.Errorf("failed to migrate database: %w", err)}
	}

	s.db = db
	return nil
}

func dsn(path, driver string) string {
	if driver == DriverPure {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return "file:" + path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}

// migrate creates the database schema.
func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	-- One row per collection key, value is the full JSON snapshot
	CREATE TABLE IF NOT EXISTS app_collections (
		key TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// =============================================================================
// KEY/VALUE OPERATIONS (kv.Store interface)
// =============================================================================

// Get returns the stored value for key.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, false, kv.ErrNotOpen
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value_json FROM app_collections WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return json.RawMessage(value), true, nil
}

// Set overwrites the value for key.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return kv.ErrNotOpen
	}

	query := `
		INSERT INTO app_collections (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		key,
		string(value),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &kv.WriteError{Key: key, Cause: err}
	}
	return nil
}

// UpdatedAt returns when key was last written, or the zero time if never.
func (s *Store) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return time.Time{}, kv.ErrNotOpen
	}

	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT updated_at FROM app_collections WHERE key = ?", key,
	).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse updated_at of key %q: %w", key, err)
	}
	return t, nil
}
