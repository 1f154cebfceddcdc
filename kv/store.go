/*
Package kv defines the durable key/value store the repository persists to.

PURPOSE:
  One generic store with string keys and opaque JSON values. The store knows
  nothing about users or shop items; the repository owns the mapping from
  collection name to key. Different implementations can use SQLite,
  PostgreSQL, or plain memory.

LIFECYCLE:
  Open():  Acquire the underlying handle. Idempotent. Must complete before
           Get/Set are trusted. Fails with *InitError.
  Get():   Returns (value, true, nil), or (nil, false, nil) when the key was
           never set. A missing key is never an error.
  Set():   Overwrites the value for a key. Fails with *WriteError.
  Close(): Releases the handle.

IMPLEMENTATIONS:
  - kv/memory.go:        In-memory, for tests and degraded mode
  - store/sqlite:        SQLite (cgo or pure-Go driver)
  - store/postgres:      PostgreSQL with versioned migrations

EXAMPLE:
  s := kv.NewMemory()
  if err := s.Open(ctx); err != nil {
      return err
  }
  raw, ok, err := s.Get(ctx, "users")

SEE ALSO:
  - repository/: The only caller
*/
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// STORE - Interface for collection persistence
// =============================================================================

// Store is a durable map from string keys to JSON values.
type Store interface {
	// Open acquires the storage handle. Calling it again is a no-op.
	Open(ctx context.Context) error

	// Get returns the stored value for key, or ok=false if it was never set.
	Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)

	// Set overwrites the value for key.
	Set(ctx context.Context, key string, value json.RawMessage) error

	// Close releases the storage handle.
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotOpen is returned by Get and Set before Open has succeeded.
var ErrNotOpen = errors.New("store not open")

// InitError means the storage could not be opened (disabled, unsupported,
// out of quota). Callers degrade to memory-only operation.
type InitError struct {
	Cause error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("store init failed: %v", e.Cause)
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// WriteError means a value could not be persisted. Callers may retry once.
type WriteError struct {
	Key   string
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write failed for key %q: %v", e.Key, e.Cause)
}

func (e *WriteError) Unwrap() error {
	return e.Cause
}
