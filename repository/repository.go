/*
Package repository owns the park's four collections and keeps them persisted.

PURPOSE:
  Bootstraps Users, Actions, ShopItems and the theme selection from a
  kv.Store, substitutes built-in defaults when a collection was never saved,
  and re-persists a collection every time it changes.

STATE MACHINE:
  Uninitialized -> Ready, exactly once, at the end of Open(). Before that,
  reads and mutations return ErrNotReady without waiting on the store. No
  partially loaded state is ever observable.

PERSISTED LAYOUT:
  users      -> []points.User
  actions    -> []points.PointAction
  shop_items -> []points.ShopItem
  theme_id   -> string

MUTATIONS:
  All changes go through Mutate(). The callback runs under the write lock
  with the current collections; whatever it sets is swapped in together once
  it returns nil. If it returns an error nothing changes. A purchase sets
  users AND shop items in one callback, so both land or neither does.

PERSISTENCE:
  Each collection has its own background writer. Save() only signals it;
  the writer serialises the LATEST snapshot when it runs, so a burst of
  changes produces one write holding the final state. Failed writes are
  retried once, then logged and dropped; memory stays authoritative for the
  rest of the session. Flush() and Close() report collections whose latest
  write was dropped.

DEGRADED MODE:
  If the store cannot be opened (*kv.InitError) the repository logs it and
  continues on an in-memory store. Degraded() reports this.

SEE ALSO:
  - writer.go: Background writer loop
  - legacy.go: Import/export of whole-park dumps
  - points/: The ledger functions run inside Mutate
*/
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/kv"
	"github.com/warp/points-park/metrics"
	"github.com/warp/points-park/points"
)

// =============================================================================
// COLLECTIONS
// =============================================================================

// Collection is the logical name of a collection and its storage key.
type Collection string

const (
	Users     Collection = "users"
	Actions   Collection = "actions"
	ShopItems Collection = "shop_items"
	Theme     Collection = "theme_id"
)

// Collections lists every collection in load order.
var Collections = []Collection{Users, Actions, ShopItems, Theme}

// Snapshot is a consistent view of all four collections.
type Snapshot struct {
	Users     []points.User        `json:"users"`
	Actions   []points.PointAction `json:"actions"`
	ShopItems []points.ShopItem    `json:"shop_items"`
	ThemeID   string               `json:"theme_id"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Users:     points.CloneUsers(s.Users),
		Actions:   append([]points.PointAction{}, s.Actions...),
		ShopItems: append([]points.ShopItem{}, s.ShopItems...),
		ThemeID:   s.ThemeID,
	}
}

func (s Snapshot) encode(c Collection) (json.RawMessage, error) {
	switch c {
	case Users:
		return json.Marshal(s.Users)
	case Actions:
		return json.Marshal(s.Actions)
	case ShopItems:
		return json.Marshal(s.ShopItems)
	case Theme:
		return json.Marshal(s.ThemeID)
	}
	return nil, fmt.Errorf("unknown collection %q", c)
}

// =============================================================================
// STATE
// =============================================================================

// State is the repository lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

var (
	// ErrNotReady is returned by reads and mutations before Open completes.
	ErrNotReady = errors.New("repository not ready")

	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("repository closed")
)

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository holds the in-memory collections and their writers.
type Repository struct {
	store kv.Store
	log   *zap.Logger
	rec   metrics.Recorder

	mu       sync.RWMutex
	state    State
	opening  bool
	closed   bool
	degraded bool
	snap     Snapshot
	openOnce sync.Once

	writers map[Collection]*writer
	wg      sync.WaitGroup
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) { r.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Repository) { r.rec = rec }
}

// New creates a repository over store. Call Open before use.
func New(store kv.Store, opts ...Option) *Repository {
	r := &Repository{
		store: store,
		log:   zap.NewNop(),
		rec:   metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open initialises the store, loads every collection and moves to Ready.
// A store that cannot be opened is replaced by an in-memory one; Open itself
// only fails if the repository was closed first.
//
// The store I/O runs without holding the repository lock, so State, Snapshot
// and Mutate keep answering (Uninitialized, ErrNotReady) while it is slow.
// Concurrent calls wait for the first one.
func (r *Repository) Open(ctx context.Context) error {
	r.mu.RLock()
	closed, ready := r.closed, r.state == Ready
	r.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if ready {
		return nil
	}

	r.openOnce.Do(func() { r.load(ctx) })

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != Ready {
		return ErrClosed
	}
	return nil
}

func (r *Repository) load(ctx context.Context) {
	r.mu.Lock()
	r.opening = true
	store := r.store
	r.mu.Unlock()

	degraded := false
	if err := store.Open(ctx); err != nil {
		r.log.Error("store unavailable, continuing in memory only", zap.Error(err))
		mem := kv.NewMemory()
		_ = mem.Open(ctx)
		store = mem
		degraded = true
	}
	snap := r.loadAll(ctx, store)

	r.mu.Lock()
	r.opening = false
	if r.closed {
		r.mu.Unlock()
		_ = store.Close()
		return
	}
	r.store = store
	r.degraded = degraded
	r.snap = snap
	r.state = Ready
	r.startWriters()
	r.mu.Unlock()

	r.log.Info("repository ready",
		zap.Int("users", len(snap.Users)),
		zap.Int("actions", len(snap.Actions)),
		zap.Int("shop_items", len(snap.ShopItems)),
		zap.String("theme", snap.ThemeID),
		zap.Bool("degraded", degraded))
}

// LoadAll reads every collection from the store. Each one defaults
// independently: a failure on one key is logged and does not affect the
// others.
func (r *Repository) LoadAll(ctx context.Context) Snapshot {
	r.mu.RLock()
	store := r.store
	r.mu.RUnlock()
	return r.loadAll(ctx, store)
}

func (r *Repository) loadAll(ctx context.Context, store kv.Store) Snapshot {
	var snap Snapshot

	snap.Users = loadKey(ctx, r, store, Users, func() []points.User { return []points.User{} })
	snap.Actions = loadKey(ctx, r, store, Actions, catalog.DefaultActions)
	snap.ShopItems = loadKey(ctx, r, store, ShopItems, catalog.DefaultShopItems)
	snap.ThemeID = catalog.ResolveThemeID(loadKey(ctx, r, store, Theme, func() string { return catalog.DefaultThemeID }))

	if snap.Users == nil {
		snap.Users = []points.User{}
	}
	if snap.Actions == nil {
		snap.Actions = []points.PointAction{}
	}
	if snap.ShopItems == nil {
		snap.ShopItems = []points.ShopItem{}
	}
	return snap
}

// loadKey decodes collection c, or returns def when it is absent, null or
// unreadable.
func loadKey[T any](ctx context.Context, r *Repository, store kv.Store, c Collection, def func() T) T {
	raw, ok, err := store.Get(ctx, string(c))
	if err != nil {
		r.log.Warn("failed to load collection, using default", zap.String("collection", string(c)), zap.Error(err))
		return def()
	}
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return def()
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		r.log.Warn("corrupt collection, using default", zap.String("collection", string(c)), zap.Error(err))
		return def()
	}
	return v
}

// State returns the lifecycle state.
func (r *Repository) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Degraded reports whether the repository fell back to memory-only storage.
func (r *Repository) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

// Snapshot returns a deep copy of the current collections.
func (r *Repository) Snapshot() (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.state != Ready {
		return Snapshot{}, ErrNotReady
	}
	return r.snap.Clone(), nil
}

// =============================================================================
// MUTATION
// =============================================================================

// Tx is the mutable view handed to a Mutate callback. The slices it returns
// are shared with the committed snapshot and must not be written in place;
// build new ones (the points package does) and pass them to the setters.
type Tx struct {
	snap  Snapshot
	dirty map[Collection]bool
}

func (tx *Tx) Users() []points.User          { return tx.snap.Users }
func (tx *Tx) Actions() []points.PointAction { return tx.snap.Actions }
func (tx *Tx) ShopItems() []points.ShopItem  { return tx.snap.ShopItems }
func (tx *Tx) ThemeID() string               { return tx.snap.ThemeID }

func (tx *Tx) SetUsers(v []points.User) {
	tx.snap.Users = nonNil(v)
	tx.mark(Users)
}

func (tx *Tx) SetActions(v []points.PointAction) {
	tx.snap.Actions = nonNil(v)
	tx.mark(Actions)
}

func (tx *Tx) SetShopItems(v []points.ShopItem) {
	tx.snap.ShopItems = nonNil(v)
	tx.mark(ShopItems)
}

// SetThemeID selects a theme; unknown ids resolve to the default theme.
func (tx *Tx) SetThemeID(id string) {
	tx.snap.ThemeID = catalog.ResolveThemeID(id)
	tx.mark(Theme)
}

func (tx *Tx) mark(c Collection) {
	if tx.dirty == nil {
		tx.dirty = make(map[Collection]bool)
	}
	tx.dirty[c] = true
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Mutate runs fn against the current collections and commits whatever it
// set, atomically, if it returns nil. Changed collections are then saved.
func (r *Repository) Mutate(ctx context.Context, fn func(tx *Tx) error) error {
	r.mu.Lock()
	if r.state != Ready {
		r.mu.Unlock()
		return ErrNotReady
	}
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	tx := &Tx{snap: r.snap}
	if err := fn(tx); err != nil {
		r.mu.Unlock()
		return err
	}
	r.snap = tx.snap

	// Signalled before unlocking, so a Close that follows still drains it.
	for _, c := range Collections {
		if tx.dirty[c] {
			r.writers[c].signal()
		}
	}
	r.mu.Unlock()
	return nil
}

// Save schedules a write of collection c. It returns immediately; the write
// reflects whatever the collection holds when the writer runs.
func (r *Repository) Save(c Collection) {
	r.mu.RLock()
	w := r.writers[c]
	closed := r.closed
	r.mu.RUnlock()

	if w == nil || closed {
		return
	}
	w.signal()
}

// Flush blocks until every write scheduled so far has completed. It returns
// the errors of collections whose latest write was dropped.
func (r *Repository) Flush(ctx context.Context) error {
	r.mu.RLock()
	writers := make([]*writer, 0, len(r.writers))
	for _, c := range Collections {
		if w := r.writers[c]; w != nil {
			writers = append(writers, w)
		}
	}
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return nil
	}
	for _, w := range writers {
		if err := w.flushAndWait(ctx); err != nil {
			return err
		}
	}
	return droppedWrites(writers)
}

func droppedWrites(writers []*writer) error {
	var errs []error
	for _, w := range writers {
		if err := w.lastError(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close drains pending writes, stops the writers and closes the store. The
// error joins every dropped write that was never superseded, so a caller
// that exits right after learns what did not reach the store.
func (r *Repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	writers := make([]*writer, 0, len(r.writers))
	for _, c := range Collections {
		if w := r.writers[c]; w != nil {
			writers = append(writers, w)
		}
	}
	opening := r.opening
	store := r.store
	r.mu.Unlock()

	for _, w := range writers {
		w.stop()
	}
	r.wg.Wait()

	err := droppedWrites(writers)
	if opening {
		// load closes the store once its Open returns.
		return err
	}
	return errors.Join(err, store.Close())
}

// persist writes the current value of c, retrying once. The returned error
// means the write was dropped.
func (r *Repository) persist(ctx context.Context, c Collection) error {
	r.mu.RLock()
	value, err := r.snap.encode(c)
	store := r.store
	r.mu.RUnlock()

	if err != nil {
		r.log.Error("failed to encode collection", zap.String("collection", string(c)), zap.Error(err))
		r.rec.RecordStoreWrite(string(c), metrics.ResultDropped)
		return fmt.Errorf("failed to encode %s: %w", c, err)
	}

	err = store.Set(ctx, string(c), value)
	if err == nil {
		r.rec.RecordStoreWrite(string(c), metrics.ResultOK)
		return nil
	}

	r.log.Warn("collection write failed, retrying", zap.String("collection", string(c)), zap.Error(err))
	if err = store.Set(ctx, string(c), value); err == nil {
		r.rec.RecordStoreWrite(string(c), metrics.ResultRetried)
		return nil
	}

	r.log.Error("collection write dropped, memory remains authoritative",
		zap.String("collection", string(c)), zap.Error(err))
	r.rec.RecordStoreWrite(string(c), metrics.ResultDropped)
	return fmt.Errorf("%s write dropped: %w", c, err)
}
