package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/kv"
	"github.com/warp/points-park/points"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// HELPERS
// =============================================================================

func openRepo(t *testing.T, store kv.Store, opts ...Option) *Repository {
	t.Helper()
	r := New(store, opts...)
	require.NoError(t, r.Open(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func openedMemory(t *testing.T) *kv.Memory {
	t.Helper()
	m := kv.NewMemory()
	require.NoError(t, m.Open(context.Background()))
	return m
}

func put(t *testing.T, m *kv.Memory, c Collection, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, m.Set(context.Background(), string(c), raw))
}

func stored[T any](t *testing.T, m *kv.Memory, c Collection) T {
	t.Helper()
	raw, ok, err := m.Get(context.Background(), string(c))
	require.NoError(t, err)
	require.True(t, ok, "collection %s was never written", c)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// failingStore never opens.
type failingStore struct{}

func (failingStore) Open(context.Context) error {
	return &kv.InitError{Cause: errors.New("quota exceeded")}
}
func (failingStore) Get(context.Context, string) (json.RawMessage, bool, error) {
	return nil, false, kv.ErrNotOpen
}
func (failingStore) Set(context.Context, string, json.RawMessage) error { return kv.ErrNotOpen }
func (failingStore) Close() error                                       { return nil }

// slowStore blocks in Open until release is closed.
type slowStore struct {
	*kv.Memory
	entered chan struct{}
	release chan struct{}
}

func newSlowStore() *slowStore {
	return &slowStore{
		Memory:  kv.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *slowStore) Open(ctx context.Context) error {
	close(s.entered)
	<-s.release
	return s.Memory.Open(ctx)
}

// within fails the test if fn does not return within a second.
func within(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("%s blocked while the store was opening", what)
	}
}

// brokenKeyStore fails reads for one key only.
type brokenKeyStore struct {
	*kv.Memory
	broken string
}

func (s brokenKeyStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if key == s.broken {
		return nil, false, errors.New("read failed")
	}
	return s.Memory.Get(ctx, key)
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

func TestOpen_EmptyStoreUsesDefaults(t *testing.T) {
	// GIVEN: A store that has never been written
	r := openRepo(t, kv.NewMemory())

	// WHEN: Reading the snapshot
	snap, err := r.Snapshot()
	require.NoError(t, err)

	// THEN: Every collection holds its built-in default
	assert.Equal(t, Ready, r.State())
	assert.False(t, r.Degraded())
	assert.Empty(t, snap.Users)
	assert.NotNil(t, snap.Users)
	assert.Equal(t, catalog.DefaultActions(), snap.Actions)
	assert.Equal(t, catalog.DefaultShopItems(), snap.ShopItems)
	assert.Equal(t, catalog.DefaultThemeID, snap.ThemeID)
}

func TestOpen_StoredValuesWin(t *testing.T) {
	// GIVEN: Persisted users and an empty persisted shop
	m := openedMemory(t)
	users := []points.User{{ID: "u1", Name: "Ana", Points: 7, History: []points.PointHistory{}}}
	put(t, m, Users, users)
	put(t, m, ShopItems, []points.ShopItem{})
	put(t, m, Theme, "emerald")

	// WHEN: Opening
	r := openRepo(t, m)
	snap, err := r.Snapshot()
	require.NoError(t, err)

	// THEN: Stored values are used, even an empty list
	assert.Equal(t, users, snap.Users)
	assert.Empty(t, snap.ShopItems)
	assert.Equal(t, catalog.DefaultActions(), snap.Actions)
	assert.Equal(t, "emerald", snap.ThemeID)
}

func TestOpen_UnknownThemeFallsBack(t *testing.T) {
	m := openedMemory(t)
	put(t, m, Theme, "does-not-exist")

	r := openRepo(t, m)
	snap, err := r.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, catalog.DefaultThemeID, snap.ThemeID)
}

func TestOpen_PartialDegradation(t *testing.T) {
	// GIVEN: Corrupt actions and an unreadable shop
	m := openedMemory(t)
	put(t, m, Users, []points.User{{ID: "u1", Name: "Ana", Points: 3}})
	require.NoError(t, m.Set(context.Background(), string(Actions), json.RawMessage(`{not json`)))
	store := brokenKeyStore{Memory: m, broken: string(ShopItems)}

	// WHEN: Opening
	r := openRepo(t, store)
	snap, err := r.Snapshot()
	require.NoError(t, err)

	// THEN: Only the failed collections default
	require.Len(t, snap.Users, 1)
	assert.Equal(t, 3, snap.Users[0].Points)
	assert.Equal(t, catalog.DefaultActions(), snap.Actions)
	assert.Equal(t, catalog.DefaultShopItems(), snap.ShopItems)
}

func TestOpen_InitErrorDegradesToMemory(t *testing.T) {
	// GIVEN: A store that cannot be opened
	r := openRepo(t, failingStore{})

	// THEN: The repository is usable and reports the degradation
	assert.Equal(t, Ready, r.State())
	assert.True(t, r.Degraded())

	err := r.Mutate(context.Background(), func(tx *Tx) error {
		tx.SetThemeID("frozen")
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.Flush(context.Background()))

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "frozen", snap.ThemeID)
}

func TestNotReady(t *testing.T) {
	r := New(kv.NewMemory())

	_, err := r.Snapshot()
	assert.ErrorIs(t, err, ErrNotReady)

	err = r.Mutate(context.Background(), func(*Tx) error { return nil })
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, Uninitialized, r.State())
}

func TestOpen_SlowStoreDoesNotBlockReaders(t *testing.T) {
	// GIVEN: A store whose Open has not returned yet
	ctx := context.Background()
	store := newSlowStore()
	r := New(store)
	opened := make(chan error, 1)
	go func() { opened <- r.Open(ctx) }()
	<-store.entered

	// WHEN: Reading and mutating meanwhile
	// THEN: Every call answers at once with the not-ready state
	within(t, "State", func() { assert.Equal(t, Uninitialized, r.State()) })
	within(t, "Snapshot", func() {
		_, err := r.Snapshot()
		assert.ErrorIs(t, err, ErrNotReady)
	})
	within(t, "Mutate", func() {
		assert.ErrorIs(t, r.Mutate(ctx, func(*Tx) error { return nil }), ErrNotReady)
	})
	within(t, "Degraded", func() { assert.False(t, r.Degraded()) })

	// AND: Once the store opens the repository becomes Ready
	close(store.release)
	require.NoError(t, <-opened)
	assert.Equal(t, Ready, r.State())
	require.NoError(t, r.Close())
}

func TestClose_WhileOpening(t *testing.T) {
	// GIVEN: A store whose Open has not returned yet
	store := newSlowStore()
	r := New(store)
	opened := make(chan error, 1)
	go func() { opened <- r.Open(context.Background()) }()
	<-store.entered

	// WHEN: Closing before the load finishes
	within(t, "Close", func() { assert.NoError(t, r.Close()) })
	close(store.release)

	// THEN: Open reports the close and the repository never becomes Ready
	assert.ErrorIs(t, <-opened, ErrClosed)
	assert.Equal(t, Uninitialized, r.State())
	_, _, err := store.Get(context.Background(), string(Users))
	assert.ErrorIs(t, err, kv.ErrNotOpen, "store left open")
}

func TestOpen_NullCollectionUsesDefaults(t *testing.T) {
	// GIVEN: Collections persisted as JSON null
	m := openedMemory(t)
	for _, c := range Collections {
		require.NoError(t, m.Set(context.Background(), string(c), json.RawMessage(`null`)))
	}

	// WHEN: Opening
	r := openRepo(t, m)
	snap, err := r.Snapshot()
	require.NoError(t, err)

	// THEN: null counts as never saved
	assert.Equal(t, catalog.DefaultActions(), snap.Actions)
	assert.Equal(t, catalog.DefaultShopItems(), snap.ShopItems)
	assert.Equal(t, catalog.DefaultThemeID, snap.ThemeID)
	assert.NotNil(t, snap.Users)
	assert.Empty(t, snap.Users)
}

func TestOpen_Idempotent(t *testing.T) {
	r := openRepo(t, kv.NewMemory())
	require.NoError(t, r.Open(context.Background()))
	assert.Equal(t, Ready, r.State())
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestReload_IsIdempotent(t *testing.T) {
	// GIVEN: A repository that applied a few changes and flushed
	ctx := context.Background()
	m := openedMemory(t)
	r := New(m)
	require.NoError(t, r.Open(ctx))

	engine := points.NewEngine()
	err := r.Mutate(ctx, func(tx *Tx) error {
		u, err := engine.CreateUser("Ana", "")
		if err != nil {
			return err
		}
		u = engine.ApplyAction(u, tx.Actions()[0])
		tx.SetUsers(append(tx.Users(), u))
		tx.SetThemeID("inferno")
		return nil
	})
	require.NoError(t, err)
	before, err := r.Snapshot()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// WHEN: A fresh repository loads the same store
	require.NoError(t, m.Open(ctx))
	again := openRepo(t, m)
	after, err := again.Snapshot()
	require.NoError(t, err)

	// THEN: The state is identical
	assert.Empty(t, cmp.Diff(before, after))
}

func TestPurchase_LandsAtomically(t *testing.T) {
	// GIVEN: A user who can afford the potion
	ctx := context.Background()
	m := openedMemory(t)
	put(t, m, Users, []points.User{{ID: "u1", Name: "Ana", Points: 150}})
	r := openRepo(t, m)
	engine := points.NewEngine()

	// WHEN: Buying it through one mutation
	err := r.Mutate(ctx, func(tx *Tx) error {
		users, items, err := engine.PurchaseFrom(tx.Users(), tx.ShopItems(), "u1", "s1")
		if err != nil {
			return err
		}
		tx.SetUsers(users)
		tx.SetShopItems(items)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.Flush(ctx))

	// THEN: Both collections are persisted with the purchase applied
	users := stored[[]points.User](t, m, Users)
	items := stored[[]points.ShopItem](t, m, ShopItems)
	assert.Equal(t, 50, users[0].Points)
	assert.Equal(t, 4, items[0].Stock)
}

func TestMutate_ErrorChangesNothing(t *testing.T) {
	// GIVEN: A user who cannot afford the sword
	ctx := context.Background()
	m := openedMemory(t)
	put(t, m, Users, []points.User{{ID: "u1", Name: "Ana", Points: 10}})
	r := openRepo(t, m)
	before, err := r.Snapshot()
	require.NoError(t, err)

	// WHEN: The purchase is refused
	err = r.Mutate(ctx, func(tx *Tx) error {
		users, items, err := points.NewEngine().PurchaseFrom(tx.Users(), tx.ShopItems(), "u1", "s2")
		if err != nil {
			return err
		}
		tx.SetUsers(users)
		tx.SetShopItems(items)
		return nil
	})

	// THEN: The refusal surfaces and no collection changed or was written
	assert.ErrorIs(t, err, points.ErrInsufficientPoints)
	require.NoError(t, r.Flush(ctx))
	after, err := r.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after))
	assert.Equal(t, 1, m.Writes(string(Users)))
	assert.Equal(t, 0, m.Writes(string(ShopItems)))
}

func TestSave_RetriesOnce(t *testing.T) {
	// GIVEN: A store whose next users write fails once
	ctx := context.Background()
	m := openedMemory(t)
	r := openRepo(t, m)
	m.FailNextWrites(string(Users), 1)

	// WHEN: Users change
	err := r.Mutate(ctx, func(tx *Tx) error {
		tx.SetUsers([]points.User{{ID: "u1", Name: "Ana"}})
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.Flush(ctx))

	// THEN: The retry landed
	users := stored[[]points.User](t, m, Users)
	assert.Len(t, users, 1)
}

func TestSave_DropsAfterSecondFailure(t *testing.T) {
	// GIVEN: A store whose next two users writes fail
	ctx := context.Background()
	m := openedMemory(t)
	r := openRepo(t, m)
	m.FailNextWrites(string(Users), 2)

	// WHEN: Users change
	err := r.Mutate(ctx, func(tx *Tx) error {
		tx.SetUsers([]points.User{{ID: "u1", Name: "Ana"}})
		return nil
	})
	require.NoError(t, err)
	flushErr := r.Flush(ctx)

	// THEN: Flush reports the drop, nothing was persisted, memory keeps the change
	var writeErr *kv.WriteError
	require.ErrorAs(t, flushErr, &writeErr)
	assert.Equal(t, string(Users), writeErr.Key)

	_, ok, err := m.Get(ctx, string(Users))
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Users, 1)
}

func TestSave_BurstPersistsLatest(t *testing.T) {
	// GIVEN: An open repository
	ctx := context.Background()
	m := openedMemory(t)
	r := openRepo(t, m)

	// WHEN: Many changes happen back to back
	const n = 100
	for i := 1; i <= n; i++ {
		err := r.Mutate(ctx, func(tx *Tx) error {
			tx.SetUsers([]points.User{{ID: "u1", Name: "Ana", Points: i}})
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, r.Flush(ctx))

	// THEN: The last write holds the final state and bursts were coalesced
	users := stored[[]points.User](t, m, Users)
	assert.Equal(t, n, users[0].Points)
	assert.LessOrEqual(t, m.Writes(string(Users)), n)
}

func TestClose_FlushesPendingWrites(t *testing.T) {
	ctx := context.Background()
	m := openedMemory(t)
	r := New(m)
	require.NoError(t, r.Open(ctx))

	require.NoError(t, r.Mutate(ctx, func(tx *Tx) error {
		tx.SetThemeID("frozen")
		return nil
	}))
	require.NoError(t, r.Close())

	// Close also closed the memory store; reopen it to inspect.
	require.NoError(t, m.Open(ctx))
	assert.Equal(t, "frozen", stored[string](t, m, Theme))

	err := r.Mutate(ctx, func(*Tx) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, r.Close())
}

func TestClose_ReportsDroppedWrites(t *testing.T) {
	// GIVEN: A users write that will fail twice
	ctx := context.Background()
	m := openedMemory(t)
	r := New(m)
	require.NoError(t, r.Open(ctx))
	m.FailNextWrites(string(Users), 2)

	require.NoError(t, r.Mutate(ctx, func(tx *Tx) error {
		tx.SetUsers([]points.User{{ID: "u1", Name: "Ana"}})
		return nil
	}))

	// WHEN: Closing straight away
	err := r.Close()

	// THEN: The dropped write surfaces
	var writeErr *kv.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, string(Users), writeErr.Key)
}

func TestSave_LaterSuccessClearsDrop(t *testing.T) {
	ctx := context.Background()
	m := openedMemory(t)
	r := openRepo(t, m)
	m.FailNextWrites(string(Users), 2)

	setUsers := func(n int) {
		require.NoError(t, r.Mutate(ctx, func(tx *Tx) error {
			tx.SetUsers([]points.User{{ID: "u1", Name: "Ana", Points: n}})
			return nil
		}))
	}
	setUsers(1)
	require.Error(t, r.Flush(ctx))

	setUsers(2)
	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, 2, stored[[]points.User](t, m, Users)[0].Points)
}

func TestMutate_RacingCloseStillPersists(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		// GIVEN: An open repository
		m := openedMemory(t)
		r := New(m)
		require.NoError(t, r.Open(ctx))

		// WHEN: A mutation and Close race
		var (
			wg        sync.WaitGroup
			mutateErr error
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			mutateErr = r.Mutate(ctx, func(tx *Tx) error {
				tx.SetThemeID("sakura")
				return nil
			})
		}()
		require.NoError(t, r.Close())
		wg.Wait()

		// THEN: A mutation that reported success reached the store
		if mutateErr != nil {
			require.ErrorIs(t, mutateErr, ErrClosed)
			continue
		}
		require.NoError(t, m.Open(ctx))
		assert.Equal(t, "sakura", stored[string](t, m, Theme), "iteration %d", i)
	}
}

// =============================================================================
// LEGACY
// =============================================================================

func TestImportLegacy_BrowserDump(t *testing.T) {
	// GIVEN: A dump in the old localStorage shape, values as JSON strings
	ctx := context.Background()
	m := openedMemory(t)
	r := openRepo(t, m)
	dump := `{
		"fp_users": "[{\"id\":\"u1\",\"name\":\"Ana\",\"avatar\":\"\",\"points\":40,\"history\":[]}]",
		"fp_shop": [{"id":"s9","name":"Kite","cost":30,"icon":"🪁","stock":2}],
		"fp_theme_id": "emerald",
		"fp_unknown": "x",
		"fp_actions": "not json"
	}`

	// WHEN: Importing
	report, err := r.ImportLegacy(ctx, strings.NewReader(dump))
	require.NoError(t, err)
	require.NoError(t, r.Flush(ctx))

	// THEN: Decodable keys replaced their collections, the rest were skipped
	assert.ElementsMatch(t, []Collection{Users, ShopItems, Theme}, report.Imported)
	assert.Contains(t, report.Skipped, "fp_unknown")
	assert.Contains(t, report.Skipped, "fp_actions")

	snap, err := r.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, 40, snap.Users[0].Points)
	assert.Equal(t, "Kite", snap.ShopItems[0].Name)
	assert.Equal(t, "emerald", snap.ThemeID)
	assert.Equal(t, catalog.DefaultActions(), snap.Actions)

	assert.Equal(t, "emerald", stored[string](t, m, Theme))
}

func TestImportLegacy_DroppedWriteFails(t *testing.T) {
	// GIVEN: A store that will drop the users write
	ctx := context.Background()
	m := openedMemory(t)
	r := openRepo(t, m)
	m.FailNextWrites(string(Users), 2)

	// WHEN: Importing users
	report, err := r.ImportLegacy(ctx, strings.NewReader(`{"fp_users": [{"id":"u1","name":"Ana","points":5}]}`))

	// THEN: The import fails instead of claiming success
	var writeErr *kv.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, []Collection{Users}, report.Imported)
	_, ok, getErr := m.Get(ctx, string(Users))
	require.NoError(t, getErr)
	assert.False(t, ok)
}

func TestExport_RoundTrips(t *testing.T) {
	ctx := context.Background()
	src := openRepo(t, kv.NewMemory())
	require.NoError(t, src.Mutate(ctx, func(tx *Tx) error {
		tx.SetUsers([]points.User{{ID: "u1", Name: "Ana", Points: 12, History: []points.PointHistory{}}})
		tx.SetThemeID("frozen")
		return nil
	}))

	data, err := src.Export()
	require.NoError(t, err)

	dst := openRepo(t, kv.NewMemory())
	_, err = dst.ImportLegacy(ctx, strings.NewReader(string(data)))
	require.NoError(t, err)

	want, err := src.Snapshot()
	require.NoError(t, err)
	got, err := dst.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))
}
