package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-park/advice"
	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/cue"
	"github.com/warp/points-park/kv"
	"github.com/warp/points-park/metrics"
	"github.com/warp/points-park/points"
	"github.com/warp/points-park/repository"
)

// =============================================================================
// HELPERS
// =============================================================================

type fixture struct {
	park  *Park
	repo  *repository.Repository
	store *kv.Memory
	cues  *cue.Recorder
	reg   *prometheus.Registry
}

func sequentialEngine() *points.Engine {
	n := 0
	clock := time.UnixMilli(1_700_000_000_000)
	return &points.Engine{
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
		Now: func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		},
	}
}

// newFixture opens a park over a memory store seeded with users and items.
// Nil slices keep the built-in defaults.
func newFixture(t *testing.T, users []points.User, items []points.ShopItem, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	store := kv.NewMemory()
	require.NoError(t, store.Open(ctx))
	seed := func(key string, v any) {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, key, raw))
	}
	if users != nil {
		seed(string(repository.Users), users)
	}
	if items != nil {
		seed(string(repository.ShopItems), items)
	}

	reg := prometheus.NewRegistry()
	rec := metrics.NewCollector(reg)
	repo := repository.New(store, repository.WithRecorder(rec))
	require.NoError(t, repo.Open(ctx))
	t.Cleanup(func() { _ = repo.Close() })

	cues := &cue.Recorder{}
	all := append([]Option{
		WithEngine(sequentialEngine()),
		WithCues(cues),
		WithRecorder(rec),
		WithAdminPassword("123456"),
	}, opts...)

	return &fixture{
		park:  New(repo, all...),
		repo:  repo,
		store: store,
		cues:  cues,
		reg:   reg,
	}
}

func user(id string, pts int) points.User {
	return points.User{ID: id, Name: "user " + id, Points: pts, History: []points.PointHistory{}}
}

// =============================================================================
// LEDGER SCENARIOS
// =============================================================================

func TestApplyAction_DeductionClampsAtZero(t *testing.T) {
	// GIVEN: A user with 5 points and a rule that deducts 10
	f := newFixture(t, []points.User{user("u1", 5)}, nil)
	ctx := context.Background()
	rule, err := f.park.UpsertAction(ctx, points.PointAction{Name: "Broke a vase", Points: 10, Type: points.ActionSubtract, Icon: "🏺"})
	require.NoError(t, err)

	// WHEN: The rule is applied
	res, err := f.park.ApplyAction(ctx, "u1", rule.ID)
	require.NoError(t, err)

	// THEN: The balance floors at zero and the log keeps the full delta
	assert.Equal(t, 0, res.User.Points)
	require.Len(t, res.User.History, 1)
	assert.Equal(t, -10, res.User.History[0].Points)
	assert.Equal(t, "Broke a vase", res.User.History[0].ActionName)
	assert.Equal(t, cue.Fail, res.Cue)
	assert.Equal(t, []cue.Cue{cue.Fail}, f.cues.Played())
}

func TestApplyAction_AddPlaysCoin(t *testing.T) {
	f := newFixture(t, []points.User{user("u1", 0)}, nil)

	res, err := f.park.ApplyAction(context.Background(), "u1", "1")
	require.NoError(t, err)

	assert.Equal(t, 10, res.User.Points)
	assert.Equal(t, cue.Coin, res.Cue)
	expected := `
# HELP points_actions_applied_total Point rules applied to users, by rule type.
# TYPE points_actions_applied_total counter
points_actions_applied_total{type="ADD"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "points_actions_applied_total"))
}

func TestApplyAction_NotFound(t *testing.T) {
	f := newFixture(t, []points.User{user("u1", 0)}, nil)
	ctx := context.Background()

	_, err := f.park.ApplyAction(ctx, "u1", "missing")
	assert.ErrorIs(t, err, points.ErrActionNotFound)

	_, err = f.park.ApplyAction(ctx, "nobody", "1")
	assert.ErrorIs(t, err, points.ErrUserNotFound)
	assert.Empty(t, f.cues.Played())
}

func TestPurchase_InsufficientPoints(t *testing.T) {
	// GIVEN: 100 points and an item costing 150 with 3 in stock
	f := newFixture(t,
		[]points.User{user("u1", 100)},
		[]points.ShopItem{{ID: "i1", Name: "Kite", Cost: 150, Icon: "🪁", Stock: 3}})

	// WHEN: Buying it
	_, err := f.park.Purchase(context.Background(), "u1", "i1")

	// THEN: The purchase is refused and nothing changed
	var refusal *points.PurchaseError
	require.True(t, errors.As(err, &refusal))
	assert.Equal(t, points.ReasonInsufficientPoints, refusal.Reason)

	snap, err := f.repo.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 100, snap.Users[0].Points)
	assert.Equal(t, 3, snap.ShopItems[0].Stock)
	assert.Empty(t, snap.Users[0].History)
	assert.Equal(t, []cue.Cue{cue.Fail}, f.cues.Played())
}

func TestPurchase_OutOfStock(t *testing.T) {
	f := newFixture(t,
		[]points.User{user("u1", 200)},
		[]points.ShopItem{{ID: "i1", Name: "Kite", Cost: 50, Icon: "🪁", Stock: 0}})

	_, err := f.park.Purchase(context.Background(), "u1", "i1")

	assert.ErrorIs(t, err, points.ErrOutOfStock)
	expected := `
# HELP points_purchases_total Shop purchases, by outcome.
# TYPE points_purchases_total counter
points_purchases_total{result="out_of_stock"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "points_purchases_total"))
}

func TestPurchase_Success(t *testing.T) {
	// GIVEN: 200 points and an item costing 50 with 2 in stock
	f := newFixture(t,
		[]points.User{user("u1", 200)},
		[]points.ShopItem{{ID: "i1", Name: "Kite", Cost: 50, Icon: "🪁", Stock: 2}})
	ctx := context.Background()

	// WHEN: Buying it
	res, err := f.park.Purchase(ctx, "u1", "i1")
	require.NoError(t, err)

	// THEN: Balance, stock and history move together
	assert.Equal(t, 150, res.User.Points)
	assert.Equal(t, 1, res.Item.Stock)
	require.Len(t, res.User.History, 1)
	assert.Equal(t, -50, res.User.History[0].Points)
	assert.Equal(t, "i1", res.User.History[0].ActionID)
	assert.Equal(t, points.PurchaseDescription("Kite"), res.User.History[0].ActionName)
	assert.Equal(t, cue.Magic, res.Cue)

	// AND: Both collections reach the store
	require.NoError(t, f.repo.Flush(ctx))
	raw, ok, err := f.store.Get(ctx, string(repository.ShopItems))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"stock":1`)
}

// =============================================================================
// PARTICIPANTS
// =============================================================================

func TestCreateRenameDeleteUser(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	u, err := f.park.CreateUser(ctx, "  Ana ", "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.Name)
	assert.Equal(t, points.DefaultAvatarURL+"Ana", u.Avatar)

	renamed, err := f.park.RenameUser(ctx, u.ID, "Ana Maria")
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", renamed.Name)

	require.NoError(t, f.park.DeleteUser(ctx, u.ID))
	_, err = f.park.User(u.ID)
	assert.ErrorIs(t, err, points.ErrUserNotFound)
}

func TestCreateUser_Validation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.park.CreateUser(ctx, "   ", "")
	assert.True(t, points.IsValidation(err))

	_, err = f.park.CreateUser(ctx, "Ana", "this is not an icon at all, far too long")
	assert.True(t, points.IsValidation(err))

	users, err := f.park.Users()
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t, []points.User{user("a", 10), user("b", 30), user("c", 20)}, nil)

	board, err := f.park.Leaderboard()
	require.NoError(t, err)

	ids := make([]string, len(board))
	for i, u := range board {
		ids[i] = u.ID
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestUpsertShopItem_Restock(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	item, err := f.park.UpsertShopItem(ctx, points.ShopItem{ID: "s2", Name: "Legendary sword", Cost: 500, Icon: "🗡️", Stock: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, item.Stock)

	items, err := f.park.ShopItems()
	require.NoError(t, err)
	assert.Len(t, items, len(catalog.DefaultShopItems()))
}

func TestUpsert_RejectsBadIcon(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.park.UpsertAction(ctx, points.PointAction{Name: "Nap", Points: 5, Type: points.ActionAdd})
	assert.True(t, points.IsValidation(err))

	_, err = f.park.UpsertShopItem(ctx, points.ShopItem{Name: "Nap", Cost: 5, Icon: ""})
	assert.True(t, points.IsValidation(err))
}

func TestDeleteAction_KeepsHistory(t *testing.T) {
	f := newFixture(t, []points.User{user("u1", 0)}, nil)
	ctx := context.Background()

	_, err := f.park.ApplyAction(ctx, "u1", "1")
	require.NoError(t, err)
	require.NoError(t, f.park.DeleteAction(ctx, "1"))

	u, err := f.park.User("u1")
	require.NoError(t, err)
	assert.Equal(t, "1", u.History[0].ActionID)

	assert.ErrorIs(t, f.park.DeleteAction(ctx, "1"), points.ErrActionNotFound)
	assert.ErrorIs(t, f.park.DeleteShopItem(ctx, "nope"), points.ErrItemNotFound)
}

func TestSetTheme(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	theme, err := f.park.SetTheme(ctx, "sakura")
	require.NoError(t, err)
	assert.Equal(t, "sakura", theme.ID)

	_, active, err := f.park.Themes()
	require.NoError(t, err)
	assert.Equal(t, "sakura", active)

	_, err = f.park.SetTheme(ctx, "nope")
	assert.True(t, points.IsValidation(err))
}

// =============================================================================
// ADVICE AND ADMIN
// =============================================================================

type cannedGenerator string

func (c cannedGenerator) Generate(context.Context, advice.Prompt) (string, error) {
	return string(c), nil
}

func TestAdvice(t *testing.T) {
	f := newFixture(t, []points.User{user("u1", 50)}, nil,
		WithAdvice(advice.NewService(cannedGenerator("Keep going!"))))
	ctx := context.Background()

	text, err := f.park.Advice(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Keep going!", text)

	_, err = f.park.Advice(ctx, "nobody")
	assert.ErrorIs(t, err, points.ErrUserNotFound)
}

func TestAdvice_FallsBackWithoutModel(t *testing.T) {
	f := newFixture(t, []points.User{user("u1", 50)}, nil)

	text, err := f.park.Advice(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, advice.FallbackAdvice, text)
	assert.Nil(t, f.park.Suggest(context.Background(), advice.KindAction))
}

func TestVerifyAdmin(t *testing.T) {
	f := newFixture(t, nil, nil)

	assert.True(t, f.park.VerifyAdmin("123456"))
	assert.False(t, f.park.VerifyAdmin("wrong"))
	assert.Equal(t, []cue.Cue{cue.Fail}, f.cues.Played())
}

func TestVerifyAdmin_EmptySecretNeverMatches(t *testing.T) {
	f := newFixture(t, nil, nil, WithAdminPassword(""))
	assert.False(t, f.park.VerifyAdmin(""))
}
