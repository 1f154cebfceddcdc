/*
ledger.go - Point and stock state transitions

PURPOSE:
  The ledger engine is the only code that changes a balance, a stock count or
  a history. Each operation takes values and returns new values; inputs are
  never modified, so a snapshot handed to a reader stays valid forever.

CLAMP, DON'T REJECT:
  A deduction on a low balance always succeeds and floors at zero. The
  history still records the full requested delta:

    user{points: 5} + action{SUBTRACT 10}  =>  user{points: 0}
    history[0].points == -10

PURCHASES ARE REFUSED, NOT CLAMPED:
  Purchase checks the balance first, then the stock. A refusal returns a
  *PurchaseError and leaves both inputs untouched. A success returns a new
  user AND a new item; callers must commit both or neither.

COLLECTION HELPERS:
  The *To / *From helpers and the catalog edits operate on whole collections
  and return a freshly built slice. The caller swaps the old slice for the new
  one (copy-on-write), which is what lets readers render without locks.

IDENTIFIERS:
  Ids and timestamps come from the injected NewID and Now functions. The
  default generator is a random UUID, so two entities created in the same
  millisecond never collide.

SEE ALSO:
  - types.go: Entities and invariants
  - errors.go: Error values returned here
  - repository/: Persists the collections these functions produce
*/
package points

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAvatarURL is the seeded pixel-art avatar used when none is given.
const DefaultAvatarURL = "https://api.dicebear.com/7.x/pixel-art/svg?seed="

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies ledger operations. It holds no state beyond the id and clock
// sources, so a zero-configured Engine can be shared freely.
type Engine struct {
	NewID func() string
	Now   func() time.Time
}

// NewEngine returns an engine using random UUIDs and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		NewID: uuid.NewString,
		Now:   time.Now,
	}
}

func (e *Engine) id() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// =============================================================================
// ENTITY OPERATIONS
// =============================================================================

// ApplyAction grants or deducts the rule's points. The balance clamps at zero;
// the history entry keeps the unclamped signed delta.
func (e *Engine) ApplyAction(user User, action PointAction) User {
	delta := action.Delta()

	next := user.Clone()
	next.Points = max(0, user.Points+delta)
	next.History = prependHistory(user.History, PointHistory{
		ID:         e.id(),
		ActionID:   action.ID,
		ActionName: action.Name,
		Points:     delta,
		Timestamp:  e.now().UnixMilli(),
	})
	return next
}

// Purchase charges the item's cost and takes one unit of stock. On refusal the
// inputs are returned unchanged together with a *PurchaseError.
func (e *Engine) Purchase(user User, item ShopItem) (User, ShopItem, error) {
	if user.Points < item.Cost {
		return user, item, &PurchaseError{
			UserID:  user.ID,
			ItemID:  item.ID,
			Balance: user.Points,
			Cost:    item.Cost,
			Stock:   item.Stock,
			Reason:  ReasonInsufficientPoints,
		}
	}
	if item.Stock <= 0 {
		return user, item, &PurchaseError{
			UserID:  user.ID,
			ItemID:  item.ID,
			Balance: user.Points,
			Cost:    item.Cost,
			Stock:   item.Stock,
			Reason:  ReasonOutOfStock,
		}
	}

	nextUser := user.Clone()
	nextUser.Points = user.Points - item.Cost
	nextUser.History = prependHistory(user.History, PointHistory{
		ID:         e.id(),
		ActionID:   item.ID,
		ActionName: PurchaseDescription(item.Name),
		Points:     -item.Cost,
		Timestamp:  e.now().UnixMilli(),
	})

	nextItem := item
	nextItem.Stock = item.Stock - 1
	return nextUser, nextItem, nil
}

// PurchaseDescription is the history label recorded for a purchase.
func PurchaseDescription(itemName string) string {
	return "purchased " + itemName
}

// CreateUser allocates a new participant with zero points and no history.
// An empty avatar falls back to a pixel-art avatar seeded by the name.
func (e *Engine) CreateUser(name, avatar string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if avatar == "" {
		avatar = DefaultAvatarURL + url.QueryEscape(name)
	}
	return User{
		ID:      e.id(),
		Name:    name,
		Avatar:  avatar,
		Points:  0,
		History: []PointHistory{},
	}, nil
}

func prependHistory(history []PointHistory, entry PointHistory) []PointHistory {
	n := min(len(history)+1, HistoryLimit)
	out := make([]PointHistory, 0, n)
	out = append(out, entry)
	out = append(out, history[:n-1]...)
	return out
}

// =============================================================================
// COLLECTION OPERATIONS - Copy-on-write over whole collections
// =============================================================================

// ApplyActionTo applies action to the user with userID and returns the new
// users collection along with the updated user.
func (e *Engine) ApplyActionTo(users []User, userID string, action PointAction) ([]User, User, error) {
	i := indexUser(users, userID)
	if i < 0 {
		return users, User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	updated := e.ApplyAction(users[i], action)
	return replaceAt(users, i, updated), updated, nil
}

// PurchaseFrom buys itemID for userID. Both returned collections are new
// slices on success; on any error the inputs are returned as they were.
func (e *Engine) PurchaseFrom(users []User, items []ShopItem, userID, itemID string) ([]User, []ShopItem, error) {
	ui := indexUser(users, userID)
	if ui < 0 {
		return users, items, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	ii := indexItem(items, itemID)
	if ii < 0 {
		return users, items, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	user, item, err := e.Purchase(users[ui], items[ii])
	if err != nil {
		return users, items, err
	}
	return replaceAt(users, ui, user), replaceAt(items, ii, item), nil
}

// RenameUser changes a participant's display name. History is untouched.
func RenameUser(users []User, userID, name string) ([]User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return users, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	i := indexUser(users, userID)
	if i < 0 {
		return users, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	u := users[i].Clone()
	u.Name = name
	return replaceAt(users, i, u), nil
}

// DeleteUser removes a participant.
func DeleteUser(users []User, userID string) ([]User, error) {
	i := indexUser(users, userID)
	if i < 0 {
		return users, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return removeAt(users, i), nil
}

// FindUser returns the user with id.
func FindUser(users []User, id string) (User, bool) {
	i := indexUser(users, id)
	if i < 0 {
		return User{}, false
	}
	return users[i].Clone(), true
}

// FindAction returns the rule with id.
func FindAction(actions []PointAction, id string) (PointAction, bool) {
	i := slices.IndexFunc(actions, func(a PointAction) bool { return a.ID == id })
	if i < 0 {
		return PointAction{}, false
	}
	return actions[i], true
}

// Leaderboard returns the users ordered by points, highest first. Ties are
// broken by name so the order is stable across reloads.
func Leaderboard(users []User) []User {
	out := CloneUsers(users)
	slices.SortStableFunc(out, func(a, b User) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// =============================================================================
// CATALOG EDITS
// =============================================================================

// ValidateAction checks a rule before it is stored.
func ValidateAction(a PointAction) error {
	switch {
	case strings.TrimSpace(a.Name) == "":
		return &ValidationError{Field: "name", Message: "must not be empty"}
	case a.Points <= 0:
		return &ValidationError{Field: "points", Message: "must be positive"}
	case !a.Type.Valid():
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", a.Type)}
	}
	return nil
}

// ValidateShopItem checks a shop item before it is stored.
func ValidateShopItem(s ShopItem) error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return &ValidationError{Field: "name", Message: "must not be empty"}
	case s.Cost <= 0:
		return &ValidationError{Field: "cost", Message: "must be positive"}
	case s.Stock < 0:
		return &ValidationError{Field: "stock", Message: "must not be negative"}
	}
	return nil
}

// UpsertAction replaces the rule with the same id, or appends it. A rule
// without an id gets a fresh one.
func (e *Engine) UpsertAction(actions []PointAction, a PointAction) ([]PointAction, PointAction, error) {
	if err := ValidateAction(a); err != nil {
		return actions, a, err
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.ID == "" {
		a.ID = e.id()
	}
	i := slices.IndexFunc(actions, func(x PointAction) bool { return x.ID == a.ID })
	if i < 0 {
		return appendTo(actions, a), a, nil
	}
	return replaceAt(actions, i, a), a, nil
}

// DeleteAction removes a rule. History entries that reference it keep their
// snapshotted name.
func DeleteAction(actions []PointAction, id string) ([]PointAction, error) {
	i := slices.IndexFunc(actions, func(x PointAction) bool { return x.ID == id })
	if i < 0 {
		return actions, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	return removeAt(actions, i), nil
}

// UpsertShopItem replaces the item with the same id, or appends it. Raising
// Stock here is the only way to restock.
func (e *Engine) UpsertShopItem(items []ShopItem, s ShopItem) ([]ShopItem, ShopItem, error) {
	if err := ValidateShopItem(s); err != nil {
		return items, s, err
	}
	s.Name = strings.TrimSpace(s.Name)
	if s.ID == "" {
		s.ID = e.id()
	}
	i := indexItem(items, s.ID)
	if i < 0 {
		return appendTo(items, s), s, nil
	}
	return replaceAt(items, i, s), s, nil
}

// DeleteShopItem removes an item from the shop.
func DeleteShopItem(items []ShopItem, id string) ([]ShopItem, error) {
	i := indexItem(items, id)
	if i < 0 {
		return items, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return removeAt(items, i), nil
}

// =============================================================================
// SLICE HELPERS - never write into the input's backing array
// =============================================================================

func indexUser(users []User, id string) int {
	return slices.IndexFunc(users, func(u User) bool { return u.ID == id })
}

func indexItem(items []ShopItem, id string) int {
	return slices.IndexFunc(items, func(s ShopItem) bool { return s.ID == id })
}

func replaceAt[T any](in []T, i int, v T) []T {
	out := make([]T, len(in))
	copy(out, in)
	out[i] = v
	return out
}

func removeAt[T any](in []T, i int) []T {
	out := make([]T, 0, len(in)-1)
	out = append(out, in[:i]...)
	return append(out, in[i+1:]...)
}

func appendTo[T any](in []T, v T) []T {
	out := make([]T, len(in), len(in)+1)
	copy(out, in)
	return append(out, v)
}
