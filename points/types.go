/*
Package points provides the data model and the ledger engine of the park.

PURPOSE:
  Everything that decides how a balance or a stock count changes lives here.
  The functions are pure over their inputs: they take a user, a rule or a
  shop item (or a whole collection) and return new values. Nothing in this
  package touches storage, so the whole engine is testable without a backend.

KEY CONCEPTS IN THIS FILE (types.go):
  - User:         a participant with a balance and a bounded history
  - PointAction:  an administrator-defined rule that grants or deducts points
  - ShopItem:     a stocked reward that can be bought with points
  - PointHistory: an immutable log entry, newest first on the user

INVARIANTS:
  1. User.Points >= 0. Deductions clamp at zero, they are never refused.
  2. ShopItem.Stock >= 0. Purchases are refused when stock is exhausted.
  3. len(User.History) <= HistoryLimit. Oldest entries are dropped.
  4. History entries snapshot the rule name at the time they were recorded.

JSON LAYOUT:
  Field names match the layout persisted by the browser version of the app
  (actionId, actionName, timestamp in unix milliseconds) so old exports load
  without conversion.

SEE ALSO:
  - ledger.go: State transitions over these types
  - errors.go: Validation, refusal and lookup errors
  - catalog/: Built-in rules, shop items and themes
*/
package points

import "time"

// HistoryLimit is the number of history entries retained per user.
const HistoryLimit = 50

// =============================================================================
// ACTION TYPE
// =============================================================================

// ActionType says whether a rule grants or deducts points.
type ActionType string

const (
	ActionAdd      ActionType = "ADD"
	ActionSubtract ActionType = "SUBTRACT"
)

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	return t == ActionAdd || t == ActionSubtract
}

// =============================================================================
// ENTITIES
// =============================================================================

// User is a participant. Points only change through the ledger engine.
type User struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Avatar  string         `json:"avatar"`
	Points  int            `json:"points"`
	History []PointHistory `json:"history"`
}

// PointAction is a catalog rule. Points is always positive; Type carries the sign.
type PointAction struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Points int        `json:"points"`
	Type   ActionType `json:"type"`
	Icon   string     `json:"icon"`
}

// Delta returns the signed change the rule applies to a balance.
func (a PointAction) Delta() int {
	if a.Type == ActionSubtract {
		return -a.Points
	}
	return a.Points
}

// ShopItem is a reward. Stock is decremented by purchases and only raised by
// an administrator edit.
type ShopItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Cost  int    `json:"cost"`
	Icon  string `json:"icon"`
	Stock int    `json:"stock"`
}

// PointHistory is one ledger entry on a user. Points is the signed delta as
// requested, not the clamped outcome.
type PointHistory struct {
	ID         string `json:"id"`
	ActionID   string `json:"actionId"`
	ActionName string `json:"actionName"`
	Points     int    `json:"points"`
	Timestamp  int64  `json:"timestamp"`
}

// Time returns the entry timestamp as a time.Time.
func (h PointHistory) Time() time.Time {
	return time.UnixMilli(h.Timestamp)
}

// =============================================================================
// COPY HELPERS
// =============================================================================

// Clone returns a copy of u that shares no memory with it.
func (u User) Clone() User {
	c := u
	if u.History != nil {
		c.History = make([]PointHistory, len(u.History))
		copy(c.History, u.History)
	}
	return c
}

// CloneUsers deep-copies a users collection.
func CloneUsers(users []User) []User {
	if users == nil {
		return nil
	}
	out := make([]User, len(users))
	for i, u := range users {
		out[i] = u.Clone()
	}
	return out
}
