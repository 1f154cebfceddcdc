/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON bodies the API reads and the composite responses it
  writes. Entities (users, rules, shop items, themes) go out as their domain
  types: their JSON names already match the persisted layout, so a client and
  an export read the same shape.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Composite response types returned to clients

VALIDATION:
  Validation is done by the ledger and the service, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - points/types.go: Entity JSON layout
*/
package api

import (
	"github.com/warp/points-park/advice"
	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/cue"
	"github.com/warp/points-park/points"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateUserRequest is the body of POST /api/users.
type CreateUserRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// RenameUserRequest is the body of PUT /api/users/{id}.
type RenameUserRequest struct {
	Name string `json:"name"`
}

// SetThemeRequest is the body of PUT /api/theme.
type SetThemeRequest struct {
	ID string `json:"id"`
}

// VerifyAdminRequest is the body of POST /api/admin/verify.
type VerifyAdminRequest struct {
	Password string `json:"password"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// StateDTO is everything a client needs to render the park.
type StateDTO struct {
	Users     []points.User        `json:"users"`
	Actions   []points.PointAction `json:"actions"`
	ShopItems []points.ShopItem    `json:"shop_items"`
	ThemeID   string               `json:"theme_id"`
	Theme     catalog.Theme        `json:"theme"`
	Degraded  bool                 `json:"degraded"`
}

// ActionResultDTO is the response to applying a rule.
type ActionResultDTO struct {
	User   points.User        `json:"user"`
	Action points.PointAction `json:"action"`
	Cue    cue.Cue            `json:"cue"`
}

// PurchaseResultDTO is the response to a successful purchase.
type PurchaseResultDTO struct {
	User points.User     `json:"user"`
	Item points.ShopItem `json:"item"`
	Cue  cue.Cue         `json:"cue"`
}

// LeaderboardEntryDTO is one row of the leaderboard.
type LeaderboardEntryDTO struct {
	Rank   int    `json:"rank"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Points int    `json:"points"`
}

// AdviceDTO carries one line of advice.
type AdviceDTO struct {
	Text string `json:"text"`
}

// SuggestionDTO wraps a model suggestion with the kind it was asked for.
type SuggestionDTO struct {
	Kind advice.Kind `json:"kind"`
	advice.Suggestion
}

// ThemesDTO lists every theme and the active one.
type ThemesDTO struct {
	Active string          `json:"active"`
	Themes []catalog.Theme `json:"themes"`
}

// IconDTO is an icon reference ready to store on an entity.
type IconDTO struct {
	Icon  string `json:"icon"`
	Kind  string `json:"kind"`
	Bytes int    `json:"bytes"`
}

// IconsDTO lists the preset icon set.
type IconsDTO struct {
	Icons []string `json:"icons"`
}

// HealthDTO is the body of /healthz.
type HealthDTO struct {
	Status   string `json:"status"`
	Degraded bool   `json:"degraded"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Cue     string `json:"cue,omitempty"`
}
