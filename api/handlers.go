/*
handlers.go - HTTP API handlers for the points park

PURPOSE:
  Exposes the Park controller via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the service layer.

ENDPOINTS:
  State:
    GET    /api/state                      Everything needed to render
    GET    /api/leaderboard                Users by points, highest first

  Users:
    GET    /api/users                      List users
    POST   /api/users                      Create user
    GET    /api/users/{id}                 Get user
    PUT    /api/users/{id}                 Rename user            [admin]
    DELETE /api/users/{id}                 Delete user            [admin]
    POST   /api/users/{id}/actions/{aid}   Apply a point rule
    POST   /api/users/{id}/purchases/{sid} Buy a shop item
    GET    /api/users/{id}/advice          Oracle advice

  Catalog:
    GET    /api/actions                    List point rules
    POST   /api/actions                    Create or replace rule [admin]
    DELETE /api/actions/{id}               Delete rule            [admin]
    GET    /api/shop                       List shop items
    POST   /api/shop                       Create or replace item [admin]
    DELETE /api/shop/{id}                  Delete item            [admin]
    GET    /api/suggestions/{kind}         Model suggestion (204 if none)

  Look and feel:
    GET    /api/themes                     Themes and the active id
    PUT    /api/theme                      Select a theme
    GET    /api/icons                      Preset icon set
    POST   /api/icons                      Upload image -> data URI

  Admin:
    POST   /api/admin/verify               Check the admin password

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Wrong or missing admin password
  - 404: User, rule or item not found
  - 409: Purchase refused (code: insufficient_points | out_of_stock)
  - 503: Repository not ready
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - admin.go: Admin gate middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/points-park/advice"
	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/cue"
	"github.com/warp/points-park/icon"
	"github.com/warp/points-park/points"
	"github.com/warp/points-park/repository"
	"github.com/warp/points-park/service"
)

// maxUploadBytes bounds a raw image upload before compression.
const maxUploadBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Park       *service.Park
	Log        *zap.Logger
	IconBudget int
}

// NewHandler creates a new handler over park.
func NewHandler(park *service.Park, log *zap.Logger, iconBudget int) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Park:       park,
		Log:        log,
		IconBudget: iconBudget,
	}
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

// GetState returns every collection and the active theme.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Park.State()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	theme, _ := catalog.LookupTheme(snap.ThemeID)
	writeJSON(w, http.StatusOK, StateDTO{
		Users:     snap.Users,
		Actions:   snap.Actions,
		ShopItems: snap.ShopItems,
		ThemeID:   snap.ThemeID,
		Theme:     theme,
		Degraded:  h.Park.Degraded(),
	})
}

// GetLeaderboard returns users ranked by points.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	users, err := h.Park.Leaderboard()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]LeaderboardEntryDTO, len(users))
	for i, u := range users {
		dtos[i] = LeaderboardEntryDTO{
			Rank:   i + 1,
			ID:     u.ID,
			Name:   u.Name,
			Avatar: u.Avatar,
			Points: u.Points,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Park.Users()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Park.User(chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateUser creates a user with zero points.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Park.CreateUser(r.Context(), req.Name, req.Avatar)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// RenameUser changes a user's name.
func (h *Handler) RenameUser(w http.ResponseWriter, r *http.Request) {
	var req RenameUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Park.RenameUser(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DeleteUser removes a user.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Park.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ApplyAction applies a point rule to a user.
func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	res, err := h.Park.ApplyAction(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "aid"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResultDTO{User: res.User, Action: res.Action, Cue: res.Cue})
}

// Purchase buys a shop item for a user.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	res, err := h.Park.Purchase(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sid"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResultDTO{User: res.User, Item: res.Item, Cue: res.Cue})
}

// GetAdvice returns a line of advice for a user. Model failures still
// produce 200 with the fallback text.
func (h *Handler) GetAdvice(w http.ResponseWriter, r *http.Request) {
	text, err := h.Park.Advice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AdviceDTO{Text: text})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListActions returns the point rules.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.Park.Actions()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// UpsertAction creates or replaces a point rule.
func (h *Handler) UpsertAction(w http.ResponseWriter, r *http.Request) {
	var req points.PointAction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Park.UpsertAction(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAction removes a point rule.
func (h *Handler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	if err := h.Park.DeleteAction(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListShopItems returns the shop.
func (h *Handler) ListShopItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Park.ShopItems()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// UpsertShopItem creates, replaces or restocks a shop item.
func (h *Handler) UpsertShopItem(w http.ResponseWriter, r *http.Request) {
	var req points.ShopItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	item, err := h.Park.UpsertShopItem(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteShopItem removes a shop item.
func (h *Handler) DeleteShopItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Park.DeleteShopItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSuggestion asks the model for a new rule or item.
func (h *Handler) GetSuggestion(w http.ResponseWriter, r *http.Request) {
	kind := advice.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown suggestion kind (use action or product)", nil)
		return
	}

	sug := h.Park.Suggest(r.Context(), kind)
	if sug == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, SuggestionDTO{Kind: kind, Suggestion: *sug})
}

// =============================================================================
// THEME AND ICON HANDLERS
// =============================================================================

// ListThemes returns every theme and the active id.
func (h *Handler) ListThemes(w http.ResponseWriter, r *http.Request) {
	themes, active, err := h.Park.Themes()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ThemesDTO{Active: active, Themes: themes})
}

// SetTheme selects the active theme.
func (h *Handler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req SetThemeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	theme, err := h.Park.SetTheme(r.Context(), req.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, theme)
}

// ListIcons returns the preset icon set.
func (h *Handler) ListIcons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IconsDTO{Icons: catalog.Icons()})
}

// UploadIcon compresses an uploaded image (multipart field "file") into an
// embedded reference.
func (h *Handler) UploadIcon(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or oversized file upload", err)
		return
	}
	defer file.Close()

	uri, err := icon.Compress(file, h.IconBudget)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, icon.ErrTooLarge) || errors.Is(err, icon.ErrDimensions) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, "Could not prepare image", err)
		return
	}
	writeJSON(w, http.StatusOK, IconDTO{Icon: uri, Kind: string(icon.KindEmbedded), Bytes: len(uri)})
}

// =============================================================================
// ADMIN AND HEALTH
// =============================================================================

// VerifyAdmin checks a password without performing any edit.
func (h *Handler) VerifyAdmin(w http.ResponseWriter, r *http.Request) {
	var req VerifyAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !h.Park.VerifyAdmin(req.Password) {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Wrong admin password", Cue: string(cue.Fail)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Healthz reports readiness. It returns 503 until the repository has loaded.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if !h.Park.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, HealthDTO{Status: "loading"})
		return
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ready", Degraded: h.Park.Degraded()})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps service and ledger errors to a status code.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var refusal *points.PurchaseError
	switch {
	case errors.As(err, &refusal):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Purchase refused",
			Code:    string(refusal.Reason),
			Details: err.Error(),
			Cue:     string(cue.Fail),
		})
	case points.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case points.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, repository.ErrNotReady), errors.Is(err, repository.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "Park is not ready", err)
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
