package api

import (
	"net/http"

	"github.com/warp/points-park/cue"
)

// AdminHeader carries the admin password on gated requests.
const AdminHeader = "X-Admin-Password"

// requireAdmin rejects the request with 401 unless AdminHeader matches the
// configured password. This is a confirmation gate for destructive edits,
// not authentication.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Park.VerifyAdmin(r.Header.Get(AdminHeader)) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "Admin password required",
				Code:  "admin_required",
				Cue:   string(cue.Fail),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
