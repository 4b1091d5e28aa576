package http

import (
	"encoding/json"
	"net/http"

	"github.com/halcyonlabs/authcore/internal/authcore/service"
	"github.com/halcyonlabs/authcore/pkg/httpx"
	"github.com/halcyonlabs/authcore/pkg/slogx"
)

// LockoutHandler exposes the lockout status view and the explicit unlock
// escape hatch. Both are operator surfaces, not end-user ones.
type LockoutHandler struct {
	Auth    *service.AuthService
	Tracker *service.LoginAttemptTracker
}

// HandleStatus handles GET /v1/lockout/status?email=...
func (h *LockoutHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email := r.URL.Query().Get("email")
	if email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email query parameter is required")
		return
	}

	status, err := h.Tracker.AccountStatus(ctx, email)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, status)
}

type unlockRequest struct {
	Email string `json:"email"`
}

// HandleUnlock handles POST /v1/lockout/unlock.
func (h *LockoutHandler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	if err := h.Auth.UnlockAccount(ctx, req.Email); err != nil {
		log.Warn("unlock failed", "email", req.Email, "err", err)
		writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
