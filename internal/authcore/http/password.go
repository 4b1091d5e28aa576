package http

import (
	"encoding/json"
	"net/http"

	"github.com/halcyonlabs/authcore/internal/authcore/service"
	"github.com/halcyonlabs/authcore/pkg/httpx"
	"github.com/halcyonlabs/authcore/pkg/slogx"
)

// PasswordHandler handles password scoring, change, and reset endpoints.
type PasswordHandler struct {
	Auth *service.AuthService
}

type passwordCheckRequest struct {
	Password string `json:"password"`
}

// HandleCheck handles POST /v1/password/check. Stateless scoring for live
// strength meters; nothing is stored or logged.
func (h *PasswordHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	var req passwordCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	result := h.Auth.CheckPassword(req.Password)
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, result)
}

type passwordUpdateRequest struct {
	NewPassword string `json:"new_password"`
}

// HandleUpdate handles POST /v1/password. Authenticated; revokes every
// outstanding refresh token on success.
func (h *PasswordHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID := httpx.AccountIDFromContext(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing authenticated account")
		return
	}

	var req passwordUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.Auth.UpdatePassword(ctx, accountID, req.NewPassword); err != nil {
		log.Warn("password update failed", "account_id", accountID, "err", err)
		writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// HandleResetRequest handles POST /v1/password/reset. The response is the
// same whether or not the email exists.
func (h *PasswordHandler) HandleResetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	if err := h.Auth.ResetPasswordForEmail(ctx, req.Email); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type passwordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// HandleResetConfirm handles POST /v1/password/reset/confirm.
func (h *PasswordHandler) HandleResetConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req passwordResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	if err := h.Auth.ConfirmPasswordReset(ctx, req.Token, req.NewPassword); err != nil {
		log.Warn("password reset confirm failed", "err", err)
		writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
