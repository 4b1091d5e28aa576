package http

import (
	"encoding/json"
	"net/http"

	"github.com/halcyonlabs/authcore/internal/authcore/service"
	"github.com/halcyonlabs/authcore/pkg/httpx"
	"github.com/halcyonlabs/authcore/pkg/slogx"
)

// MFAHandler handles the authenticated MFA management endpoints. The account
// identity comes from the bearer token, never from the request body.
type MFAHandler struct {
	MFAService *service.MFAService
}

type mfaSetupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// HandleSetup handles POST /v1/mfa/setup. Returns the secret, the otpauth://
// provisioning URI for QR rendering, and the backup codes. This is the only
// time any of them appear in plaintext.
func (h *MFAHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID := httpx.AccountIDFromContext(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing authenticated account")
		return
	}

	setup, err := h.MFAService.SetupMFA(ctx, accountID)
	if err != nil {
		log.Warn("mfa setup failed", "account_id", accountID, "err", err)
		writeTaxonomyError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, mfaSetupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		BackupCodes:     setup.BackupCodes,
	})
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

// HandleActivate handles POST /v1/mfa/activate: the user proves their
// authenticator works before MFA turns on.
func (h *MFAHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID := httpx.AccountIDFromContext(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing authenticated account")
		return
	}

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.MFAService.VerifyAndActivate(ctx, accountID, req.Code); err != nil {
		log.Warn("mfa activation failed", "account_id", accountID, "err", err)
		writeTaxonomyError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"mfa_state": "active"})
}

// HandleDeactivate handles POST /v1/mfa/deactivate. The caller re-proves the
// password before MFA comes off; a bearer token alone is not enough.
func (h *MFAHandler) HandleDeactivate(auth *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := slogx.FromContext(ctx)

		accountID := httpx.AccountIDFromContext(ctx)
		if accountID == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing authenticated account")
			return
		}

		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
			return
		}

		if _, err := auth.Provider.SignInWithPassword(ctx, req.Email, req.Password); err != nil {
			log.Warn("mfa deactivation reauth failed", "account_id", accountID, "err", err)
			writeTaxonomyError(w, err)
			return
		}

		if err := h.MFAService.Deactivate(ctx, accountID); err != nil {
			log.Warn("mfa deactivation failed", "account_id", accountID, "err", err)
			writeTaxonomyError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, map[string]string{"mfa_state": "disabled"})
	}
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// HandleRegenerateBackupCodes handles POST /v1/mfa/backup-codes/regenerate.
// Requires a current TOTP code; invalidates the entire previous set.
func (h *MFAHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID := httpx.AccountIDFromContext(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing authenticated account")
		return
	}

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	codes, err := h.MFAService.RegenerateBackupCodes(ctx, accountID, req.Code)
	if err != nil {
		log.Warn("backup code regeneration failed", "account_id", accountID, "err", err)
		writeTaxonomyError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

// HandleRemainingBackupCodes handles GET /v1/mfa/backup-codes. Viewing is a
// count, never plaintext: codes are displayed exactly once, at generation.
func (h *MFAHandler) HandleRemainingBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID := httpx.AccountIDFromContext(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing authenticated account")
		return
	}

	remaining, err := h.MFAService.RemainingBackupCodes(ctx, accountID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]int{"remaining": remaining})
}
