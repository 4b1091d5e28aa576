package http

import (
	"encoding/json"
	"net/http"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/service"
	"github.com/halcyonlabs/authcore/pkg/httpx"
	"github.com/halcyonlabs/authcore/pkg/slogx"
)

// AuthHandler handles the sign-up, sign-in, sign-out, and refresh endpoints.
type AuthHandler struct {
	Auth *service.AuthService
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	MFAState string `json:"mfa_state"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{ID: a.ID, Email: a.Email, MFAState: string(a.MFAState)}
}

// HandleSignUp handles POST /v1/auth/signup.
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	account, err := h.Auth.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		log.Warn("signup rejected", "err", err)
		writeTaxonomyError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Account      accountResponse `json:"account"`
	Session      *domain.Session `json:"session,omitempty"`
	MFARequired  bool            `json:"mfa_required"`
	MFAChallenge string          `json:"mfa_challenge,omitempty"`
}

// HandleSignIn handles POST /v1/auth/signin. When the account has MFA active
// the response carries mfa_required=true, a challenge token, and no session;
// the client must redeem the challenge at the MFA step.
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	result, err := h.Auth.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		log.Warn("signin failed", "err", err)
		writeTaxonomyError(w, err)
		return
	}

	resp := signInResponse{
		Account:      toAccountResponse(result.Account),
		MFARequired:  result.MFARequired,
		MFAChallenge: result.MFAChallenge,
	}
	if !result.MFARequired {
		resp.Session = &result.Session
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type mfaSignInRequest struct {
	Challenge string `json:"challenge"`
	Code      string `json:"code"`
}

// HandleMFASignIn handles POST /v1/auth/signin/mfa, the second step after a
// sign-in that returned mfa_required. The challenge token from that response
// is the only accepted proof of the password step; the code may be a TOTP
// code or an unused backup code.
func (h *AuthHandler) HandleMFASignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req mfaSignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Challenge == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "challenge and code are required")
		return
	}

	result, err := h.Auth.CompleteMFASignIn(ctx, req.Challenge, req.Code)
	if err != nil {
		log.Warn("mfa signin failed", "err", err)
		writeTaxonomyError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, signInResponse{
		Account: toAccountResponse(result.Account),
		Session: &result.Session,
	})
}

type sessionRequest struct {
	Session domain.Session `json:"session"`
}

// HandleSignOut handles POST /v1/auth/signout. Idempotent.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.Auth.SignOut(ctx, req.Session); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRefresh handles POST /v1/auth/refresh. Returns the same session when
// it is still comfortably valid, a rotated one when it is near expiry.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	session, err := h.Auth.Refresh(ctx, req.Session)
	if err != nil {
		log.Warn("session refresh rejected", "err", err)
		writeTaxonomyError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, session)
}
