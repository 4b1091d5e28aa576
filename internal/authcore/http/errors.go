package http

import (
	"errors"
	"net/http"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/service"
	"github.com/halcyonlabs/authcore/pkg/httpx"
)

// writeTaxonomyError maps a core error to its HTTP shape. The error code in
// the body is always the stable taxonomy string, so clients key off it
// rather than the status.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	var weak *service.WeakPasswordError
	if errors.As(err, &weak) {
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":             "weak_password",
			"error_description": "Password does not meet policy requirements",
			"policy":            weak.Result,
		})
		return
	}

	var mfaErr *service.MFACodeError
	if errors.As(err, &mfaErr) {
		code := domain.ErrorCode(mfaErr.Cause)
		httpx.WriteJSON(w, statusForCode(code), map[string]any{
			"error":              code,
			"error_description":  descriptionForCode(code),
			"attempts_remaining": mfaErr.AttemptsRemaining,
		})
		return
	}

	code := domain.ErrorCode(err)
	status := statusForCode(code)
	httpx.WriteError(w, status, code, descriptionForCode(code))
}

func statusForCode(code string) int {
	switch code {
	case "invalid_credentials":
		return http.StatusUnauthorized
	case "account_locked":
		return http.StatusLocked
	case "invalid_state":
		return http.StatusConflict
	case "invalid_code":
		return http.StatusBadRequest
	case "no_codes_remaining":
		return http.StatusConflict
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func descriptionForCode(code string) string {
	switch code {
	case "invalid_credentials":
		return "Invalid email or password"
	case "account_locked":
		return "Account temporarily locked after repeated failures"
	case "invalid_state":
		return "Operation not valid in the current MFA state"
	case "invalid_code":
		return "Invalid verification code"
	case "no_codes_remaining":
		return "No unused backup codes remain"
	case "timeout":
		return "The operation timed out"
	case "storage_error":
		return "A storage fault occurred"
	default:
		return "An unexpected error occurred"
	}
}
