package domain

import (
	"context"
	"errors"
)

// Stable error taxonomy for callers. The UI layer maps these codes to
// localized messages, so the set must stay exhaustive and stable.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountLocked      = errors.New("account_locked")
	ErrInvalidState       = errors.New("invalid_state")
	ErrInvalidCode        = errors.New("invalid_code")
	ErrNoCodesRemaining   = errors.New("no_codes_remaining")
	ErrTimeout            = errors.New("timeout")
	ErrStorage            = errors.New("storage_error")
	ErrUnknown            = errors.New("unknown")
)

// ErrorCode maps any error to its taxonomy code string. Unexpected errors
// (storage faults, context deadlines) are folded into the taxonomy so raw
// failures never cross the core boundary.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrNoCodesRemaining):
		return "no_codes_remaining"
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "unknown"
	}
}
