// Package identity defines the identity-provider collaborator the auth core
// delegates credential checks and token issuance to, plus a local
// store-backed implementation.
package identity

import (
	"context"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
)

// Provider is the external identity collaborator. The core treats it as
// opaque: every call is bounded by the caller's context and returns typed
// errors, never panics.
type Provider interface {
	// SignUp registers a new account with the given credentials.
	SignUp(ctx context.Context, email, password string) (domain.Account, error)

	// SignInWithPassword checks credentials and returns the account. It does
	// NOT issue a session: the orchestrator mints one only after every gate
	// (lockout, MFA) has passed. A mismatch yields domain.ErrInvalidCredentials.
	SignInWithPassword(ctx context.Context, email, password string) (domain.Account, error)

	// IssueSession mints a session for an already-authenticated account.
	IssueSession(ctx context.Context, accountID string) (domain.Session, error)

	// RefreshSession exchanges a valid refresh token for a new session pair,
	// revoking the old refresh token (rotation).
	RefreshSession(ctx context.Context, session domain.Session) (domain.Session, error)

	// SignOut revokes the session's refresh token.
	SignOut(ctx context.Context, session domain.Session) error

	// UpdatePassword replaces the account password and revokes all
	// outstanding refresh tokens.
	UpdatePassword(ctx context.Context, accountID, newPassword string) error

	// ResetPasswordForEmail mints a single-use reset token for the account.
	// Delivery of the token is the application shell's job.
	ResetPasswordForEmail(ctx context.Context, email string) error

	// ConfirmPasswordReset redeems a reset token and sets the new password.
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}
