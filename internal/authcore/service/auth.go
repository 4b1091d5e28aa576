package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/identity"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
	"github.com/halcyonlabs/authcore/pkg/cryptox"
	"github.com/halcyonlabs/authcore/pkg/idx"
	"github.com/halcyonlabs/authcore/pkg/passcheck"
	"github.com/halcyonlabs/authcore/pkg/slogx"
)

// DefaultOpTimeout bounds every external call (identity provider, storage)
// made by the orchestrator. Nothing in the core blocks indefinitely.
const DefaultOpTimeout = 10 * time.Second

const (
	// MFAChallengeTTL is how long a challenge minted by the password step
	// stays redeemable.
	MFAChallengeTTL = 5 * time.Minute

	// MaxMFAAttempts is the failed-code budget per challenge. Exhausting it
	// invalidates the challenge and records one lockout failure, so a user
	// who fumbles a few TOTP codes can still reach their backup code.
	MaxMFAAttempts = 5
)

// WeakPasswordError carries the full policy result so the caller can show
// which requirements failed, not just that the password was rejected.
type WeakPasswordError struct {
	Result passcheck.Result
}

func (e *WeakPasswordError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Result.Errors, "; ")
}

// MFACodeError reports a rejected second-factor code along with how many
// attempts remain on the challenge before it is invalidated.
type MFACodeError struct {
	Cause             error
	AttemptsRemaining int
}

func (e *MFACodeError) Error() string {
	return fmt.Sprintf("mfa code rejected (%d attempts remaining): %v", e.AttemptsRemaining, e.Cause)
}

func (e *MFACodeError) Unwrap() error { return e.Cause }

// SignInResult is the outcome of the first sign-in step. When MFARequired is
// set the session is empty and MFAChallenge carries the opaque token that
// CompleteMFASignIn must redeem: proof the password step happened.
type SignInResult struct {
	Account      domain.Account `json:"account"`
	Session      domain.Session `json:"session,omitempty"`
	MFARequired  bool           `json:"mfa_required"`
	MFAChallenge string         `json:"mfa_challenge,omitempty"`
}

// AuthService is the top-level façade. It owns flow ordering: the lockout
// gate runs before any credential check reaches the identity provider, and
// a session is minted only after every gate (password, then MFA) has passed.
type AuthService struct {
	Provider identity.Provider
	Tracker  *LoginAttemptTracker
	MFA      *MFAService
	Sessions *SessionManager
	Logger   *slog.Logger

	// OpTimeout bounds each orchestrated operation. Zero means
	// DefaultOpTimeout.
	OpTimeout time.Duration
}

func (s *AuthService) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.OpTimeout
	if d <= 0 {
		d = DefaultOpTimeout
	}
	return context.WithTimeout(ctx, d)
}

// SignUp registers a new account after the password clears policy. Policy
// failure returns *WeakPasswordError with the full result; the numeric score
// alone never blocks a signup.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (domain.Account, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	if result := passcheck.Validate(password); !result.Valid {
		return domain.Account{}, &WeakPasswordError{Result: result}
	}

	account, err := s.Provider.SignUp(ctx, email, password)
	if err != nil {
		return domain.Account{}, s.boundary(ctx, "sign up", err)
	}

	slogx.FromContext(ctx).Info("account created", slog.String("account_id", account.ID))
	return account, nil
}

// SignIn runs the password step. Order matters: locked accounts are rejected
// before the identity provider ever sees the credentials, failures are
// recorded through the tracker, and when MFA is active the result carries a
// short-lived challenge token instead of a session. A success is recorded
// (resetting the failure counter) only once the full flow, second factor
// included, has passed.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	status, err := s.Tracker.AccountStatus(ctx, email)
	if err != nil {
		return SignInResult{}, s.boundary(ctx, "lockout check", err)
	}
	if status.IsLocked {
		return SignInResult{}, domain.ErrAccountLocked
	}

	account, err := s.Provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			if recErr := s.Tracker.RecordAttempt(ctx, email, false); recErr != nil {
				slogx.FromContext(ctx).Error("failed to record login attempt", slog.Any("error", recErr))
			}
			return SignInResult{}, domain.ErrInvalidCredentials
		}
		return SignInResult{}, s.boundary(ctx, "credential check", err)
	}

	if account.MFAEnabled() {
		challenge, err := s.issueMFAChallenge(ctx, account)
		if err != nil {
			return SignInResult{}, s.boundary(ctx, "mfa challenge issue", err)
		}
		return SignInResult{Account: account, MFARequired: true, MFAChallenge: challenge}, nil
	}

	session, err := s.Provider.IssueSession(ctx, account.ID)
	if err != nil {
		return SignInResult{}, s.boundary(ctx, "session issue", err)
	}

	if err := s.Tracker.RecordAttempt(ctx, email, true); err != nil {
		slogx.FromContext(ctx).Error("failed to record login attempt", slog.Any("error", err))
	}

	return SignInResult{Account: account, Session: session}, nil
}

// issueMFAChallenge mints the opaque token that ties the MFA step back to
// this password check. Only the fingerprint is stored.
func (s *AuthService) issueMFAChallenge(ctx context.Context, account domain.Account) (string, error) {
	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	now := time.Now()
	challenge := domain.MFAChallenge{
		ID:        idx.New().String(),
		AccountID: account.ID,
		Email:     account.Email,
		TokenHash: cryptox.FingerprintToken(opaque),
		ExpiresAt: now.Add(MFAChallengeTTL),
		CreatedAt: now,
	}
	if err := s.MFA.Store.MFAChallenges().CreateMFAChallenge(ctx, challenge); err != nil {
		return "", err
	}
	return opaque, nil
}

// CompleteMFASignIn finishes a sign-in that SignIn reported MFARequired for.
// The challenge token is the proof the password step happened: an unknown,
// expired, or consumed token is rejected outright, so holding a second
// factor alone never yields a session. The code is tried as TOTP first, then
// as a backup code, so a user pasting either form into one field still gets
// through. Wrong codes burn the challenge's attempt budget; exhausting it
// kills the challenge and counts one failure against the lockout gate.
func (s *AuthService) CompleteMFASignIn(ctx context.Context, challengeToken, code string) (SignInResult, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	challenges := s.MFA.Store.MFAChallenges()
	challenge, err := challenges.GetMFAChallengeByHash(ctx, cryptox.FingerprintToken(challengeToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SignInResult{}, domain.ErrInvalidCredentials
		}
		return SignInResult{}, s.boundary(ctx, "mfa challenge lookup", err)
	}
	if challenge.Expired(time.Now()) {
		_, _ = challenges.ConsumeMFAChallenge(ctx, challenge.ID)
		return SignInResult{}, domain.ErrInvalidCredentials
	}

	status, err := s.Tracker.AccountStatus(ctx, challenge.Email)
	if err != nil {
		return SignInResult{}, s.boundary(ctx, "lockout check", err)
	}
	if status.IsLocked {
		return SignInResult{}, domain.ErrAccountLocked
	}

	err = s.MFA.VerifyCode(ctx, challenge.AccountID, code)
	if errors.Is(err, domain.ErrInvalidCode) {
		err = s.MFA.VerifyBackupCode(ctx, challenge.AccountID, code)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCode) || errors.Is(err, domain.ErrNoCodesRemaining) {
			return SignInResult{}, s.failMFAChallenge(ctx, challenge, err)
		}
		return SignInResult{}, s.boundary(ctx, "mfa verification", err)
	}

	// Single-use: losing the consume race means another completion already
	// redeemed this challenge.
	consumed, err := challenges.ConsumeMFAChallenge(ctx, challenge.ID)
	if err != nil {
		return SignInResult{}, s.boundary(ctx, "mfa challenge consume", err)
	}
	if !consumed {
		return SignInResult{}, domain.ErrInvalidCredentials
	}

	account, err := s.MFA.Store.Accounts().GetAccountByID(ctx, challenge.AccountID)
	if err != nil {
		return SignInResult{}, s.boundary(ctx, "account load", err)
	}

	session, err := s.Provider.IssueSession(ctx, challenge.AccountID)
	if err != nil {
		return SignInResult{}, s.boundary(ctx, "session issue", err)
	}

	if err := s.Tracker.RecordAttempt(ctx, challenge.Email, true); err != nil {
		slogx.FromContext(ctx).Error("failed to record login attempt", slog.Any("error", err))
	}

	return SignInResult{Account: account, Session: session}, nil
}

// failMFAChallenge burns one attempt. Within the budget the caller gets the
// remaining count (clients surface the backup-code fallback from it); at the
// budget the challenge dies and one failure hits the lockout tracker.
func (s *AuthService) failMFAChallenge(ctx context.Context, challenge domain.MFAChallenge, cause error) error {
	attempts, err := s.MFA.Store.MFAChallenges().IncrementMFAChallengeAttempts(ctx, challenge.ID)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to increment mfa challenge attempts", slog.Any("error", err))
		return cause
	}

	if attempts >= MaxMFAAttempts {
		_, _ = s.MFA.Store.MFAChallenges().ConsumeMFAChallenge(ctx, challenge.ID)
		if recErr := s.Tracker.RecordAttempt(ctx, challenge.Email, false); recErr != nil {
			slogx.FromContext(ctx).Error("failed to record login attempt", slog.Any("error", recErr))
		}
		slogx.FromContext(ctx).Warn("mfa challenge exhausted",
			slog.String("account_id", challenge.AccountID),
			slog.Int("attempts", attempts),
		)
		return domain.ErrInvalidCredentials
	}

	return &MFACodeError{Cause: cause, AttemptsRemaining: MaxMFAAttempts - attempts}
}

// SignOut revokes the session's refresh token. Idempotent: signing out an
// already-revoked session succeeds.
func (s *AuthService) SignOut(ctx context.Context, session domain.Session) error {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	if err := s.Provider.SignOut(ctx, session); err != nil {
		return s.boundary(ctx, "sign out", err)
	}
	return nil
}

// Refresh rotates the session if it is close to expiry, otherwise returns it
// unchanged.
func (s *AuthService) Refresh(ctx context.Context, session domain.Session) (domain.Session, error) {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	fresh, err := s.Sessions.RefreshIfNeeded(ctx, session)
	if err != nil {
		return domain.Session{}, s.boundary(ctx, "session refresh", err)
	}
	return fresh, nil
}

// CheckPassword scores a candidate password without touching any account.
func (s *AuthService) CheckPassword(password string) passcheck.Result {
	return passcheck.Validate(password)
}

// UpdatePassword replaces the account password after the new one clears
// policy. All outstanding refresh tokens are revoked by the provider.
func (s *AuthService) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	if result := passcheck.Validate(newPassword); !result.Valid {
		return &WeakPasswordError{Result: result}
	}
	if err := s.Provider.UpdatePassword(ctx, accountID, newPassword); err != nil {
		return s.boundary(ctx, "password update", err)
	}
	return nil
}

// ResetPasswordForEmail mints a single-use reset token. The response is
// identical whether or not the email exists.
func (s *AuthService) ResetPasswordForEmail(ctx context.Context, email string) error {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	if err := s.Provider.ResetPasswordForEmail(ctx, email); err != nil {
		return s.boundary(ctx, "password reset request", err)
	}
	return nil
}

// ConfirmPasswordReset redeems a reset token and sets the new password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	if result := passcheck.Validate(newPassword); !result.Valid {
		return &WeakPasswordError{Result: result}
	}
	if err := s.Provider.ConfirmPasswordReset(ctx, token, newPassword); err != nil {
		if errors.Is(err, identity.ErrInvalidReset) {
			return domain.ErrInvalidCredentials
		}
		return s.boundary(ctx, "password reset confirm", err)
	}
	return nil
}

// UnlockAccount releases an active lock for the email (admin escape hatch).
func (s *AuthService) UnlockAccount(ctx context.Context, email string) error {
	ctx, cancel := s.timeout(ctx)
	defer cancel()

	if err := s.Tracker.UnlockAccount(ctx, email); err != nil {
		return s.boundary(ctx, "unlock", err)
	}
	return nil
}

// boundary converts raw faults into the stable taxonomy at the orchestrator
// edge. Taxonomy errors pass through untouched; context expiry becomes
// timeout; anything else is logged and surfaced as storage_error so raw
// driver failures never reach the caller.
func (s *AuthService) boundary(ctx context.Context, op string, err error) error {
	switch domain.ErrorCode(err) {
	case "unknown":
		slogx.FromContext(ctx).Error("unexpected failure",
			slog.String("op", op),
			slog.Any("error", err),
		)
		return fmt.Errorf("%s: %w", op, domain.ErrStorage)
	case "timeout":
		return fmt.Errorf("%s: %w", op, domain.ErrTimeout)
	default:
		return err
	}
}
