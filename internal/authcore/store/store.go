package store

import (
	"context"
	"errors"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite now,
// postgres later) implement this. It exposes sub-repositories to keep
// concerns tidy and testable.
type Store interface {
	Accounts() Accounts
	MFASecrets() MFASecrets
	MFAChallenges() MFAChallenges
	BackupCodes() BackupCodes
	LoginAttempts() LoginAttempts
	RefreshTokens() RefreshTokens
	ResetTokens() ResetTokens

	ApplyMigrations() error

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store scoped to a single database transaction.
type Tx interface {
	Accounts() Accounts
	MFASecrets() MFASecrets
	MFAChallenges() MFAChallenges
	BackupCodes() BackupCodes
	LoginAttempts() LoginAttempts
	RefreshTokens() RefreshTokens
	ResetTokens() ResetTokens
}

type Accounts interface {
	// CreateAccount inserts a new account (id is provided by the app via ULID).
	CreateAccount(ctx context.Context, a domain.Account) error

	GetAccountByID(ctx context.Context, id string) (domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, error)

	// UpdatePasswordHash sets the password_hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error

	// UpdateMFAState moves the account's MFA state machine. enabledAt is set
	// when transitioning to active and cleared when transitioning to disabled.
	UpdateMFAState(ctx context.Context, accountID string, state domain.MFAState, enabledAt *time.Time) error

	DeleteAccount(ctx context.Context, accountID string) error
}

type MFASecrets interface {
	// CreateMFASecret inserts a new pending secret row.
	CreateMFASecret(ctx context.Context, s domain.MFASecret) error

	// GetCurrentMFASecret returns the newest non-superseded secret for the
	// account, active or pending.
	GetCurrentMFASecret(ctx context.Context, accountID string) (domain.MFASecret, error)

	// ActivateMFASecret flips the active flag after verification succeeds.
	ActivateMFASecret(ctx context.Context, id string) error

	// SupersedeMFASecrets marks every live secret for the account superseded.
	// Old rows are kept, not mutated in place, so re-setup never destroys
	// audit history.
	SupersedeMFASecrets(ctx context.Context, accountID string, at time.Time) error

	// DeleteMFASecrets removes all secret rows for the account (deactivation).
	DeleteMFASecrets(ctx context.Context, accountID string) error
}

type MFAChallenges interface {
	// CreateMFAChallenge inserts a challenge minted after a successful
	// password check.
	CreateMFAChallenge(ctx context.Context, c domain.MFAChallenge) error

	GetMFAChallengeByHash(ctx context.Context, hash string) (domain.MFAChallenge, error)

	// IncrementMFAChallengeAttempts bumps the failed-code counter and returns
	// the new count.
	IncrementMFAChallengeAttempts(ctx context.Context, id string) (int, error)

	// ConsumeMFAChallenge deletes the challenge and reports whether this call
	// removed it, so two racing completions cannot both redeem it.
	ConsumeMFAChallenge(ctx context.Context, id string) (bool, error)

	DeleteExpiredMFAChallenges(ctx context.Context) error
}

type BackupCodes interface {
	// CreateBackupCode stores one salted code hash for an account.
	CreateBackupCode(ctx context.Context, c domain.BackupCode) error

	// ListUnusedBackupCodes returns the not-yet-consumed codes for an account.
	ListUnusedBackupCodes(ctx context.Context, accountID string) ([]domain.BackupCode, error)

	// ConsumeBackupCode atomically marks a single code used. It returns false
	// when the code was already consumed by a concurrent redemption, so two
	// racing redeems of the same code cannot both succeed.
	ConsumeBackupCode(ctx context.Context, id string, at time.Time) (bool, error)

	// DeleteAllBackupCodes removes every code for the account (regeneration,
	// deactivation).
	DeleteAllBackupCodes(ctx context.Context, accountID string) error

	// CountUnusedBackupCodes returns how many codes remain redeemable.
	CountUnusedBackupCodes(ctx context.Context, accountID string) (int, error)
}

type LoginAttempts interface {
	// InsertAttempt appends one attempt row. Concurrent failed logins append
	// independent rows, so no increment is ever lost.
	InsertAttempt(ctx context.Context, a domain.LoginAttempt) error

	// CountRecentFailures counts failures for the email that happened after
	// `since` AND after the most recent success (a success resets the gate).
	CountRecentFailures(ctx context.Context, email string, since time.Time) (int, error)

	// LastFailureAt returns the newest failure timestamp within the window.
	LastFailureAt(ctx context.Context, email string, since time.Time) (time.Time, error)

	// ClearFailures removes failure rows for the email (explicit unlock).
	// The audit trail of successes is untouched.
	ClearFailures(ctx context.Context, email string) (int, error)

	// DeleteAttemptsBefore prunes rows older than the cutoff (housekeeping).
	DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken flips revoked, sets updated_at.
	RevokeRefreshToken(ctx context.Context, hash string) error

	// RevokeAllAccountRefreshTokens bulk revocation (e.g. password reset).
	RevokeAllAccountRefreshTokens(ctx context.Context, accountID string) error

	DeleteExpiredRefreshTokens(ctx context.Context) error
}

type ResetTokens interface {
	CreateResetToken(ctx context.Context, t domain.ResetToken) error
	GetActiveResetTokenByHash(ctx context.Context, hash string) (domain.ResetToken, error)
	MarkResetTokenUsed(ctx context.Context, id string, at time.Time) error
	DeleteExpiredResetTokens(ctx context.Context) error
}
