package sqlite

import (
	"context"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
)

type mfaChallengesRepo struct {
	q dbtx
}

func (r *mfaChallengesRepo) CreateMFAChallenge(ctx context.Context, c domain.MFAChallenge) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO mfa_challenges (id, account_id, email, token_hash, attempts, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, normalizeEmail(c.Email), c.TokenHash, c.Attempts,
		toNanos(c.ExpiresAt), toNanos(c.CreatedAt),
	)
	return err
}

func (r *mfaChallengesRepo) GetMFAChallengeByHash(ctx context.Context, hash string) (domain.MFAChallenge, error) {
	var (
		c         domain.MFAChallenge
		expiresAt int64
		createdAt int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, email, token_hash, attempts, expires_at, created_at
		FROM mfa_challenges WHERE token_hash = ?`, hash).
		Scan(&c.ID, &c.AccountID, &c.Email, &c.TokenHash, &c.Attempts, &expiresAt, &createdAt)
	if err != nil {
		return domain.MFAChallenge{}, mapNotFound(err)
	}

	c.ExpiresAt = fromNanos(expiresAt)
	c.CreatedAt = fromNanos(createdAt)
	return c, nil
}

func (r *mfaChallengesRepo) IncrementMFAChallengeAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.q.QueryRowContext(ctx, `
		UPDATE mfa_challenges SET attempts = attempts + 1
		WHERE id = ?
		RETURNING attempts`, id).Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

// ConsumeMFAChallenge deletes by id and reports whether this call removed the
// row. RowsAffected makes redemption at-most-once under concurrency.
func (r *mfaChallengesRepo) ConsumeMFAChallenge(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *mfaChallengesRepo) DeleteExpiredMFAChallenges(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM mfa_challenges WHERE expires_at < ?`, toNanos(time.Now()))
	return err
}
