package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
)

type refreshTokensRepo struct {
	q dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	now := toNanos(time.Now())
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, account_id, token_hash, expires_at, revoked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.TokenHash, toNanos(t.ExpiresAt), boolToInt(t.Revoked), now, now,
	)
	return err
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, token_hash, expires_at, revoked, created_at, updated_at
		FROM refresh_tokens WHERE token_hash = ?`, hash)

	var (
		t                         domain.RefreshToken
		revoked                   int
		expires, created, updated int64
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.TokenHash, &expires, &revoked, &created, &updated)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.ExpiresAt = fromNanos(expires)
	t.Revoked = revoked != 0
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE token_hash = ?`,
		toNanos(time.Now()), hash)
	return requireRow(res, err)
}

func (r *refreshTokensRepo) RevokeAllAccountRefreshTokens(ctx context.Context, accountID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE account_id = ? AND revoked = 0`,
		toNanos(time.Now()), accountID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < ?`, toNanos(time.Now()))
	return err
}

type resetTokensRepo struct {
	q dbtx
}

func (r *resetTokensRepo) CreateResetToken(ctx context.Context, t domain.ResetToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO reset_tokens (id, account_id, token_hash, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.TokenHash, toNanos(t.ExpiresAt), toNullNanos(t.UsedAt), toNanos(time.Now()),
	)
	return err
}

func (r *resetTokensRepo) GetActiveResetTokenByHash(ctx context.Context, hash string) (domain.ResetToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, token_hash, expires_at, used_at, created_at
		FROM reset_tokens
		WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?`,
		hash, toNanos(time.Now()))

	var (
		rt               domain.ResetToken
		used             sql.NullInt64
		expires, created int64
	)
	err := row.Scan(&rt.ID, &rt.AccountID, &rt.TokenHash, &expires, &used, &created)
	if err != nil {
		return domain.ResetToken{}, mapNotFound(err)
	}
	rt.ExpiresAt = fromNanos(expires)
	rt.UsedAt = fromNullNanos(used)
	rt.CreatedAt = fromNanos(created)
	return rt, nil
}

func (r *resetTokensRepo) MarkResetTokenUsed(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE reset_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		toNanos(at), id)
	return requireRow(res, err)
}

func (r *resetTokensRepo) DeleteExpiredResetTokens(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM reset_tokens WHERE expires_at < ?`, toNanos(time.Now()))
	return err
}
