package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
)

type loginAttemptsRepo struct {
	q dbtx
}

func (r *loginAttemptsRepo) InsertAttempt(ctx context.Context, a domain.LoginAttempt) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO login_attempts (id, email, success, attempted_at)
		VALUES (?, ?, ?, ?)`,
		a.ID, normalizeEmail(a.Email), boolToInt(a.Success), toNanos(a.AttemptedAt),
	)
	return err
}

// CountRecentFailures counts failures newer than both the window start and
// the most recent success, so a single successful login zeroes the gate
// without rewriting the audit log.
func (r *loginAttemptsRepo) CountRecentFailures(ctx context.Context, email string, since time.Time) (int, error) {
	email = normalizeEmail(email)

	var count int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = ? AND success = 0 AND attempted_at > ?
		AND attempted_at > COALESCE(
			(SELECT MAX(attempted_at) FROM login_attempts WHERE email = ? AND success = 1),
			0)`,
		email, toNanos(since), email).Scan(&count)
	return count, err
}

func (r *loginAttemptsRepo) LastFailureAt(ctx context.Context, email string, since time.Time) (time.Time, error) {
	var last sql.NullInt64
	err := r.q.QueryRowContext(ctx, `
		SELECT MAX(attempted_at) FROM login_attempts
		WHERE email = ? AND success = 0 AND attempted_at > ?`,
		normalizeEmail(email), toNanos(since)).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, store.ErrNotFound
		}
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, store.ErrNotFound
	}
	return fromNanos(last.Int64), nil
}

func (r *loginAttemptsRepo) ClearFailures(ctx context.Context, email string) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM login_attempts WHERE email = ? AND success = 0`,
		normalizeEmail(email))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *loginAttemptsRepo) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM login_attempts WHERE attempted_at < ?`, toNanos(cutoff))
	return err
}
