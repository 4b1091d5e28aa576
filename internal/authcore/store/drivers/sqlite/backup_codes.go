package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
)

type backupCodesRepo struct {
	q dbtx
}

func (r *backupCodesRepo) CreateBackupCode(ctx context.Context, c domain.BackupCode) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO backup_codes (id, account_id, code_hash, used_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.CodeHash, toNullNanos(c.UsedAt), toNanos(time.Now()),
	)
	return err
}

func (r *backupCodesRepo) ListUnusedBackupCodes(ctx context.Context, accountID string) ([]domain.BackupCode, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, account_id, code_hash, used_at, created_at
		FROM backup_codes
		WHERE account_id = ? AND used_at IS NULL
		ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BackupCode
	for rows.Next() {
		var (
			c       domain.BackupCode
			used    sql.NullInt64
			created int64
		)
		if err := rows.Scan(&c.ID, &c.AccountID, &c.CodeHash, &used, &created); err != nil {
			return nil, err
		}
		c.UsedAt = fromNullNanos(used)
		c.CreatedAt = fromNanos(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConsumeBackupCode is the at-most-once consumption point. The WHERE clause
// on used_at IS NULL makes the update a compare-and-set: under concurrent
// redemptions exactly one caller observes RowsAffected == 1.
func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE backup_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		toNanos(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, accountID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM backup_codes WHERE account_id = ?`, accountID)
	return err
}

func (r *backupCodesRepo) CountUnusedBackupCodes(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM backup_codes WHERE account_id = ? AND used_at IS NULL`,
		accountID).Scan(&count)
	return count, err
}
