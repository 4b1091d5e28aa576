package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
)

type mfaSecretsRepo struct {
	q dbtx
}

func (r *mfaSecretsRepo) CreateMFASecret(ctx context.Context, s domain.MFASecret) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO mfa_secrets (id, account_id, secret_encrypted, active, superseded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, s.SecretEncrypted, boolToInt(s.Active),
		toNullNanos(s.SupersededAt), toNanos(time.Now()),
	)
	return err
}

func (r *mfaSecretsRepo) GetCurrentMFASecret(ctx context.Context, accountID string) (domain.MFASecret, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, secret_encrypted, active, superseded_at, created_at
		FROM mfa_secrets
		WHERE account_id = ? AND superseded_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`, accountID)

	var (
		s          domain.MFASecret
		active     int
		superseded sql.NullInt64
		created    int64
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.SecretEncrypted, &active, &superseded, &created)
	if err != nil {
		return domain.MFASecret{}, mapNotFound(err)
	}
	s.Active = active != 0
	s.SupersededAt = fromNullNanos(superseded)
	s.CreatedAt = fromNanos(created)
	return s, nil
}

func (r *mfaSecretsRepo) ActivateMFASecret(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE mfa_secrets SET active = 1 WHERE id = ?`, id)
	return requireRow(res, err)
}

func (r *mfaSecretsRepo) SupersedeMFASecrets(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE mfa_secrets SET active = 0, superseded_at = ?
		WHERE account_id = ? AND superseded_at IS NULL`,
		toNanos(at), accountID)
	return err
}

func (r *mfaSecretsRepo) DeleteMFASecrets(ctx context.Context, accountID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM mfa_secrets WHERE account_id = ?`, accountID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
