package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
)

type accountsRepo struct {
	q dbtx
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	now := toNanos(time.Now())
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, mfa_state, mfa_enabled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, normalizeEmail(a.Email), a.PasswordHash, string(a.MFAState),
		toNullNanos(a.MFAEnabledAt), now, now,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, mfa_state, mfa_enabled_at, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, mfa_state, mfa_enabled_at, created_at, updated_at
		FROM accounts WHERE email = ?`, normalizeEmail(email))
	return scanAccount(row)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, accountID, newHash string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, toNanos(time.Now()), accountID)
	return requireRow(res, err)
}

func (r *accountsRepo) UpdateMFAState(ctx context.Context, accountID string, state domain.MFAState, enabledAt *time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE accounts SET mfa_state = ?, mfa_enabled_at = ?, updated_at = ? WHERE id = ?`,
		string(state), toNullNanos(enabledAt), toNanos(time.Now()), accountID)
	return requireRow(res, err)
}

func (r *accountsRepo) DeleteAccount(ctx context.Context, accountID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID)
	return requireRow(res, err)
}

func scanAccount(row *sql.Row) (domain.Account, error) {
	var (
		a         domain.Account
		state     string
		enabledAt sql.NullInt64
		created   int64
		updated   int64
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &state, &enabledAt, &created, &updated)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.MFAState = domain.MFAState(state)
	if !a.MFAState.Valid() {
		a.MFAState = domain.MFADisabled
	}
	a.MFAEnabledAt = fromNullNanos(enabledAt)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return a, nil
}

// requireRow turns a zero-row UPDATE/DELETE into ErrNotFound.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
