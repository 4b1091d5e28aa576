package sqlite

import (
	"database/sql"

	"github.com/halcyonlabs/authcore/internal/authcore/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Accounts() store.Accounts           { return &accountsRepo{q: t.tx} }
func (t *txStore) MFASecrets() store.MFASecrets       { return &mfaSecretsRepo{q: t.tx} }
func (t *txStore) MFAChallenges() store.MFAChallenges { return &mfaChallengesRepo{q: t.tx} }
func (t *txStore) BackupCodes() store.BackupCodes     { return &backupCodesRepo{q: t.tx} }
func (t *txStore) LoginAttempts() store.LoginAttempts { return &loginAttemptsRepo{q: t.tx} }
func (t *txStore) RefreshTokens() store.RefreshTokens { return &refreshTokensRepo{q: t.tx} }
func (t *txStore) ResetTokens() store.ResetTokens     { return &resetTokensRepo{q: t.tx} }
