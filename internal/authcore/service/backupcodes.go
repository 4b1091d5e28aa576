package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
	"github.com/halcyonlabs/authcore/pkg/cryptox"
	"github.com/halcyonlabs/authcore/pkg/idx"
)

const (
	// backupCodeCount codes are issued per activation or regeneration.
	backupCodeCount = 8
	// backupCodeLength characters per code.
	backupCodeLength = 8
	// backupCodeAlphabet omits 0/O, 1/I/L so codes read back unambiguously.
	backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// BackupCodeVault generates, stores, and redeems single-use backup codes.
// Plaintext codes leave this type exactly once, at generation; only salted
// argon2id hashes are persisted.
type BackupCodeVault struct {
	Store store.Store
}

// mint produces a fresh plaintext set plus the hashed records to persist.
// It touches no storage so callers can insert the records inside their own
// transaction.
func (v *BackupCodeVault) mint(accountID string) ([]string, []domain.BackupCode, error) {
	plaintext := make([]string, backupCodeCount)
	records := make([]domain.BackupCode, backupCodeCount)

	for i := range backupCodeCount {
		code, err := cryptox.RandomString(backupCodeAlphabet, backupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		hash, err := cryptox.HashPassword(code)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		plaintext[i] = code
		records[i] = domain.BackupCode{
			ID:        idx.New().String(),
			AccountID: accountID,
			CodeHash:  hash,
		}
	}
	return plaintext, records, nil
}

// Generate replaces the account's entire code set with a fresh one in a
// single transaction, so old and new sets can never mix. The returned
// plaintext is shown once and never reconstructable.
func (v *BackupCodeVault) Generate(ctx context.Context, accountID string) ([]string, error) {
	plaintext, records, err := v.mint(accountID)
	if err != nil {
		return nil, err
	}

	err = v.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, accountID); err != nil {
			return err
		}
		for _, rec := range records {
			if err := tx.BackupCodes().CreateBackupCode(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Redeem consumes one unused code matching the candidate. It fails closed:
// no remaining codes is no_codes_remaining, a mismatch is invalid_code, and
// a code concurrently consumed by another device is invalid_code too, since
// ConsumeBackupCode's compare-and-set guarantees at-most-once redemption.
func (v *BackupCodeVault) Redeem(ctx context.Context, accountID, candidate string) error {
	candidate = strings.ToUpper(strings.TrimSpace(candidate))
	if candidate == "" {
		return domain.ErrInvalidCode
	}

	unused, err := v.Store.BackupCodes().ListUnusedBackupCodes(ctx, accountID)
	if err != nil {
		return err
	}
	if len(unused) == 0 {
		return domain.ErrNoCodesRemaining
	}

	for _, rec := range unused {
		if cryptox.VerifyPassword(candidate, rec.CodeHash) != nil {
			continue
		}
		consumed, err := v.Store.BackupCodes().ConsumeBackupCode(ctx, rec.ID, time.Now())
		if err != nil {
			return err
		}
		if !consumed {
			// Lost the race to a concurrent redemption of the same code.
			return domain.ErrInvalidCode
		}
		return nil
	}
	return domain.ErrInvalidCode
}

// Remaining returns how many codes are still redeemable. This backs the
// "view codes" surface: counts are viewable, plaintext is not.
func (v *BackupCodeVault) Remaining(ctx context.Context, accountID string) (int, error) {
	return v.Store.BackupCodes().CountUnusedBackupCodes(ctx, accountID)
}
