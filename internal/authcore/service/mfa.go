package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
	"github.com/halcyonlabs/authcore/pkg/cryptox"
	"github.com/halcyonlabs/authcore/pkg/idx"
)

// MFAService owns the per-account MFA state machine and composes the TOTP
// engine with the backup code vault. Any call from a state that does not
// permit the requested transition fails with domain.ErrInvalidState instead
// of silently no-op-ing.
type MFAService struct {
	Store store.Store
	TOTP  *TOTPEngine
	Vault *BackupCodeVault
}

// SetupMFA starts (or restarts) enrollment. Valid from disabled and from the
// two pending states: re-running setup supersedes the stale secret and
// replaces the staged backup codes. Not valid once active; deactivate first.
// The account is NOT marked MFA-enabled here; that happens only after
// VerifyAndActivate succeeds.
func (s *MFAService) SetupMFA(ctx context.Context, accountID string) (domain.MFASetupResponse, error) {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return domain.MFASetupResponse{}, err
	}
	if account.MFAState == domain.MFAActive {
		return domain.MFASetupResponse{}, domain.ErrInvalidState
	}

	// Mark enrollment as started before minting anything. An interrupted
	// setup leaves the account observable in pending_setup, and a restart
	// from there supersedes whatever was staged.
	if err := s.Store.Accounts().UpdateMFAState(ctx, accountID, domain.MFAPendingSetup, nil); err != nil {
		return domain.MFASetupResponse{}, err
	}

	key, err := s.TOTP.GenerateKey(account.Email)
	if err != nil {
		return domain.MFASetupResponse{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	sealed, err := cryptox.SealSecret([]byte(key.Secret()))
	if err != nil {
		return domain.MFASetupResponse{}, fmt.Errorf("failed to seal MFA secret: %w", err)
	}

	plaintext, records, err := s.Vault.mint(accountID)
	if err != nil {
		return domain.MFASetupResponse{}, err
	}

	now := time.Now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFASecrets().SupersedeMFASecrets(ctx, accountID, now); err != nil {
			return err
		}
		if err := tx.MFASecrets().CreateMFASecret(ctx, domain.MFASecret{
			ID:              idx.New().String(),
			AccountID:       accountID,
			SecretEncrypted: sealed,
		}); err != nil {
			return err
		}

		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, accountID); err != nil {
			return err
		}
		for _, rec := range records {
			if err := tx.BackupCodes().CreateBackupCode(ctx, rec); err != nil {
				return err
			}
		}

		return tx.Accounts().UpdateMFAState(ctx, accountID, domain.MFAPendingVerification, nil)
	})
	if err != nil {
		return domain.MFASetupResponse{}, err
	}

	return domain.MFASetupResponse{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     plaintext,
	}, nil
}

// VerifyAndActivate confirms the user's authenticator produces valid codes
// and only then enables MFA on the account. Valid only from
// pending_verification. On a bad code the state is unchanged.
func (s *MFAService) VerifyAndActivate(ctx context.Context, accountID, code string) error {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.MFAState != domain.MFAPendingVerification {
		return domain.ErrInvalidState
	}

	secret, err := s.pendingSecret(ctx, accountID)
	if err != nil {
		return err
	}

	if !s.TOTP.Verify(secret.plaintext, code, time.Now()) {
		return domain.ErrInvalidCode
	}

	now := time.Now()
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFASecrets().ActivateMFASecret(ctx, secret.id); err != nil {
			return err
		}
		return tx.Accounts().UpdateMFAState(ctx, accountID, domain.MFAActive, &now)
	})
}

// VerifyCode is the login-time TOTP check. Valid only while MFA is active.
// It never locks by itself; the orchestrator feeds failures into the login
// attempt tracker so repeated failures hit the same lockout as passwords.
func (s *MFAService) VerifyCode(ctx context.Context, accountID, code string) error {
	secret, err := s.activeSecret(ctx, accountID)
	if err != nil {
		return err
	}
	if !s.TOTP.Verify(secret.plaintext, code, time.Now()) {
		return domain.ErrInvalidCode
	}
	return nil
}

// VerifyBackupCode redeems a single-use fallback code. Valid only while MFA
// is active.
func (s *MFAService) VerifyBackupCode(ctx context.Context, accountID, code string) error {
	if err := s.requireActive(ctx, accountID); err != nil {
		return err
	}
	return s.Vault.Redeem(ctx, accountID, code)
}

// RegenerateBackupCodes invalidates the entire previous set and issues a
// fresh one. A valid TOTP code is required first so a stolen session alone
// cannot rotate codes.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if err := s.VerifyCode(ctx, accountID, code); err != nil {
		return nil, err
	}
	return s.Vault.Generate(ctx, accountID)
}

// RemainingBackupCodes reports how many codes are still unused. Viewing is
// deliberately distinct from regenerating: it never touches the stored set.
func (s *MFAService) RemainingBackupCodes(ctx context.Context, accountID string) (int, error) {
	if err := s.requireActive(ctx, accountID); err != nil {
		return 0, err
	}
	return s.Vault.Remaining(ctx, accountID)
}

// Deactivate clears the secret and every backup code, returning the account
// to disabled. Valid only from active. Re-authentication before calling this
// is the caller's responsibility.
func (s *MFAService) Deactivate(ctx context.Context, accountID string) error {
	if err := s.requireActive(ctx, accountID); err != nil {
		return err
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFASecrets().DeleteMFASecrets(ctx, accountID); err != nil {
			return err
		}
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, accountID); err != nil {
			return err
		}
		return tx.Accounts().UpdateMFAState(ctx, accountID, domain.MFADisabled, nil)
	})
}

// State returns the account's current MFA state.
func (s *MFAService) State(ctx context.Context, accountID string) (domain.MFAState, error) {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	return account.MFAState, nil
}

func (s *MFAService) requireActive(ctx context.Context, accountID string) error {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.MFAState != domain.MFAActive {
		return domain.ErrInvalidState
	}
	return nil
}

type unsealedSecret struct {
	id        string
	plaintext string
}

func (s *MFAService) pendingSecret(ctx context.Context, accountID string) (unsealedSecret, error) {
	return s.currentSecret(ctx, accountID, false)
}

func (s *MFAService) activeSecret(ctx context.Context, accountID string) (unsealedSecret, error) {
	if err := s.requireActive(ctx, accountID); err != nil {
		return unsealedSecret{}, err
	}
	return s.currentSecret(ctx, accountID, true)
}

func (s *MFAService) currentSecret(ctx context.Context, accountID string, wantActive bool) (unsealedSecret, error) {
	rec, err := s.Store.MFASecrets().GetCurrentMFASecret(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return unsealedSecret{}, domain.ErrInvalidState
		}
		return unsealedSecret{}, err
	}
	if rec.Active != wantActive {
		return unsealedSecret{}, domain.ErrInvalidState
	}

	plaintext, err := cryptox.OpenSecret(rec.SecretEncrypted)
	if err != nil {
		return unsealedSecret{}, fmt.Errorf("failed to open MFA secret: %w", err)
	}
	return unsealedSecret{id: rec.ID, plaintext: string(plaintext)}, nil
}
