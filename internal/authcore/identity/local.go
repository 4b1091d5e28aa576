package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
	"github.com/halcyonlabs/authcore/pkg/cryptox"
	"github.com/halcyonlabs/authcore/pkg/idx"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultResetTTL   = 30 * time.Minute
)

var (
	ErrInvalidRefresh = errors.New("invalid_refresh_token")
	ErrInvalidReset   = errors.New("invalid_reset_token")
)

// LocalProvider is a store-backed Provider. Access tokens are HS256 JWTs;
// refresh and reset tokens are opaque, stored only by SHA-256 fingerprint.
type LocalProvider struct {
	Store      store.Store
	Logger     *slog.Logger
	Issuer     string
	SigningKey []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

func (p *LocalProvider) accessTTL() time.Duration {
	if p.AccessTTL > 0 {
		return p.AccessTTL
	}
	return DefaultAccessTTL
}

func (p *LocalProvider) refreshTTL() time.Duration {
	if p.RefreshTTL > 0 {
		return p.RefreshTTL
	}
	return DefaultRefreshTTL
}

func (p *LocalProvider) resetTTL() time.Duration {
	if p.ResetTTL > 0 {
		return p.ResetTTL
	}
	return DefaultResetTTL
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (domain.Account, error) {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to hash password: %w", err)
	}

	account := domain.Account{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: hash,
		MFAState:     domain.MFADisabled,
	}
	if err := p.Store.Accounts().CreateAccount(ctx, account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (domain.Account, error) {
	account, err := p.Store.Accounts().GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn comparable time so an unknown email is not distinguishable
			// from a wrong password by latency.
			_ = cryptox.VerifyPassword(password, dummyHash)
			return domain.Account{}, domain.ErrInvalidCredentials
		}
		return domain.Account{}, err
	}

	if err := cryptox.VerifyPassword(password, account.PasswordHash); err != nil {
		return domain.Account{}, domain.ErrInvalidCredentials
	}

	return account, nil
}

func (p *LocalProvider) IssueSession(ctx context.Context, accountID string) (domain.Session, error) {
	now := time.Now()
	expiresAt := now.Add(p.accessTTL())

	access, err := p.signAccess(accountID, now, expiresAt)
	if err != nil {
		return domain.Session{}, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, err
	}

	record := domain.RefreshToken{
		ID:        idx.New().String(),
		AccountID: accountID,
		TokenHash: cryptox.FingerprintToken(refreshOpaque),
		ExpiresAt: now.Add(p.refreshTTL()),
	}
	if err := p.Store.RefreshTokens().CreateRefreshToken(ctx, record); err != nil {
		return domain.Session{}, err
	}

	return domain.Session{
		AccessToken:  access,
		RefreshToken: refreshOpaque,
		ExpiresAt:    expiresAt,
	}, nil
}

// RefreshSession rotates the refresh token: the old record is revoked and a
// new pair issued inside one transaction, so a replayed old token fails.
func (p *LocalProvider) RefreshSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	fp := cryptox.FingerprintToken(session.RefreshToken)

	record, err := p.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrInvalidRefresh
		}
		return domain.Session{}, err
	}

	now := time.Now()
	if record.Revoked || now.After(record.ExpiresAt) {
		return domain.Session{}, ErrInvalidRefresh
	}

	access, err := p.signAccess(record.AccountID, now, now.Add(p.accessTTL()))
	if err != nil {
		return domain.Session{}, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, err
	}

	err = p.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, fp); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:        idx.New().String(),
			AccountID: record.AccountID,
			TokenHash: cryptox.FingerprintToken(refreshOpaque),
			ExpiresAt: now.Add(p.refreshTTL()),
		})
	})
	if err != nil {
		return domain.Session{}, err
	}

	return domain.Session{
		AccessToken:  access,
		RefreshToken: refreshOpaque,
		ExpiresAt:    now.Add(p.accessTTL()),
	}, nil
}

func (p *LocalProvider) SignOut(ctx context.Context, session domain.Session) error {
	fp := cryptox.FingerprintToken(session.RefreshToken)
	err := p.Store.RefreshTokens().RevokeRefreshToken(ctx, fp)
	if errors.Is(err, store.ErrNotFound) {
		// Already revoked or never issued. Sign-out is idempotent.
		return nil
	}
	return err
}

func (p *LocalProvider) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return p.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().UpdatePasswordHash(ctx, accountID, hash); err != nil {
			return err
		}
		return tx.RefreshTokens().RevokeAllAccountRefreshTokens(ctx, accountID)
	})
}

func (p *LocalProvider) ResetPasswordForEmail(ctx context.Context, email string) error {
	account, err := p.Store.Accounts().GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Do not leak which emails exist.
			return nil
		}
		return err
	}

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return err
	}

	record := domain.ResetToken{
		ID:        idx.New().String(),
		AccountID: account.ID,
		TokenHash: cryptox.FingerprintToken(opaque),
		ExpiresAt: time.Now().Add(p.resetTTL()),
	}
	if err := p.Store.ResetTokens().CreateResetToken(ctx, record); err != nil {
		return err
	}

	if p.Logger != nil {
		// Delivery is out of scope here; the application shell picks the token
		// up and emails it.
		p.Logger.Info("password reset token issued", "account_id", account.ID)
	}
	return nil
}

func (p *LocalProvider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	fp := cryptox.FingerprintToken(token)

	record, err := p.Store.ResetTokens().GetActiveResetTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidReset
		}
		return err
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	return p.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.ResetTokens().MarkResetTokenUsed(ctx, record.ID, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidReset // consumed by a concurrent redemption
			}
			return err
		}
		if err := tx.Accounts().UpdatePasswordHash(ctx, record.AccountID, hash); err != nil {
			return err
		}
		return tx.RefreshTokens().RevokeAllAccountRefreshTokens(ctx, record.AccountID)
	})
}

// VerifyAccessToken implements httpx.TokenVerifier for the HTTP surface.
func (p *LocalProvider) VerifyAccessToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.SigningKey, nil
	}, jwt.WithIssuer(p.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("missing subject claim")
	}
	return claims.Subject, nil
}

func (p *LocalProvider) signAccess(accountID string, now, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    p.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.SigningKey)
}

// dummyHash keeps sign-in timing flat for unknown emails.
const dummyHash = "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
