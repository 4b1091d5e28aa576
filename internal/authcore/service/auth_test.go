package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/authcore/internal/authcore/cache"
	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/identity"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
	"github.com/halcyonlabs/authcore/pkg/cryptox"
	"github.com/halcyonlabs/authcore/pkg/idx"
)

const testPassword = "Correct1!Password"

func newTestAuthService(t *testing.T) (*AuthService, store.Store) {
	t.Helper()

	st := newTestStore(t)
	provider := &identity.LocalProvider{
		Store:      st,
		Logger:     testLogger(),
		Issuer:     "authcore-test",
		SigningKey: []byte("test-signing-key"),
	}
	mfa := &MFAService{
		Store: st,
		TOTP:  &TOTPEngine{Issuer: "authcore-test"},
		Vault: &BackupCodeVault{Store: st},
	}
	svc := &AuthService{
		Provider: provider,
		Tracker: &LoginAttemptTracker{
			Store:        st,
			Cache:        cache.NewMemory(),
			Window:       15 * time.Minute,
			Threshold:    3,
			LockDuration: 15 * time.Minute,
		},
		MFA: mfa,
		Sessions: &SessionManager{
			Provider: provider,
			Logger:   testLogger(),
		},
		Logger: testLogger(),
	}
	return svc, st
}

func TestSignUpAndSignIn(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "new@example.com", testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, account.ID)
	require.Equal(t, domain.MFADisabled, account.MFAState)

	result, err := svc.SignIn(ctx, "new@example.com", testPassword)
	require.NoError(t, err)
	require.False(t, result.MFARequired)
	require.NotEmpty(t, result.Session.AccessToken)
	require.NotEmpty(t, result.Session.RefreshToken)
	require.Equal(t, account.ID, result.Account.ID)
}

func TestSignUpWeakPassword(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.SignUp(context.Background(), "weak@example.com", "short")
	var weak *WeakPasswordError
	require.ErrorAs(t, err, &weak)
	require.NotEmpty(t, weak.Result.Errors)
	require.False(t, weak.Result.Valid)
}

func TestSignInWrongPassword(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "user@example.com", testPassword)
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, "user@example.com", "Wrong1!Password")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	status, err := svc.Tracker.AccountStatus(ctx, "user@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, status.FailureCount)
}

func TestSignInUnknownEmail(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.SignIn(context.Background(), "ghost@example.com", testPassword)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLockoutShortCircuitsBeforeCredentialCheck(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "target@example.com", testPassword)
	require.NoError(t, err)

	// Three failures lock the account.
	for i := 0; i < 3; i++ {
		_, err := svc.SignIn(ctx, "target@example.com", "Wrong1!Password")
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	// The fourth attempt fails closed even with the correct password, and
	// the failure audit does not grow: the provider was never consulted.
	_, err = svc.SignIn(ctx, "target@example.com", testPassword)
	require.ErrorIs(t, err, domain.ErrAccountLocked)

	status, err := svc.Tracker.AccountStatus(ctx, "target@example.com")
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	require.Equal(t, 3, status.FailureCount)
}

func TestUnlockAccountRestoresSignIn(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "redeemed@example.com", testPassword)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _ = svc.SignIn(ctx, "redeemed@example.com", "Wrong1!Password")
	}
	_, err = svc.SignIn(ctx, "redeemed@example.com", testPassword)
	require.ErrorIs(t, err, domain.ErrAccountLocked)

	require.NoError(t, svc.UnlockAccount(ctx, "redeemed@example.com"))

	result, err := svc.SignIn(ctx, "redeemed@example.com", testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, result.Session.AccessToken)
}

// signInChallenge runs the password step and returns the MFA challenge token
// it minted.
func signInChallenge(t *testing.T, svc *AuthService, email string) string {
	t.Helper()

	result, err := svc.SignIn(context.Background(), email, testPassword)
	require.NoError(t, err)
	require.True(t, result.MFARequired)
	require.NotEmpty(t, result.MFAChallenge)
	return result.MFAChallenge
}

func TestSignInWithMFAActiveWithholdsSession(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "mfa@example.com", testPassword)
	require.NoError(t, err)
	setup := activateMFA(t, svc.MFA, account.ID)

	result, err := svc.SignIn(ctx, "mfa@example.com", testPassword)
	require.NoError(t, err)
	require.True(t, result.MFARequired)
	require.Empty(t, result.Session.AccessToken, "no session before the second factor")
	require.NotEmpty(t, result.MFAChallenge)

	// TOTP completes the flow.
	code := currentCode(t, svc.MFA, setup.Secret)
	completed, err := svc.CompleteMFASignIn(ctx, result.MFAChallenge, code)
	require.NoError(t, err)
	require.NotEmpty(t, completed.Session.AccessToken)
	require.False(t, completed.MFARequired)
}

func TestCompleteMFASignInWithBackupCode(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "fallback@example.com", testPassword)
	require.NoError(t, err)
	setup := activateMFA(t, svc.MFA, account.ID)

	challenge := signInChallenge(t, svc, "fallback@example.com")
	completed, err := svc.CompleteMFASignIn(ctx, challenge, setup.BackupCodes[0])
	require.NoError(t, err)
	require.NotEmpty(t, completed.Session.AccessToken)

	// The code is spent: a later sign-in cannot reuse it.
	challenge = signInChallenge(t, svc, "fallback@example.com")
	_, err = svc.CompleteMFASignIn(ctx, challenge, setup.BackupCodes[0])
	require.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestCompleteMFASignInRequiresPasswordStep(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "shortcut@example.com", testPassword)
	require.NoError(t, err)
	setup := activateMFA(t, svc.MFA, account.ID)

	// A valid second factor alone must not mint a session: without a
	// challenge from the password step there is nothing to redeem.
	code := currentCode(t, svc.MFA, setup.Secret)
	result, err := svc.CompleteMFASignIn(ctx, "not-a-challenge-token", code)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	require.Empty(t, result.Session.AccessToken)

	result, err = svc.CompleteMFASignIn(ctx, "", setup.BackupCodes[0])
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	require.Empty(t, result.Session.AccessToken)
}

func TestMFAChallengeSingleUse(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "replay@example.com", testPassword)
	require.NoError(t, err)
	setup := activateMFA(t, svc.MFA, account.ID)

	challenge := signInChallenge(t, svc, "replay@example.com")
	code := currentCode(t, svc.MFA, setup.Secret)
	_, err = svc.CompleteMFASignIn(ctx, challenge, code)
	require.NoError(t, err)

	// The challenge was consumed on success; replaying it fails even with a
	// valid code.
	_, err = svc.CompleteMFASignIn(ctx, challenge, currentCode(t, svc.MFA, setup.Secret))
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestExpiredMFAChallengeRejected(t *testing.T) {
	svc, st := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "tardy@example.com", testPassword)
	require.NoError(t, err)
	setup := activateMFA(t, svc.MFA, account.ID)

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.NoError(t, st.MFAChallenges().CreateMFAChallenge(ctx, domain.MFAChallenge{
		ID:        idx.New().String(),
		AccountID: account.ID,
		Email:     "tardy@example.com",
		TokenHash: cryptox.FingerprintToken(opaque),
		ExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt: time.Now().Add(-10 * time.Minute),
	}))

	_, err = svc.CompleteMFASignIn(ctx, opaque, currentCode(t, svc.MFA, setup.Secret))
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestBackupCodeReachableAfterWrongTOTPCodes(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "fumbler@example.com", testPassword)
	require.NoError(t, err)
	setup := activateMFA(t, svc.MFA, account.ID)

	challenge := signInChallenge(t, svc, "fumbler@example.com")

	// Three wrong authenticator codes burn attempts but leave the challenge
	// alive, so the backup code still works on the same sign-in.
	for i := 0; i < 3; i++ {
		_, err := svc.CompleteMFASignIn(ctx, challenge, "000000")
		require.ErrorIs(t, err, domain.ErrInvalidCode)

		var codeErr *MFACodeError
		require.ErrorAs(t, err, &codeErr)
		require.Equal(t, MaxMFAAttempts-(i+1), codeErr.AttemptsRemaining)
	}

	completed, err := svc.CompleteMFASignIn(ctx, challenge, setup.BackupCodes[0])
	require.NoError(t, err)
	require.NotEmpty(t, completed.Session.AccessToken)
}

func TestExhaustedMFAChallengeDiesAndCountsOneFailure(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "hammered@example.com", testPassword)
	require.NoError(t, err)
	setup := activateMFA(t, svc.MFA, account.ID)

	challenge := signInChallenge(t, svc, "hammered@example.com")
	for i := 0; i < MaxMFAAttempts-1; i++ {
		_, err := svc.CompleteMFASignIn(ctx, challenge, "000000")
		require.ErrorIs(t, err, domain.ErrInvalidCode)
	}

	// The final attempt kills the challenge outright.
	_, err = svc.CompleteMFASignIn(ctx, challenge, "000000")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	// Exhaustion records exactly one lockout failure, and the dead challenge
	// cannot be revived with a valid code.
	status, err := svc.Tracker.AccountStatus(ctx, "hammered@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, status.FailureCount)

	_, err = svc.CompleteMFASignIn(ctx, challenge, currentCode(t, svc.MFA, setup.Secret))
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	// A fresh password sign-in mints a new challenge that works.
	challenge = signInChallenge(t, svc, "hammered@example.com")
	completed, err := svc.CompleteMFASignIn(ctx, challenge, currentCode(t, svc.MFA, setup.Secret))
	require.NoError(t, err)
	require.NotEmpty(t, completed.Session.AccessToken)
}

func TestSuccessfulMFASignInResetsCounter(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "recovers@example.com", testPassword)
	require.NoError(t, err)
	setup := activateMFA(t, svc.MFA, account.ID)

	// A stale password failure from before this sign-in.
	_, err = svc.SignIn(ctx, "recovers@example.com", "Wrong1!Password")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	challenge := signInChallenge(t, svc, "recovers@example.com")
	_, err = svc.CompleteMFASignIn(ctx, challenge, currentCode(t, svc.MFA, setup.Secret))
	require.NoError(t, err)

	status, err := svc.Tracker.AccountStatus(ctx, "recovers@example.com")
	require.NoError(t, err)
	require.Equal(t, 0, status.FailureCount)
}

func TestSignOutAndRefresh(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "cycle@example.com", testPassword)
	require.NoError(t, err)

	result, err := svc.SignIn(ctx, "cycle@example.com", testPassword)
	require.NoError(t, err)

	// A fresh session passes through unchanged.
	same, err := svc.Refresh(ctx, result.Session)
	require.NoError(t, err)
	require.Equal(t, result.Session, same)

	require.NoError(t, svc.SignOut(ctx, result.Session))
	// Idempotent.
	require.NoError(t, svc.SignOut(ctx, result.Session))

	// A signed-out session cannot refresh once near expiry.
	nearExpiry := result.Session
	nearExpiry.ExpiresAt = time.Now().Add(time.Minute)
	_, err = svc.Refresh(ctx, nearExpiry)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestUpdatePasswordRevokesSessions(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "rotator@example.com", testPassword)
	require.NoError(t, err)

	result, err := svc.SignIn(ctx, "rotator@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, svc.UpdatePassword(ctx, account.ID, "NewStr0ng!Password"))

	// Old password is dead, old refresh token revoked.
	_, err = svc.SignIn(ctx, "rotator@example.com", testPassword)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	nearExpiry := result.Session
	nearExpiry.ExpiresAt = time.Now().Add(time.Minute)
	_, err = svc.Refresh(ctx, nearExpiry)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, "rotator@example.com", "NewStr0ng!Password")
	require.NoError(t, err)
}

func TestUpdatePasswordRejectsWeak(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	account, err := svc.SignUp(ctx, "lazy@example.com", testPassword)
	require.NoError(t, err)

	var weak *WeakPasswordError
	require.ErrorAs(t, svc.UpdatePassword(ctx, account.ID, "short"), &weak)
}

func TestCheckPassword(t *testing.T) {
	svc, _ := newTestAuthService(t)

	result := svc.CheckPassword(testPassword)
	require.True(t, result.Valid)
	require.Greater(t, result.Score, 0)

	result = svc.CheckPassword("short")
	require.False(t, result.Valid)
}

func TestOpTimeoutSurfacesAsTimeout(t *testing.T) {
	svc, _ := newTestAuthService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SignIn(ctx, "anyone@example.com", testPassword)
	require.Equal(t, "timeout", domain.ErrorCode(err))
}
