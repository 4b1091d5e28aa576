package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/authcore/internal/authcore/cache"
	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/identity"
	"github.com/halcyonlabs/authcore/internal/authcore/service"
	"github.com/halcyonlabs/authcore/internal/authcore/store/drivers/sqlite"
	"github.com/halcyonlabs/authcore/pkg/cryptox"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "http-test")
	if err != nil {
		os.Exit(1)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type testEnv struct {
	router *Router
	auth   *service.AuthService
	mfa    *service.MFAService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := &identity.LocalProvider{
		Store:      st,
		Logger:     logger,
		Issuer:     "authcore-test",
		SigningKey: []byte("test-signing-key"),
	}
	mfa := &service.MFAService{
		Store: st,
		TOTP:  &service.TOTPEngine{Issuer: "authcore-test"},
		Vault: &service.BackupCodeVault{Store: st},
	}
	tracker := &service.LoginAttemptTracker{
		Store:        st,
		Cache:        cache.NewMemory(),
		Window:       15 * time.Minute,
		Threshold:    3,
		LockDuration: 15 * time.Minute,
	}
	auth := &service.AuthService{
		Provider: provider,
		Tracker:  tracker,
		MFA:      mfa,
		Sessions: &service.SessionManager{Provider: provider, Logger: logger},
		Logger:   logger,
	}

	router := NewRouter(provider, "test", st, logger)
	router.AuthService = auth
	router.MFAService = mfa
	router.Tracker = tracker
	router.ApplyRoutes()

	return &testEnv{router: router, auth: auth, mfa: mfa}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestSignUpEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/auth/signup", "", map[string]string{
		"email":    "new@example.com",
		"password": "Str0ng!Password",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	require.NotEmpty(t, body["id"])
	require.Equal(t, "new@example.com", body["email"])
	require.Equal(t, "disabled", body["mfa_state"])
}

func TestSignUpWeakPasswordEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/auth/signup", "", map[string]string{
		"email":    "weak@example.com",
		"password": "short",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	require.Equal(t, "weak_password", body["error"])
	require.NotNil(t, body["policy"])
}

func TestSignUpBadJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/v1/auth/signup", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignInEndpoint(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "user@example.com")

	rec := env.do(t, "POST", "/v1/auth/signin", "", map[string]string{
		"email":    "user@example.com",
		"password": "Str0ng!Password",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[signInResponse](t, rec)
	require.False(t, body.MFARequired)
	require.NotNil(t, body.Session)
	require.NotEmpty(t, body.Session.AccessToken)
}

func TestSignInWrongPasswordEndpoint(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "user@example.com")

	rec := env.do(t, "POST", "/v1/auth/signin", "", map[string]string{
		"email":    "user@example.com",
		"password": "Wrong1!Password",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "invalid_credentials", body["error"])
}

func TestLockoutEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "target@example.com")

	for i := 0; i < 3; i++ {
		rec := env.do(t, "POST", "/v1/auth/signin", "", map[string]string{
			"email":    "target@example.com",
			"password": "Wrong1!Password",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// Correct password, but locked.
	rec := env.do(t, "POST", "/v1/auth/signin", "", map[string]string{
		"email":    "target@example.com",
		"password": "Str0ng!Password",
	})
	require.Equal(t, http.StatusLocked, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "account_locked", body["error"])
}

func TestMFAEndpointsFullFlow(t *testing.T) {
	env := newTestEnv(t)
	account := signUp(t, env, "mfa@example.com")
	token := bearerFor(t, env, account.ID)

	// Setup.
	rec := env.do(t, "POST", "/v1/mfa/setup", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	setup := decodeBody[mfaSetupResponse](t, rec)
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.ProvisioningURI, "otpauth://totp/")
	require.Len(t, setup.BackupCodes, 8)

	// Activate with a real code.
	code, err := env.mfa.TOTP.CurrentCode(setup.Secret, time.Now())
	require.NoError(t, err)
	rec = env.do(t, "POST", "/v1/mfa/activate", token, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code)

	// Sign-in now withholds the session.
	rec = env.do(t, "POST", "/v1/auth/signin", "", map[string]string{
		"email":    "mfa@example.com",
		"password": "Str0ng!Password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	signin := decodeBody[signInResponse](t, rec)
	require.True(t, signin.MFARequired)
	require.Nil(t, signin.Session)
	require.NotEmpty(t, signin.MFAChallenge)

	// A wrong code burns an attempt and reports what is left.
	rec = env.do(t, "POST", "/v1/auth/signin/mfa", "", map[string]string{
		"challenge": signin.MFAChallenge,
		"code":      "000000",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	failed := decodeBody[map[string]any](t, rec)
	require.Equal(t, "invalid_code", failed["error"])
	require.Equal(t, float64(4), failed["attempts_remaining"])

	// Complete with TOTP.
	code, err = env.mfa.TOTP.CurrentCode(setup.Secret, time.Now())
	require.NoError(t, err)
	rec = env.do(t, "POST", "/v1/auth/signin/mfa", "", map[string]string{
		"challenge": signin.MFAChallenge,
		"code":      code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	completed := decodeBody[signInResponse](t, rec)
	require.NotNil(t, completed.Session)
	require.NotEmpty(t, completed.Session.AccessToken)

	// Remaining backup codes view.
	rec = env.do(t, "GET", "/v1/mfa/backup-codes", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	remaining := decodeBody[map[string]int](t, rec)
	require.Equal(t, 8, remaining["remaining"])
}

func TestMFASignInEndpointRejectsUnknownChallenge(t *testing.T) {
	env := newTestEnv(t)
	account := signUp(t, env, "mfa@example.com")
	token := bearerFor(t, env, account.ID)

	rec := env.do(t, "POST", "/v1/mfa/setup", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	setup := decodeBody[mfaSetupResponse](t, rec)

	code, err := env.mfa.TOTP.CurrentCode(setup.Secret, time.Now())
	require.NoError(t, err)
	rec = env.do(t, "POST", "/v1/mfa/activate", token, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code)

	// A valid code without a challenge from the password step gets nothing.
	code, err = env.mfa.TOTP.CurrentCode(setup.Secret, time.Now())
	require.NoError(t, err)
	rec = env.do(t, "POST", "/v1/auth/signin/mfa", "", map[string]string{
		"challenge": "not-a-challenge-token",
		"code":      code,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "invalid_credentials", body["error"])

	rec = env.do(t, "POST", "/v1/auth/signin/mfa", "", map[string]string{"code": code})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMFASetupRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/mfa/setup", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	rec = env.do(t, "POST", "/v1/mfa/setup", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMFAActivateWrongCodeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	account := signUp(t, env, "mfa@example.com")
	token := bearerFor(t, env, account.ID)

	rec := env.do(t, "POST", "/v1/mfa/setup", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "POST", "/v1/mfa/activate", token, map[string]string{"code": "000000"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "invalid_code", body["error"])
}

func TestMFAActivateInvalidStateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	account := signUp(t, env, "mfa@example.com")
	token := bearerFor(t, env, account.ID)

	// No setup was done.
	rec := env.do(t, "POST", "/v1/mfa/activate", token, map[string]string{"code": "123456"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "invalid_state", body["error"])
}

func TestPasswordCheckEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/v1/password/check", "", map[string]string{
		"password": "Str0ng!Password123",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	require.Equal(t, true, body["is_valid"])
	require.NotEmpty(t, body["strength"])
}

func TestPasswordResetEndpoints(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "forgetful@example.com")

	rec := env.do(t, "POST", "/v1/password/reset", "", map[string]string{
		"email": "forgetful@example.com",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Unknown email looks identical.
	rec = env.do(t, "POST", "/v1/password/reset", "", map[string]string{
		"email": "ghost@example.com",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// A bogus confirm token is rejected.
	rec = env.do(t, "POST", "/v1/password/reset/confirm", "", map[string]string{
		"token":        "bogus",
		"new_password": "NewStr0ng!Pass1",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "cycle@example.com")

	rec := env.do(t, "POST", "/v1/auth/signin", "", map[string]string{
		"email":    "cycle@example.com",
		"password": "Str0ng!Password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	signin := decodeBody[signInResponse](t, rec)

	// Fresh session comes back unchanged.
	rec = env.do(t, "POST", "/v1/auth/refresh", "", map[string]any{"session": signin.Session})
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decodeBody[domain.Session](t, rec)
	require.Equal(t, signin.Session.RefreshToken, refreshed.RefreshToken)
}

func TestSignOutEndpoint(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "leaver@example.com")

	rec := env.do(t, "POST", "/v1/auth/signin", "", map[string]string{
		"email":    "leaver@example.com",
		"password": "Str0ng!Password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	signin := decodeBody[signInResponse](t, rec)

	rec = env.do(t, "POST", "/v1/auth/signout", "", map[string]any{"session": signin.Session})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Idempotent.
	rec = env.do(t, "POST", "/v1/auth/signout", "", map[string]any{"session": signin.Session})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLockoutStatusAndUnlockEndpoints(t *testing.T) {
	env := newTestEnv(t)
	account := signUp(t, env, "admin@example.com")
	token := bearerFor(t, env, account.ID)
	signUp(t, env, "locked@example.com")

	for i := 0; i < 3; i++ {
		env.do(t, "POST", "/v1/auth/signin", "", map[string]string{
			"email":    "locked@example.com",
			"password": "Wrong1!Password",
		})
	}

	rec := env.do(t, "GET", "/v1/lockout/status?email=locked@example.com", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[domain.AccountStatus](t, rec)
	require.True(t, status.IsLocked)
	require.Equal(t, 3, status.FailureCount)

	rec = env.do(t, "POST", "/v1/lockout/unlock", token, map[string]string{
		"email": "locked@example.com",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, "GET", "/v1/lockout/status?email=locked@example.com", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decodeBody[domain.AccountStatus](t, rec)
	require.False(t, status.IsLocked)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/livez", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[healthResponse](t, rec)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "ok", body.Checks["database"])
}

func signUp(t *testing.T, env *testEnv, email string) domain.Account {
	t.Helper()

	account, err := env.auth.SignUp(context.Background(), email, "Str0ng!Password")
	require.NoError(t, err)
	return account
}

func bearerFor(t *testing.T, env *testEnv, accountID string) string {
	t.Helper()

	session, err := env.auth.Provider.IssueSession(context.Background(), accountID)
	require.NoError(t, err)
	return session.AccessToken
}
