package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChainOrdering(t *testing.T) {
	var order []string

	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), tag("outer"), tag("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

type stubVerifier struct {
	accountID string
	err       error
}

func (v stubVerifier) VerifyAccessToken(token string) (string, error) {
	return v.accountID, v.err
}

func TestAuthnMiddleware(t *testing.T) {
	var gotAccountID string
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccountID = AccountIDFromContext(r.Context())
	}), AuthnMiddleware(stubVerifier{accountID: "acct-1"}))

	// Missing header.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")

	// Wrong scheme.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid bearer token reaches the handler with the account in context.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "acct-1", gotAccountID)
}

func TestAuthnMiddlewareVerifierError(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}), AuthnMiddleware(stubVerifier{err: errors.New("expired")}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIPKeyExtractor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7:4123"
	require.Equal(t, "203.0.113.7", IPKeyExtractor(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "198.51.100.2", IPKeyExtractor(req))

	// X-Forwarded-For wins, first hop only.
	req.Header.Set("X-Forwarded-For", "192.0.2.1, 198.51.100.2")
	require.Equal(t, "192.0.2.1", IPKeyExtractor(req))
}

func TestCompositeKeyExtractorSkipsEmpty(t *testing.T) {
	extractor := CompositeKeyExtractor(":",
		func(*http.Request) string { return "" },
		func(*http.Request) string { return "a" },
		func(*http.Request) string { return "b" },
	)
	require.Equal(t, "a:b", extractor(httptest.NewRequest("GET", "/", nil)))
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerWindow: 2, Window: time.Minute, Burst: 2}
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), RateLimitByIP(cfg))

	send := func(addr string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send("192.0.2.1:1000").Code)
	require.Equal(t, http.StatusOK, send("192.0.2.1:1001").Code)

	rec := send("192.0.2.1:1002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different client is unaffected.
	require.Equal(t, http.StatusOK, send("192.0.2.99:1000").Code)
}

func TestParseRateLimitFromEnv(t *testing.T) {
	t.Setenv("RATELIMIT_TEST_REQUESTS", "42")
	t.Setenv("RATELIMIT_TEST_WINDOW_SEC", "30")
	t.Setenv("RATELIMIT_TEST_BURST", "7")

	cfg := ParseRateLimitFromEnv("TEST", RateLimitConfig{
		RequestsPerWindow: 5, Window: time.Minute, Burst: 5,
	})
	require.Equal(t, 42, cfg.RequestsPerWindow)
	require.Equal(t, 30*time.Second, cfg.Window)
	require.Equal(t, 7, cfg.Burst)
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusConflict, "invalid_state", "wrong phase")

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.JSONEq(t,
		`{"error":"invalid_state","error_description":"wrong phase"}`,
		rec.Body.String())
}
