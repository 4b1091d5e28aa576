package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/halcyonlabs/authcore/pkg/slogx"
)

// TokenVerifier validates a bearer access token and returns the account it
// was issued to. The identity provider implements this.
type TokenVerifier interface {
	VerifyAccessToken(token string) (accountID string, err error)
}

func AuthnMiddleware(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))

			accountID, err := v.VerifyAccessToken(raw)
			if err != nil {
				writeBearerError(w, "token verification failed")
				log.Warn("access token verify failed", "err", err)
				return
			}

			ctx = context.WithValue(ctx, CtxKeyAccountID, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}
