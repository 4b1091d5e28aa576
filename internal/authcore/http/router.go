package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/service"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
	"github.com/halcyonlabs/authcore/pkg/httpx"
	"github.com/halcyonlabs/authcore/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     httpx.TokenVerifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store       store.Store
	AuthService *service.AuthService
	MFAService  *service.MFAService
	Tracker     *service.LoginAttemptTracker
}

func NewRouter(
	verifier httpx.TokenVerifier,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerMFA()
	r.registerPassword()
	r.registerLockout()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Auth: r.AuthService}

	// Credential endpoints - strict rate limit by IP (brute force prevention)
	r.Mux.Handle("POST /v1/auth/signup",
		httpx.Chain(http.HandlerFunc(h.HandleSignUp),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/signin",
		httpx.Chain(http.HandlerFunc(h.HandleSignIn),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/signin/mfa",
		httpx.Chain(http.HandlerFunc(h.HandleMFASignIn),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /v1/auth/signout",
		httpx.Chain(http.HandlerFunc(h.HandleSignOut),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFAService: r.MFAService}

	// All management endpoints require a valid bearer token; moderate rate
	// limit per account.
	secured := func(handler http.Handler) http.Handler {
		return httpx.Chain(handler,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByAccount(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("POST /v1/mfa/setup", secured(http.HandlerFunc(h.HandleSetup)))
	r.Mux.Handle("POST /v1/mfa/activate", secured(http.HandlerFunc(h.HandleActivate)))
	r.Mux.Handle("POST /v1/mfa/deactivate", secured(h.HandleDeactivate(r.AuthService)))
	r.Mux.Handle("POST /v1/mfa/backup-codes/regenerate", secured(http.HandlerFunc(h.HandleRegenerateBackupCodes)))
	r.Mux.Handle("GET /v1/mfa/backup-codes", secured(http.HandlerFunc(h.HandleRemainingBackupCodes)))
}

func (r *Router) registerPassword() {
	h := &PasswordHandler{Auth: r.AuthService}

	// Scoring is public and chatty (live strength meters) - lenient limit
	r.Mux.Handle("POST /v1/password/check",
		httpx.Chain(http.HandlerFunc(h.HandleCheck),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	r.Mux.Handle("POST /v1/password",
		httpx.Chain(http.HandlerFunc(h.HandleUpdate),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByAccount(httpx.ModerateLimit),
		),
	)

	// Reset endpoints are unauthenticated by nature - strict limit
	r.Mux.Handle("POST /v1/password/reset",
		httpx.Chain(http.HandlerFunc(h.HandleResetRequest),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/password/reset/confirm",
		httpx.Chain(http.HandlerFunc(h.HandleResetConfirm),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerLockout() {
	h := &LockoutHandler{Auth: r.AuthService, Tracker: r.Tracker}

	secured := func(handler http.Handler) http.Handler {
		return httpx.Chain(handler,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByAccount(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("GET /v1/lockout/status", secured(http.HandlerFunc(h.HandleStatus)))
	r.Mux.Handle("POST /v1/lockout/unlock", secured(http.HandlerFunc(h.HandleUnlock)))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store))
}
