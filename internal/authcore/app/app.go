package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/halcyonlabs/authcore/internal/authcore/cache"
	httpapi "github.com/halcyonlabs/authcore/internal/authcore/http"
	"github.com/halcyonlabs/authcore/internal/authcore/identity"
	"github.com/halcyonlabs/authcore/internal/authcore/service"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
	"github.com/halcyonlabs/authcore/internal/authcore/store/drivers/sqlite"
	"github.com/halcyonlabs/authcore/pkg/cryptox"
	"github.com/halcyonlabs/authcore/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth core with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db          store.Store
	statusCache cache.Cache
	redisClient *redis.Client

	// Services
	provider            *identity.LocalProvider
	tracker             *service.LoginAttemptTracker
	mfaService          *service.MFAService
	sessionManager      *service.SessionManager
	authService         *service.AuthService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Pepper for password hashing, master key for MFA secrets at rest
	cryptox.SetPepperPath(cfg.PepperFile)
	if cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyPath)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initCache(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("authcore starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authcore...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authcore stopped")
	return nil
}

// initDatabase initializes the database and applies migrations.
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initCache selects the status cache backend. Redis when configured, an
// in-process map otherwise.
func (app *Application) initCache() error {
	if app.cfg.RedisAddr == "" {
		app.statusCache = cache.NewMemory()
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
	}
	app.redisClient = client
	app.statusCache = cache.NewRedis(client, "authcore")
	app.logger.Info("redis status cache enabled", "addr", app.cfg.RedisAddr)
	return nil
}

// initServices initializes all business logic services.
func (app *Application) initServices() {
	signingKey := []byte(app.cfg.SigningSecret)
	if len(signingKey) == 0 {
		// Ephemeral key: sessions do not survive a restart. Fine for dev,
		// set AUTHCORE_SIGNING_SECRET in prod.
		generated, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err == nil {
			signingKey = []byte(generated)
		}
		app.logger.Warn("no signing secret configured, using ephemeral key")
	}

	app.provider = &identity.LocalProvider{
		Store:      app.db,
		Logger:     app.logger,
		Issuer:     app.cfg.Issuer,
		SigningKey: signingKey,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	}

	app.tracker = &service.LoginAttemptTracker{
		Store:        app.db,
		Cache:        app.statusCache,
		Window:       app.cfg.LockoutWindow,
		Threshold:    app.cfg.LockoutThreshold,
		LockDuration: app.cfg.LockoutDuration,
	}

	app.mfaService = &service.MFAService{
		Store: app.db,
		TOTP:  &service.TOTPEngine{Issuer: app.cfg.Issuer},
		Vault: &service.BackupCodeVault{Store: app.db},
	}

	app.sessionManager = &service.SessionManager{
		Provider:         app.provider,
		Logger:           app.logger,
		RefreshThreshold: app.cfg.RefreshThreshold,
	}

	app.authService = &service.AuthService{
		Provider: app.provider,
		Tracker:  app.tracker,
		MFA:      app.mfaService,
		Sessions: app.sessionManager,
		Logger:   app.logger,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.provider,
		BuildVersion,
		app.db,
		app.logger,
	)

	// Wire services to router
	router.AuthService = app.authService
	router.MFAService = app.mfaService
	router.Tracker = app.tracker
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: router,
	}
}
