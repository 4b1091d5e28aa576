package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/store"
)

// DefaultAttemptRetention keeps login attempt rows well past any lockout
// window before pruning; the audit value decays long before the rows do.
const DefaultAttemptRetention = 30 * 24 * time.Hour

// HousekeepingService periodically cleans up expired database records to
// prevent unbounded growth of refresh_tokens, reset_tokens, mfa_challenges,
// and login_attempts.
type HousekeepingService struct {
	Store            store.Store
	Logger           *slog.Logger
	Interval         time.Duration
	AttemptRetention time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:            store,
		Logger:           logger,
		Interval:         interval,
		AttemptRetention: DefaultAttemptRetention,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// Non-blocking; call Stop to gracefully shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker. Blocks until any
// in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup performs the actual deletion of expired records. Each deletion is
// independent; a failure in one won't stop the others.
func (s *HousekeepingService) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s.Logger.Debug("starting housekeeping cleanup")

	if err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
	}

	if err := s.Store.ResetTokens().DeleteExpiredResetTokens(ctx); err != nil {
		s.Logger.Error("failed to delete expired reset tokens", "error", err)
	}

	if err := s.Store.MFAChallenges().DeleteExpiredMFAChallenges(ctx); err != nil {
		s.Logger.Error("failed to delete expired mfa challenges", "error", err)
	}

	cutoff := time.Now().Add(-s.AttemptRetention)
	if err := s.Store.LoginAttempts().DeleteAttemptsBefore(ctx, cutoff); err != nil {
		s.Logger.Error("failed to prune old login attempts", "error", err)
	}

	s.Logger.Debug("housekeeping cleanup finished")
}
