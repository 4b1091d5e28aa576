package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/identity"
)

const (
	// DefaultRefreshThreshold refreshes sessions expiring within this much.
	DefaultRefreshThreshold = 5 * time.Minute
	// DefaultKeepAliveInterval between background refresh checks.
	DefaultKeepAliveInterval = 15 * time.Minute
)

// SessionManager decides when a session needs refreshing and delegates the
// actual token exchange to the identity provider. It never invents tokens.
type SessionManager struct {
	Provider identity.Provider
	Logger   *slog.Logger

	// RefreshThreshold is how close to expiry a session must be before a
	// refresh is attempted. Zero means DefaultRefreshThreshold.
	RefreshThreshold time.Duration
}

func (m *SessionManager) threshold() time.Duration {
	if m.RefreshThreshold > 0 {
		return m.RefreshThreshold
	}
	return DefaultRefreshThreshold
}

// RefreshIfNeeded returns the session unchanged while it is comfortably
// valid, and rotates it through the provider once it is inside the refresh
// threshold. A session that already lapsed, or a provider rejection, yields
// domain.ErrInvalidCredentials: the caller must re-authenticate, there is no
// partial recovery.
func (m *SessionManager) RefreshIfNeeded(ctx context.Context, session domain.Session) (domain.Session, error) {
	now := time.Now()

	if !session.ExpiresWithin(now, m.threshold()) {
		return session, nil
	}

	if session.Expired(now) {
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	fresh, err := m.Provider.RefreshSession(ctx, session)
	if err != nil {
		m.Logger.Warn("session refresh failed", slog.Any("error", err))
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	m.Logger.Debug("session refreshed",
		slog.Time("old_expiry", session.ExpiresAt),
		slog.Time("new_expiry", fresh.ExpiresAt),
	)
	return fresh, nil
}

// SessionHandle holds the caller's current session behind a mutex so the
// keep-alive monitor and request paths can share one rotating token pair.
type SessionHandle struct {
	mu      sync.Mutex
	session domain.Session
	valid   bool
}

// Set replaces the held session.
func (h *SessionHandle) Set(session domain.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = session
	h.valid = true
}

// Get returns the held session and whether one is present.
func (h *SessionHandle) Get() (domain.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session, h.valid
}

// Clear drops the held session (sign-out, refresh failure).
func (h *SessionHandle) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = domain.Session{}
	h.valid = false
}

// SessionMonitor is the background keep-alive worker. On each tick it runs
// the held session through RefreshIfNeeded; a refresh failure clears the
// handle so callers see the session as gone rather than silently stale.
type SessionMonitor struct {
	Manager  *SessionManager
	Handle   *SessionHandle
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSessionMonitor creates the keep-alive worker. If interval is 0 or
// negative, defaults to 15 minutes.
func NewSessionMonitor(manager *SessionManager, handle *SessionHandle, logger *slog.Logger, interval time.Duration) *SessionMonitor {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}

	return &SessionMonitor{
		Manager:  manager,
		Handle:   handle,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (m *SessionMonitor) Start() {
	go m.run()
	m.Logger.Info("session monitor started", "interval", m.Interval)
}

// Stop gracefully shuts down the worker. Blocks until any in-progress
// refresh has finished.
func (m *SessionMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
	m.Logger.Info("session monitor stopped")
}

func (m *SessionMonitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-m.stopCh:
			return
		}
	}
}

func (m *SessionMonitor) tick() {
	session, ok := m.Handle.Get()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fresh, err := m.Manager.RefreshIfNeeded(ctx, session)
	if err != nil {
		m.Logger.Warn("keep-alive refresh failed, clearing session", slog.Any("error", err))
		m.Handle.Clear()
		return
	}
	m.Handle.Set(fresh)
}
