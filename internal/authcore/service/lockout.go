package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/halcyonlabs/authcore/internal/authcore/cache"
	"github.com/halcyonlabs/authcore/internal/authcore/domain"
	"github.com/halcyonlabs/authcore/internal/authcore/store"
	"github.com/halcyonlabs/authcore/pkg/idx"
	"github.com/halcyonlabs/authcore/pkg/slogx"
)

const (
	// DefaultFailureWindow is how far back failures count toward a lock.
	DefaultFailureWindow = 15 * time.Minute
	// DefaultFailureThreshold locks the account at this many recent failures.
	DefaultFailureThreshold = 3
	// DefaultLockDuration is how long a lock lasts after the latest failure.
	DefaultLockDuration = 15 * time.Minute
)

// LoginAttemptTracker records sign-in outcomes and answers "is this account
// locked right now". The store is authoritative; the cache only shortcuts
// repeated status reads and is invalidated on every write, so a stale entry
// can never extend or shorten a lock.
//
// Failures are append-only rows. The effective count is failures that are
// both inside the window and newer than the last success, so a successful
// sign-in resets the gate without touching the audit trail, and concurrent
// failures each land as their own row, so no increment is ever lost.
type LoginAttemptTracker struct {
	Store store.Store
	Cache cache.Cache

	Window       time.Duration
	Threshold    int
	LockDuration time.Duration
}

func (t *LoginAttemptTracker) window() time.Duration {
	if t.Window > 0 {
		return t.Window
	}
	return DefaultFailureWindow
}

func (t *LoginAttemptTracker) threshold() int {
	if t.Threshold > 0 {
		return t.Threshold
	}
	return DefaultFailureThreshold
}

func (t *LoginAttemptTracker) lockDuration() time.Duration {
	if t.LockDuration > 0 {
		return t.LockDuration
	}
	return DefaultLockDuration
}

// RecordAttempt appends one attempt row and invalidates the cached status.
// MFA failures are recorded through the same path as password failures, so
// hammering the second factor trips the same lock.
func (t *LoginAttemptTracker) RecordAttempt(ctx context.Context, email string, success bool) error {
	email = normalizeTrackedEmail(email)

	err := t.Store.LoginAttempts().InsertAttempt(ctx, domain.LoginAttempt{
		ID:          idx.New().String(),
		Email:       email,
		Success:     success,
		AttemptedAt: time.Now(),
	})
	if err != nil {
		return err
	}

	t.invalidate(ctx, email)
	return nil
}

// AccountStatus reports the current lockout view for the email. A lock is
// derived, not stored: threshold failures inside the window lock the account
// until lockDuration past the latest failure. Deriving it means locks expire
// on their own with no unlock job.
func (t *LoginAttemptTracker) AccountStatus(ctx context.Context, email string) (domain.AccountStatus, error) {
	email = normalizeTrackedEmail(email)

	if status, ok := t.cachedStatus(ctx, email); ok {
		return status, nil
	}

	now := time.Now()
	since := now.Add(-t.window())

	count, err := t.Store.LoginAttempts().CountRecentFailures(ctx, email, since)
	if err != nil {
		return domain.AccountStatus{}, err
	}

	status := domain.AccountStatus{FailureCount: count}
	if count >= t.threshold() {
		lastFailure, err := t.Store.LoginAttempts().LastFailureAt(ctx, email, since)
		if err != nil {
			return domain.AccountStatus{}, err
		}
		until := lastFailure.Add(t.lockDuration())
		if now.Before(until) {
			status.IsLocked = true
			status.LockedUntil = &until
		}
	}

	t.cacheStatus(ctx, email, status)
	return status, nil
}

// UnlockAccount clears the failure rows for the email, releasing any active
// lock immediately. Success rows stay, so the audit trail survives.
func (t *LoginAttemptTracker) UnlockAccount(ctx context.Context, email string) error {
	email = normalizeTrackedEmail(email)

	cleared, err := t.Store.LoginAttempts().ClearFailures(ctx, email)
	if err != nil {
		return err
	}

	t.invalidate(ctx, email)
	slogx.FromContext(ctx).Info("account unlocked",
		slog.String("email", email),
		slog.Int("cleared_failures", cleared),
	)
	return nil
}

func (t *LoginAttemptTracker) cacheKey(email string) string {
	return "lockout:" + email
}

func (t *LoginAttemptTracker) cachedStatus(ctx context.Context, email string) (domain.AccountStatus, bool) {
	if t.Cache == nil {
		return domain.AccountStatus{}, false
	}
	raw, ok, err := t.Cache.Get(ctx, t.cacheKey(email))
	if err != nil || !ok {
		return domain.AccountStatus{}, false
	}
	var status domain.AccountStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return domain.AccountStatus{}, false
	}
	// A cached lock may have lapsed between writes; expire it locally.
	if status.IsLocked && status.LockedUntil != nil && !time.Now().Before(*status.LockedUntil) {
		return domain.AccountStatus{}, false
	}
	return status, true
}

func (t *LoginAttemptTracker) cacheStatus(ctx context.Context, email string, status domain.AccountStatus) {
	if t.Cache == nil {
		return
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	ttl := t.window()
	if status.IsLocked && status.LockedUntil != nil {
		ttl = time.Until(*status.LockedUntil)
	}
	if ttl <= 0 {
		return
	}
	if err := t.Cache.Set(ctx, t.cacheKey(email), string(raw), ttl); err != nil {
		slogx.FromContext(ctx).Warn("failed to cache account status", slog.Any("error", err))
	}
}

func (t *LoginAttemptTracker) invalidate(ctx context.Context, email string) {
	if t.Cache == nil {
		return
	}
	if err := t.Cache.Clear(ctx, t.cacheKey(email)); err != nil {
		slogx.FromContext(ctx).Warn("failed to invalidate account status cache", slog.Any("error", err))
	}
}

func normalizeTrackedEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
