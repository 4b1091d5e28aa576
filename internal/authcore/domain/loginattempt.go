package domain

import "time"

// LoginAttempt is one audited sign-in attempt for an email. Attempts are
// append-only; the gating counter is derived from recent failures, never by
// rewriting history.
type LoginAttempt struct {
	ID          string
	Email       string
	Success     bool
	AttemptedAt time.Time
}

// AccountStatus is the lockout view the orchestrator checks before any
// credential check reaches the identity provider.
type AccountStatus struct {
	IsLocked     bool       `json:"is_locked"`
	FailureCount int        `json:"failure_count"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
}
