package domain

import "time"

// Session is the opaque token pair the identity provider issues. The core
// only decides refresh timing; issuance belongs to the provider.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresWithin reports whether the session expires within d of now.
func (s Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.After(now.Add(d))
}

// Expired reports whether the session has already lapsed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// RefreshToken models the stored refresh token record. Only the SHA-256
// fingerprint of the opaque token is persisted.
type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResetToken is a single-use password reset credential. Delivery (email) is
// the application shell's job; the core only mints and redeems it.
type ResetToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
