package domain

import "time"

// MFASecret is the per-account TOTP shared secret. One secret is active at a
// time; re-running setup supersedes the old row instead of mutating it.
type MFASecret struct {
	ID              string
	AccountID       string
	SecretEncrypted []byte // base32 secret sealed with AES-256-GCM at rest
	Active          bool
	SupersededAt    *time.Time
	CreatedAt       time.Time
}

// MFASetupResponse is returned exactly once from setup. The plaintext secret
// and backup codes are never reconstructable after this.
type MFASetupResponse struct {
	Secret          string   `json:"secret"`           // base32, for manual entry
	ProvisioningURI string   `json:"provisioning_uri"` // otpauth:// URL for QR rendering
	BackupCodes     []string `json:"backup_codes"`
}

// MFAChallenge binds the second sign-in step to a completed password step.
// One is minted only after the password check succeeds; completing MFA
// redeems it. The opaque token goes to the caller, only its fingerprint is
// stored, and Attempts counts failed codes against the challenge budget.
type MFAChallenge struct {
	ID        string
	AccountID string
	Email     string
	TokenHash string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the challenge window has lapsed.
func (c MFAChallenge) Expired(now time.Time) bool { return !c.ExpiresAt.After(now) }

// BackupCode is a stored single-use fallback credential. Only the salted
// argon2id hash is persisted; UsedAt doubles as the consumed flag.
type BackupCode struct {
	ID        string
	AccountID string
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Used reports whether the code has been consumed.
func (c BackupCode) Used() bool { return c.UsedAt != nil }
