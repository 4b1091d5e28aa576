package domain

import "time"

// MFAState is the per-account MFA state machine position. Transitions are
// owned exclusively by the MFA service:
//
//	disabled -> pending_setup -> pending_verification -> active -> disabled
type MFAState string

const (
	MFADisabled            MFAState = "disabled"
	MFAPendingSetup        MFAState = "pending_setup"
	MFAPendingVerification MFAState = "pending_verification"
	MFAActive              MFAState = "active"
)

// Valid reports whether s is one of the known states. Unknown values read
// from storage are treated as disabled by callers rather than trusted.
func (s MFAState) Valid() bool {
	switch s {
	case MFADisabled, MFAPendingSetup, MFAPendingVerification, MFAActive:
		return true
	}
	return false
}

type Account struct {
	ID           string
	Email        string
	PasswordHash string // argon2id encoded, owned by the identity provider
	MFAState     MFAState
	MFAEnabledAt *time.Time // set when MFA transitions to active (nullable)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MFAEnabled reports whether the account has an active MFA factor.
func (a Account) MFAEnabled() bool { return a.MFAState == MFAActive }
