package service

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// totpPeriod is the standard 30-second time step.
	totpPeriod = 30
	// DefaultTOTPSkew accepts codes one step either side of now to tolerate
	// clock drift between the server and the authenticator app.
	DefaultTOTPSkew = 1
)

// TOTPEngine generates and validates time-based one-time codes against a
// shared secret. Codes are always exactly six zero-padded digits.
type TOTPEngine struct {
	Issuer string
	Skew   uint
}

func (e *TOTPEngine) skew() uint {
	if e.Skew > 0 {
		return e.Skew
	}
	return DefaultTOTPSkew
}

// GenerateKey creates a fresh high-entropy secret (160 bits) encoded base32
// for compatibility with standard authenticator apps. The key carries the
// otpauth:// provisioning URL for QR rendering.
func (e *TOTPEngine) GenerateKey(accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      e.Issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// CurrentCode returns the code for the secret at the given time.
func (e *TOTPEngine) CurrentCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// Verify reports whether the candidate code is valid for the secret at the
// given time, within the configured drift window.
func (e *TOTPEngine) Verify(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      e.skew(),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
