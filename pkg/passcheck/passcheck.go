// Package passcheck scores and validates password strength. It is stateless:
// hard requirements drive validity, the numeric score only drives UX hints.
package passcheck

import (
	"fmt"
	"strings"
	"unicode"
)

// Strength bands surfaced to the caller.
type Strength string

const (
	VeryWeak   Strength = "very_weak"
	Weak       Strength = "weak"
	Medium     Strength = "medium"
	Strong     Strength = "strong"
	VeryStrong Strength = "very_strong"
)

const (
	MinLength = 8
	MaxLength = 128

	// SpecialChars is the accepted special-character set for the hard
	// requirement and the scoring bonus.
	SpecialChars = "!@#$%^&*()-_=+[]{};:'\",.<>/?`~\\|"
)

// Result is the outcome of a single validation pass.
type Result struct {
	Valid    bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Score    int      `json:"score"`
	Strength Strength `json:"strength"`
}

// weakTokens feed the substring deduction: containing any of these costs 20
// points, case-insensitively.
var weakTokens = []string{
	"password", "123456", "qwerty", "letmein", "abc123",
	"welcome", "admin", "iloveyou", "monkey", "dragon",
}

// commonPasswords is the exact-match deny-list behind IsCommonPassword.
// Matching here is a UX warning, not a hard block.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"abc123":      {},
	"letmein":     {},
	"welcome":     {},
	"welcome1":    {},
	"admin":       {},
	"iloveyou":    {},
	"monkey":      {},
	"dragon":      {},
	"sunshine":    {},
	"princess":    {},
	"football":    {},
	"trustno1":    {},
}

// Validate applies the hard requirements and computes the 0-100 score.
// Validity depends only on the requirement errors: a password can satisfy
// every requirement and still score low.
func Validate(password string) Result {
	var (
		hasLower   bool
		hasUpper   bool
		hasDigit   bool
		hasSpecial bool
	)
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(SpecialChars, r):
			hasSpecial = true
		}
	}

	length := len(password)

	var errs []string
	if length < MinLength {
		errs = append(errs, fmt.Sprintf("must be at least %d characters", MinLength))
	}
	if length > MaxLength {
		errs = append(errs, fmt.Sprintf("must be at most %d characters", MaxLength))
	}
	if !hasUpper {
		errs = append(errs, "must contain an uppercase letter")
	}
	if !hasLower {
		errs = append(errs, "must contain a lowercase letter")
	}
	if !hasDigit {
		errs = append(errs, "must contain a digit")
	}
	if !hasSpecial {
		errs = append(errs, "must contain a special character")
	}

	score := min(length*4, 25)

	if hasLower {
		score += 10
	}
	if hasUpper {
		score += 10
	}
	if hasDigit {
		score += 10
	}
	if hasSpecial {
		score += 15
	}

	if hasRepeatedRun(password, 3) {
		score -= 10
	}
	if containsWeakToken(password) {
		score -= 20
	}
	if length < MinLength {
		score -= 15
	}

	if length >= 12 {
		score += 10
	}
	if length >= 16 {
		score += 15
	}
	if hasLower && hasUpper {
		score += 5
	}
	if hasDigit && hasSpecial {
		score += 5
	}

	score = max(0, min(100, score))

	return Result{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Score:    score,
		Strength: band(score),
	}
}

// IsCommonPassword reports whether the password exactly matches (case
// insensitively) a known common password.
func IsCommonPassword(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}

func band(score int) Strength {
	switch {
	case score >= 90:
		return VeryStrong
	case score >= 80:
		return Strong
	case score >= 60:
		return Medium
	case score >= 40:
		return Weak
	default:
		return VeryWeak
	}
}

// hasRepeatedRun reports whether password contains n or more identical
// consecutive characters.
func hasRepeatedRun(password string, n int) bool {
	run := 0
	var prev rune
	for i, r := range password {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

func containsWeakToken(password string) bool {
	lowered := strings.ToLower(password)
	for _, token := range weakTokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}
