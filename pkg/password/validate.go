// Package password implements the set-password and reset-password flows:
// local policy validation, committing the credential to the identity
// provider, activating a pending profile, and the forced sign-out that
// ends the short-lived invite/recovery session.
package password

import (
	"strings"
	"unicode"
)

// Result reports which policy rules a candidate password satisfies. The UI
// renders it as a live checklist, so every rule is evaluated, not just the
// first failure.
type Result struct {
	MinLength bool `json:"min_length"`
	HasUpper  bool `json:"has_upper"`
	HasLower  bool `json:"has_lower"`
	HasDigit  bool `json:"has_digit"`
}

// Valid reports whether every rule passed
func (r Result) Valid() bool {
	return r.MinLength && r.HasUpper && r.HasLower && r.HasDigit
}

// Failed lists the rules that did not pass
func (r Result) Failed() []string {
	var failed []string
	if !r.MinLength {
		failed = append(failed, "min_length")
	}
	if !r.HasUpper {
		failed = append(failed, "has_upper")
	}
	if !r.HasLower {
		failed = append(failed, "has_lower")
	}
	if !r.HasDigit {
		failed = append(failed, "has_digit")
	}
	return failed
}

func (r Result) String() string {
	if r.Valid() {
		return "password policy satisfied"
	}
	return "password policy violated: " + strings.Join(r.Failed(), ", ")
}

const minPasswordLength = 8

// Validate checks a candidate password against the policy
func Validate(password string) Result {
	res := Result{MinLength: len(password) >= minPasswordLength}
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			res.HasUpper = true
		case unicode.IsLower(r):
			res.HasLower = true
		case unicode.IsDigit(r):
			res.HasDigit = true
		}
	}
	return res
}
