package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when a password grant is rejected
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrExpiredOrInvalidToken is returned when a one-time token
	// (invite, recovery, signup) is rejected by the provider
	ErrExpiredOrInvalidToken = errors.New("token is invalid or has expired")

	// ErrSessionExchangeFailed is returned when a code or refresh-token
	// exchange does not yield a session
	ErrSessionExchangeFailed = errors.New("session exchange failed")
)

// ProviderError carries the identity provider's own error response verbatim.
// Callers match on the sentinel via errors.Is and surface Message to users
// only where the UI copy calls for it.
type ProviderError struct {
	Status  int
	Code    string
	Message string
	Kind    error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider: %s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("identity provider: %s (status %d)", e.Message, e.Status)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}
