package identity

import "time"

// User holds the identity provider's view of an account. The application's
// authorization record (role, status, distributor linkage) lives in the
// profiles tables and is resolved separately.
type User struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	AppMetadata AppMetadata `json:"app_metadata"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// AppMetadata carries provider-managed claims
type AppMetadata struct {
	Provider  string   `json:"provider,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// Session is the token pair issued by the identity provider plus its user
// claims. It is ephemeral: created by sign-in/exchange/verification and
// destroyed by sign-out or refresh failure.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Expired reports whether the access token has passed its expiry
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Unix() >= s.ExpiresAt
}

// OtpType is the one-time-token verification type
type OtpType string

const (
	OtpInvite   OtpType = "invite"
	OtpRecovery OtpType = "recovery"
	OtpSignup   OtpType = "signup"
)
