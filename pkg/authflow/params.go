package authflow

import (
	"net/url"
	"strings"
)

// Params are the redirect parameters an identity-provider callback can
// carry. The provider is not consistent about where it puts them: email
// links place token_hash and type in the query string, while the implicit
// flow returns access/refresh tokens in the URL fragment. Both locations
// are read for every key, query first.
type Params struct {
	Type         string
	Code         string
	TokenHash    string
	AccessToken  string
	RefreshToken string

	// Provider-reported failure, e.g. an expired link rejected upstream
	Error            string
	ErrorDescription string
}

// ParseParams extracts callback parameters from the request URL's query
// string and from the fragment. Browsers never send the fragment to the
// server, so the callback page reposts it; the caller passes it here as
// rawFragment (with or without the leading "#").
func ParseParams(u *url.URL, rawFragment string) Params {
	query := u.Query()

	fragment, err := url.ParseQuery(strings.TrimPrefix(rawFragment, "#"))
	if err != nil {
		fragment = url.Values{}
	}

	pick := func(key string) string {
		if v := query.Get(key); v != "" {
			return v
		}
		return fragment.Get(key)
	}

	return Params{
		Type:             pick("type"),
		Code:             pick("code"),
		TokenHash:        pick("token_hash"),
		AccessToken:      pick("access_token"),
		RefreshToken:     pick("refresh_token"),
		Error:            pick("error"),
		ErrorDescription: pick("error_description"),
	}
}

// HasCredential reports whether any token-bearing form is present
func (p Params) HasCredential() bool {
	return p.Code != "" || p.TokenHash != "" || (p.AccessToken != "" && p.RefreshToken != "")
}
