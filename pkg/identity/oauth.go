package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OAuthConfig holds OIDC sign-in configuration
type OAuthConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OAuthProvider implements redirect-based OAuth sign-in against an OIDC
// issuer. When no issuer is configured the portal falls back to the hosted
// identity provider's own authorize endpoint (see AuthorizeURL).
type OAuthProvider struct {
	config       OAuthConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOAuthProvider discovers the issuer and prepares the OAuth2 config
func NewOAuthProvider(ctx context.Context, config OAuthConfig) (*OAuthProvider, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("OAuth issuer URL is required")
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       scopes,
	}

	return &OAuthProvider{
		config:       config,
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// InitiateLogin redirects the browser to the issuer's authorization endpoint
func (p *OAuthProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) {
	authURL := p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Exchange trades an authorization code for a session. The ID token is
// verified against the issuer before any claims are trusted.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*Session, error) {
	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, &ProviderError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Kind:    ErrSessionExchangeFailed,
		}
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, &ProviderError{
			Status:  http.StatusBadRequest,
			Message: "missing id_token in token response",
			Kind:    ErrSessionExchangeFailed,
		}
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, &ProviderError{
			Status:  http.StatusUnauthorized,
			Message: fmt.Sprintf("ID token verification failed: %v", err),
			Kind:    ErrSessionExchangeFailed,
		}
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, &ProviderError{
			Status:  http.StatusBadRequest,
			Message: "missing email claim in ID token",
			Kind:    ErrSessionExchangeFailed,
		}
	}

	sess := &Session{
		AccessToken:  oauth2Token.AccessToken,
		TokenType:    oauth2Token.TokenType,
		RefreshToken: oauth2Token.RefreshToken,
		ExpiresAt:    oauth2Token.Expiry.Unix(),
		User: User{
			ID:    idToken.Subject,
			Email: claims.Email,
			AppMetadata: AppMetadata{
				Provider: "oauth",
			},
		},
	}
	return sess, nil
}

// AuthorizeURL builds the hosted identity provider's own authorize URL for
// a named upstream provider (google, azure, ...). Used when the portal is
// not a direct OIDC relying party.
func (c *Client) AuthorizeURL(provider, redirectTo string) string {
	v := url.Values{}
	v.Set("provider", provider)
	if redirectTo != "" {
		v.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/auth/v1/authorize?" + v.Encode()
}
