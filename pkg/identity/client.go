// Package identity is the thin client for the hosted identity provider.
// The provider owns credential storage, token signing and session
// persistence; this package only orchestrates calls against its REST API.
// Every operation is a single attempt: failures are surfaced verbatim to
// the caller, never retried.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client calls the identity provider's auth endpoints
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

// NewClient creates an identity client. baseURL and anonKey come from
// configuration and are validated at startup.
func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		baseURL: baseURL,
		anonKey: anonKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SignInWithPassword exchanges an email/password pair for a session
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	sess, err := c.tokenRequest(ctx, "password", body, "")
	if err != nil {
		return nil, c.classify(err, ErrInvalidCredentials)
	}
	return sess, nil
}

// RefreshSession exchanges a refresh token for a new session
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	sess, err := c.tokenRequest(ctx, "refresh_token", body, "")
	if err != nil {
		return nil, c.classify(err, ErrSessionExchangeFailed)
	}
	return sess, nil
}

// ExchangeCode exchanges an authorization code (PKCE) for a session
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Session, error) {
	body := map[string]string{"auth_code": code, "code_verifier": codeVerifier}
	sess, err := c.tokenRequest(ctx, "pkce", body, "")
	if err != nil {
		return nil, c.classify(err, ErrSessionExchangeFailed)
	}
	return sess, nil
}

// VerifyOtp verifies a one-time token hash (invite, recovery or signup)
// and, for invite/recovery, returns the short-lived session it implies
func (c *Client) VerifyOtp(ctx context.Context, tokenHash string, otpType OtpType) (*Session, error) {
	body := map[string]string{"token_hash": tokenHash, "type": string(otpType)}
	sess, err := c.postSession(ctx, "/auth/v1/verify", body, "")
	if err != nil {
		return nil, c.classify(err, ErrExpiredOrInvalidToken)
	}
	return sess, nil
}

// GetUser fetches the user claims behind an access token. A rejected token
// yields ErrSessionExchangeFailed so callers treat it as "no session".
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var user User
	if err := c.do(req, &user); err != nil {
		return nil, c.classify(err, ErrSessionExchangeFailed)
	}
	return &user, nil
}

// UpdatePassword commits a new password for the authenticated user
func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	payload, err := json.Marshal(map[string]string{"password": newPassword})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/auth/v1/user", bytes.NewReader(payload), accessToken)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// SendRecovery asks the provider to email a password-recovery link
func (c *Client) SendRecovery(ctx context.Context, email, redirectTo string) error {
	payload, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return err
	}

	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), "")
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Invite asks the provider to email an invitation link. Requires an
// admin-grade access token; the provider enforces that server-side.
func (c *Client) Invite(ctx context.Context, accessToken, email, redirectTo string) error {
	payload, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return err
	}

	path := "/auth/v1/invite"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), accessToken)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// SignOut revokes the session behind the access token. A provider rejection
// is ignored: the caller is discarding the session either way.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/logout", nil, accessToken)
	if err != nil {
		return err
	}

	if err := c.do(req, nil); err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && (pe.Status == http.StatusUnauthorized || pe.Status == http.StatusNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// tokenRequest posts to the token endpoint with the given grant type
func (c *Client) tokenRequest(ctx context.Context, grantType string, body map[string]string, accessToken string) (*Session, error) {
	return c.postSession(ctx, "/auth/v1/token?grant_type="+url.QueryEscape(grantType), body, accessToken)
}

func (c *Client) postSession(ctx context.Context, path string, body map[string]string, accessToken string) (*Session, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), accessToken)
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := c.do(req, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, &ProviderError{Status: http.StatusOK, Message: "response contained no access token", Kind: ErrSessionExchangeFailed}
	}
	if sess.ExpiresAt == 0 && sess.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Unix() + sess.ExpiresIn
	}
	return &sess, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, accessToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, dest interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read identity response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseProviderError(resp.StatusCode, data)
	}

	if dest != nil && len(data) > 0 {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("failed to decode identity response: %w", err)
		}
	}
	return nil
}

// parseProviderError decodes the provider's error body. The provider uses a
// few shapes ({error, error_description}, {msg}, {message}); all are kept.
func parseProviderError(status int, data []byte) error {
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)

	message := body.ErrorDescription
	if message == "" {
		message = body.Msg
	}
	if message == "" {
		message = body.Message
	}
	if message == "" {
		message = string(data)
	}

	return &ProviderError{
		Status:  status,
		Code:    body.Error,
		Message: message,
	}
}

// classify attaches a sentinel kind to provider rejections so callers can
// branch with errors.Is. Transport errors pass through untouched.
func (c *Client) classify(err error, kind error) error {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Status >= 400 && pe.Status < 500 {
		pe.Kind = kind
		return pe
	}
	return err
}
