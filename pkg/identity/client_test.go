package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "anon-key"), srv
}

func writeSession(w http.ResponseWriter, userID, email string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  "at-123",
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": "rt-456",
		"user": map[string]interface{}{
			"id":    userID,
			"email": email,
			"app_metadata": map[string]interface{}{
				"provider": "email",
			},
		},
	})
}

func TestSignInWithPassword_Success(t *testing.T) {
	client, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dist@example.com", body["email"])

		writeSession(w, "user-1", "dist@example.com")
	})

	sess, err := client.SignInWithPassword(context.Background(), "dist@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "at-123", sess.AccessToken)
	assert.Equal(t, "rt-456", sess.RefreshToken)
	assert.Equal(t, "user-1", sess.User.ID)
	assert.Equal(t, "email", sess.User.AppMetadata.Provider)

	// expires_at derived from expires_in when absent
	assert.Greater(t, sess.ExpiresAt, time.Now().Unix())
	assert.False(t, sess.Expired(time.Now()))
}

func TestSignInWithPassword_InvalidCredentials(t *testing.T) {
	client, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
	})

	_, err := client.SignInWithPassword(context.Background(), "dist@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	// provider message is preserved verbatim
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Invalid login credentials", pe.Message)
	assert.Equal(t, "invalid_grant", pe.Code)
}

func TestVerifyOtp_ExpiredToken(t *testing.T) {
	client, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/verify", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"msg": "Token has expired or is invalid",
		})
	})

	_, err := client.VerifyOtp(context.Background(), "deadbeef", OtpInvite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExpiredOrInvalidToken))
}

func TestVerifyOtp_TypeForwarded(t *testing.T) {
	var gotType string
	client, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotType = body["type"]
		writeSession(w, "user-2", "new@example.com")
	})

	for _, otpType := range []OtpType{OtpInvite, OtpRecovery, OtpSignup} {
		_, err := client.VerifyOtp(context.Background(), "hash", otpType)
		require.NoError(t, err)
		assert.Equal(t, string(otpType), gotType)
	}
}

func TestRefreshSession_Failure(t *testing.T) {
	client, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	})

	_, err := client.RefreshSession(context.Background(), "stale-rt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionExchangeFailed))
}

func TestSignOut_IgnoresRevokedSession(t *testing.T) {
	client, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	// Signing out an already-dead session is not an error
	assert.NoError(t, client.SignOut(context.Background(), "stale-at"))
}

func TestGetUser_BearerToken(t *testing.T) {
	client, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "user-1",
			"email": "dist@example.com",
		})
	})

	user, err := client.GetUser(context.Background(), "at-123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
}

func TestPostSession_MissingAccessToken(t *testing.T) {
	client, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := client.RefreshSession(context.Background(), "rt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionExchangeFailed))
}

func TestAuthorizeURL(t *testing.T) {
	client := NewClient("https://id.example.com", "anon")
	u := client.AuthorizeURL("google", "https://portal.example.com/auth/callback")
	assert.Contains(t, u, "https://id.example.com/auth/v1/authorize?")
	assert.Contains(t, u, "provider=google")
	assert.Contains(t, u, "redirect_to=https%3A%2F%2Fportal.example.com%2Fauth%2Fcallback")
}
