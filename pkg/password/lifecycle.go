package password

import (
	"context"
	"errors"
	"fmt"

	"github.com/spectraline/partner-portal/pkg/identity"
	"github.com/spectraline/partner-portal/pkg/observability"
)

// Local validation errors. Neither reaches the network; the UI shows them
// inline without navigating.
var (
	ErrMismatch = errors.New("passwords do not match")
)

// PolicyError carries the per-rule checklist for a rejected password
type PolicyError struct {
	Result Result
}

func (e *PolicyError) Error() string {
	return e.Result.String()
}

// Client is the slice of the identity client the lifecycle uses
type Client interface {
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	SignOut(ctx context.Context, accessToken string) error
}

// Activator flips a pending authorization record to active
type Activator interface {
	Activate(ctx context.Context, userID string) (bool, error)
}

// SessionRemover discards the server-side session record
type SessionRemover interface {
	Delete(ctx context.Context, sessionID string) error
}

// Lifecycle commits new credentials for the set-password and
// reset-password screens
type Lifecycle struct {
	identity Client
	profiles Activator
	sessions SessionRemover
	logger   *observability.Logger
}

// NewLifecycle creates a password lifecycle service
func NewLifecycle(identityClient Client, profiles Activator, sessions SessionRemover, logger *observability.Logger) *Lifecycle {
	return &Lifecycle{
		identity: identityClient,
		profiles: profiles,
		sessions: sessions,
		logger:   logger,
	}
}

// Commit validates and commits a new password for the session's user, then
// tears the session down. The sequence is fixed:
//
//  1. local checks (mismatch, policy) fail before any network call
//  2. the credential is committed to the identity provider
//  3. a pending profile is activated, exactly once
//  4. the session is signed out and the server-side record deleted, so the
//     short-lived invite/recovery session cannot be reused
//
// On success the caller navigates to the login route for a fresh sign-in.
func (l *Lifecycle) Commit(ctx context.Context, sessionID string, sess *identity.Session, newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return ErrMismatch
	}
	if res := Validate(newPassword); !res.Valid() {
		return &PolicyError{Result: res}
	}

	if err := l.identity.UpdatePassword(ctx, sess.AccessToken, newPassword); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	activated, err := l.profiles.Activate(ctx, sess.User.ID)
	if err != nil {
		// The credential is already committed; log and keep tearing down.
		// The user can sign in and the record stays pending until support
		// intervenes.
		l.logger.WithError(err).WithField("user_id", sess.User.ID).
			Error("failed to activate profile after password commit")
	} else if activated {
		l.logger.WithField("user_id", sess.User.ID).Info("profile activated")
	}

	l.teardown(ctx, sessionID, sess)
	return nil
}

// teardown revokes the provider session and discards the server-side
// record. Failures are logged, not returned: the password commit already
// succeeded and the caller navigates to login regardless.
func (l *Lifecycle) teardown(ctx context.Context, sessionID string, sess *identity.Session) {
	if err := l.identity.SignOut(ctx, sess.AccessToken); err != nil {
		l.logger.WithError(err).Warn("sign-out after password commit failed")
	}
	if sessionID != "" {
		if err := l.sessions.Delete(ctx, sessionID); err != nil {
			l.logger.WithError(err).Warn("failed to delete session record")
		}
	}
}
