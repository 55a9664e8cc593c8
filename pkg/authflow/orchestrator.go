// Package authflow interprets identity-provider callback redirects. A
// single orchestrator covers the invitation, recovery, signup and OAuth
// shapes plus the plain "already signed in" fallback, and always reaches a
// terminal outcome: either a granted navigation target or a denial with a
// delayed redirect back to login.
package authflow

import (
	"context"
	"errors"
	"time"

	"github.com/spectraline/partner-portal/pkg/identity"
	"github.com/spectraline/partner-portal/pkg/observability"
	"github.com/spectraline/partner-portal/pkg/profile"
)

// Denial reasons surfaced to the UI. Each maps to a distinct message.
const (
	ReasonInvalidInvitation   = "invalid_or_expired_invitation"
	ReasonInvalidResetLink    = "invalid_or_expired_reset_link"
	ReasonInvalidConfirmation = "invalid_or_expired_confirmation"
	ReasonNoSession           = "no_session"
	ReasonProfileNotFound     = "profile_not_found"
	ReasonProfileConflict     = "profile_conflict"
	ReasonAccountInactive     = "account_inactive"
	ReasonUnexpectedError     = "unexpected_error"
)

// Navigation targets for terminal outcomes
const (
	RouteLogin         = "/login"
	RouteSetPassword   = "/set-password"
	RouteResetPassword = "/reset-password"
	RoutePortalHome    = "/portal"
	RouteAdminHome     = "/admin"
)

// Outcome is the orchestrator's terminal state. Exactly one of Granted or
// a denial Reason is meaningful; Delay applies to denials only and tells
// the UI how long to show the message before redirecting to login.
type Outcome struct {
	Granted   bool
	Next      string
	SessionID string
	Role      profile.Kind
	Reason    string
	Delay     time.Duration
}

// SessionClient is the slice of the identity client the orchestrator uses
type SessionClient interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*identity.Session, error)
	VerifyOtp(ctx context.Context, tokenHash string, otpType identity.OtpType) (*identity.Session, error)
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// SessionCreator persists an established session and returns its opaque ID
type SessionCreator interface {
	Create(ctx context.Context, sess *identity.Session) (string, error)
}

// Authorizer classifies an authenticated user against the profile tables
type Authorizer interface {
	Authorize(ctx context.Context, userID, email string) (profile.Resolution, error)
}

// Orchestrator drives a callback redirect to a terminal outcome
type Orchestrator struct {
	identity    SessionClient
	sessions    SessionCreator
	resolver    Authorizer
	logger      *observability.Logger
	deniedDelay time.Duration
}

// NewOrchestrator creates a callback orchestrator. deniedDelay is how long
// a denial message stays on screen before the forced redirect to login.
func NewOrchestrator(identityClient SessionClient, sessions SessionCreator, resolver Authorizer, logger *observability.Logger, deniedDelay time.Duration) *Orchestrator {
	if deniedDelay <= 0 {
		deniedDelay = 3 * time.Second
	}
	return &Orchestrator{
		identity:    identityClient,
		sessions:    sessions,
		resolver:    resolver,
		logger:      logger,
		deniedDelay: deniedDelay,
	}
}

// HandleCallback classifies the redirect parameters and runs the matching
// flow. existing is the session referenced by the request cookie, if any;
// it feeds the fallback flow when the redirect carries no credential.
//
// The orchestrator never panics out: any failure inside a flow lands on a
// denial outcome, worst case "unexpected_error", so the callback page
// always navigates somewhere.
func (o *Orchestrator) HandleCallback(ctx context.Context, p Params, existing *identity.Session) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("panic", r).Error("callback flow panicked")
			out = o.deny(ReasonUnexpectedError)
		}
	}()

	if p.Error != "" {
		o.logger.WithFields(map[string]interface{}{
			"provider_error": p.Error,
			"description":    p.ErrorDescription,
		}).Warn("identity provider rejected the redirect upstream")
	}

	switch p.Type {
	case string(identity.OtpInvite):
		return o.tokenFlow(ctx, p, identity.OtpInvite, RouteSetPassword, ReasonInvalidInvitation)
	case string(identity.OtpRecovery):
		return o.tokenFlow(ctx, p, identity.OtpRecovery, RouteResetPassword, ReasonInvalidResetLink)
	case string(identity.OtpSignup):
		return o.signupFlow(ctx, p)
	}

	if p.Code != "" || (p.AccessToken != "" && p.RefreshToken != "") {
		return o.oauthFlow(ctx, p)
	}
	return o.fallbackFlow(ctx, existing)
}

// tokenFlow handles invitation and recovery links. Whichever credential
// form the redirect carries is exchanged for a session, and the user is
// sent to the password screen; role resolution happens after the password
// is committed, not here.
func (o *Orchestrator) tokenFlow(ctx context.Context, p Params, otpType identity.OtpType, next, denialReason string) Outcome {
	sess, err := o.establishSession(ctx, p, otpType)
	if err != nil {
		o.logger.WithError(err).WithField("flow", string(otpType)).Warn("token exchange failed")
		return o.deny(denialReason)
	}

	id, err := o.sessions.Create(ctx, sess)
	if err != nil {
		o.logger.WithError(err).Error("failed to persist session")
		return o.deny(ReasonUnexpectedError)
	}
	return Outcome{Granted: true, Next: next, SessionID: id}
}

// signupFlow confirms an email address. No session is implied: the user is
// sent to the login page to sign in with the password they registered.
func (o *Orchestrator) signupFlow(ctx context.Context, p Params) Outcome {
	if p.TokenHash == "" {
		return o.deny(ReasonInvalidConfirmation)
	}
	if _, err := o.identity.VerifyOtp(ctx, p.TokenHash, identity.OtpSignup); err != nil {
		o.logger.WithError(err).Warn("signup confirmation failed")
		return o.deny(ReasonInvalidConfirmation)
	}
	return Outcome{Granted: true, Next: RouteLogin}
}

// oauthFlow exchanges the redirect credential and resolves the user's role
func (o *Orchestrator) oauthFlow(ctx context.Context, p Params) Outcome {
	sess, err := o.establishSession(ctx, p, "")
	if err != nil {
		o.logger.WithError(err).Warn("oauth session exchange failed")
		return o.deny(ReasonUnexpectedError)
	}
	return o.resolveAndGrant(ctx, sess)
}

// fallbackFlow covers redirects that carry no credential at all: if the
// browser already holds a live session, resolve it as the oauth flow
// would; otherwise there is nothing to grant.
func (o *Orchestrator) fallbackFlow(ctx context.Context, existing *identity.Session) Outcome {
	if existing == nil {
		return o.deny(ReasonNoSession)
	}
	return o.resolveAndGrant(ctx, existing)
}

// establishSession turns whichever credential form is present into a
// session: an authorization code, a one-time token hash, or an
// access/refresh pair delivered via the fragment.
func (o *Orchestrator) establishSession(ctx context.Context, p Params, otpType identity.OtpType) (*identity.Session, error) {
	switch {
	case p.Code != "":
		return o.identity.ExchangeCode(ctx, p.Code, "")
	case p.TokenHash != "" && otpType != "":
		return o.identity.VerifyOtp(ctx, p.TokenHash, otpType)
	case p.AccessToken != "" && p.RefreshToken != "":
		return o.sessionFromTokens(ctx, p.AccessToken, p.RefreshToken)
	default:
		return nil, identity.ErrSessionExchangeFailed
	}
}

// sessionFromTokens validates a raw token pair by asking the provider who
// it belongs to, then adopts it as the session
func (o *Orchestrator) sessionFromTokens(ctx context.Context, accessToken, refreshToken string) (*identity.Session, error) {
	user, err := o.identity.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return &identity.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         *user,
	}, nil
}

// resolveAndGrant applies the authorization decision table. Any resolution
// error signs the established session out before the denial so no
// half-authenticated state survives.
func (o *Orchestrator) resolveAndGrant(ctx context.Context, sess *identity.Session) Outcome {
	res, err := o.resolver.Authorize(ctx, sess.User.ID, sess.User.Email)
	if err != nil {
		if signOutErr := o.identity.SignOut(ctx, sess.AccessToken); signOutErr != nil {
			o.logger.WithError(signOutErr).Warn("sign-out after denied resolution failed")
		}
		return o.deny(denialReason(err))
	}

	id, err := o.sessions.Create(ctx, sess)
	if err != nil {
		o.logger.WithError(err).Error("failed to persist session")
		return o.deny(ReasonUnexpectedError)
	}

	next := RoutePortalHome
	if res.Kind == profile.KindAdmin {
		next = RouteAdminHome
	}
	return Outcome{Granted: true, Next: next, SessionID: id, Role: res.Kind}
}

func (o *Orchestrator) deny(reason string) Outcome {
	return Outcome{Reason: reason, Next: RouteLogin, Delay: o.deniedDelay}
}

// denialReason maps resolution errors to their UI reasons. The three
// authorization outcomes stay distinct so the user sees the right message.
func denialReason(err error) string {
	switch {
	case errors.Is(err, profile.ErrProfileNotFound):
		return ReasonProfileNotFound
	case errors.Is(err, profile.ErrProfileConflict):
		return ReasonProfileConflict
	case errors.Is(err, profile.ErrAccountInactive):
		return ReasonAccountInactive
	default:
		return ReasonUnexpectedError
	}
}
