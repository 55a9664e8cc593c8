// Package middleware carries the HTTP middleware chain: session
// authentication, role gating, tenant scoping and rate limiting.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/spectraline/partner-portal/pkg/contextkeys"
	"github.com/spectraline/partner-portal/pkg/identity"
	"github.com/spectraline/partner-portal/pkg/observability"
	"github.com/spectraline/partner-portal/pkg/portal"
	"github.com/spectraline/partner-portal/pkg/profile"
	"github.com/spectraline/partner-portal/pkg/session"
)

// AuthContextKey is the request-context key for the auth context
const AuthContextKey = contextkeys.AuthKey

// AuthContext is the authenticated state attached to a request
type AuthContext struct {
	SessionID  string
	Session    *identity.Session
	Resolution profile.Resolution
}

// Scope converts the auth context to a data-view scope
func (a *AuthContext) Scope() portal.Scope {
	s := portal.Scope{UserID: a.Session.User.ID}
	if a.Resolution.Kind == profile.KindAdmin {
		s.Admin = true
	} else if a.Resolution.Record != nil {
		s.DistributorID = a.Resolution.Record.DistributorID
	}
	return s
}

// SessionSource resolves the session referenced by a request cookie
type SessionSource interface {
	FromRequest(r *http.Request) (string, *identity.Session, error)
	ClearCookie(w http.ResponseWriter)
}

// Authorizer classifies an authenticated user
type Authorizer interface {
	Authorize(ctx context.Context, userID, email string) (profile.Resolution, error)
}

// AuthMiddleware gates protected routes on {session present, role}
type AuthMiddleware struct {
	sessions SessionSource
	resolver Authorizer
	logger   *observability.Logger
}

// NewAuthMiddleware creates the auth middleware
func NewAuthMiddleware(sessions SessionSource, resolver Authorizer, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		resolver: resolver,
		logger:   logger,
	}
}

// RequireAuth authenticates the request or redirects to login. Browser
// requests get the redirect; API requests (Accept: application/json) get
// a 401 so the frontend can handle navigation itself.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := m.authenticate(w, r)
		if !ok {
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, authCtx.Session.User.ID)
		if rec := authCtx.Resolution.Record; rec != nil && rec.DistributorID != "" {
			ctx = contextkeys.WithDistributor(ctx, rec.DistributorID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates on a specific resolved role on top of RequireAuth
func (m *AuthMiddleware) RequireRole(kind profile.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx.Resolution.Kind != kind {
				m.denyForbidden(w, r)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (m *AuthMiddleware) authenticate(w http.ResponseWriter, r *http.Request) (*AuthContext, bool) {
	id, sess, err := m.sessions.FromRequest(r)
	if err != nil {
		if errors.Is(err, session.ErrRefreshFailed) {
			m.sessions.ClearCookie(w)
		}
		m.denyUnauthenticated(w, r)
		return nil, false
	}

	res, err := m.resolver.Authorize(r.Context(), sess.User.ID, sess.User.Email)
	if err != nil {
		// No half-authenticated state: the cookie goes, the session store
		// entry was already cleared or will expire.
		m.logger.WithError(err).WithField("user_id", sess.User.ID).
			Warn("authorization failed for active session")
		m.sessions.ClearCookie(w)
		m.denyUnauthenticated(w, r)
		return nil, false
	}

	return &AuthContext{SessionID: id, Session: sess, Resolution: res}, true
}

func (m *AuthMiddleware) denyUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"authentication required"}`))
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (m *AuthMiddleware) denyForbidden(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"insufficient role"}`))
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "application/json" || r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

// GetAuthContext returns the auth context attached by RequireAuth, or nil
func GetAuthContext(r *http.Request) *AuthContext {
	if authCtx, ok := r.Context().Value(AuthContextKey).(*AuthContext); ok {
		return authCtx
	}
	return nil
}
