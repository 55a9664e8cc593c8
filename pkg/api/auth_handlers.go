package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/spectraline/partner-portal/pkg/activity"
	"github.com/spectraline/partner-portal/pkg/authflow"
	"github.com/spectraline/partner-portal/pkg/httputil"
	"github.com/spectraline/partner-portal/pkg/identity"
	"github.com/spectraline/partner-portal/pkg/middleware"
	"github.com/spectraline/partner-portal/pkg/password"
	"github.com/spectraline/partner-portal/pkg/profile"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Next string `json:"next"`
	Role string `json:"role"`
}

// handleLogin signs a user in with email and password, resolves their
// role and establishes a portal session. A user the identity provider
// accepts but the profile tables reject is signed out again immediately.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	sess, err := s.deps.Identity.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		s.countLogin("failure")
		if errors.Is(err, identity.ErrInvalidCredentials) {
			httputil.WriteUnauthorized(w, "invalid email or password")
			return
		}
		s.logger.FromContext(r.Context()).WithError(err).Error("sign-in request failed")
		httputil.WriteServiceUnavailable(w, "sign-in unavailable")
		return
	}

	res, err := s.deps.Resolver.Authorize(r.Context(), sess.User.ID, sess.User.Email)
	if err != nil {
		s.countLogin("denied")
		if signOutErr := s.deps.Identity.SignOut(r.Context(), sess.AccessToken); signOutErr != nil {
			s.logger.WithError(signOutErr).Warn("sign-out after denied login failed")
		}
		httputil.WriteForbidden(w, denialMessage(err))
		return
	}

	id, err := s.deps.Sessions.Create(r.Context(), sess)
	if err != nil {
		s.countLogin("failure")
		s.logger.FromContext(r.Context()).WithError(err).Error("failed to persist session")
		httputil.WriteInternalError(w, errors.New("failed to establish session"))
		return
	}
	s.deps.Sessions.SetCookie(w, id)

	s.countLogin("success")
	s.deps.Activity.Track(r.Context(), sess.User.ID, activity.TypeLogin, "", nil)

	next := authflow.RoutePortalHome
	if res.Kind == profile.KindAdmin {
		next = authflow.RouteAdminHome
	}
	httputil.WriteSuccess(w, loginResponse{Next: next, Role: string(res.Kind)})
}

const oauthStateCookie = "portal_oauth_state"

// handleOAuthStart begins redirect-based OAuth sign-in. With an OIDC
// issuer configured the portal acts as the relying party and sends the
// browser there directly. Otherwise the hosted identity provider brokers
// the upstream provider and the tokens come back through the regular
// callback page.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		provider, ok := httputil.ParsePathStringOrError(w, r, "provider")
		if !ok {
			return
		}
		http.Redirect(w, r, s.deps.Identity.AuthorizeURL(provider, s.callbackURL()), http.StatusFound)
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/oauth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   strings.HasPrefix(s.deps.BaseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})
	s.deps.OAuth.InitiateLogin(w, r, state)
}

// handleOAuthCallback finishes the relying-party flow: state check, code
// exchange, profile resolution. The issuer redirects the browser here, so
// failures navigate back to the login page instead of answering JSON.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		httputil.WriteNotFoundError(w, "OAuth sign-in is not configured")
		return
	}

	q := r.URL.Query()
	if q.Get("error") != "" {
		s.countLogin("failure")
		s.redirectLoginError(w, r, "sign-in was cancelled")
		return
	}

	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		s.countLogin("failure")
		s.redirectLoginError(w, r, "sign-in session expired, try again")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/auth/oauth", MaxAge: -1})

	sess, err := s.deps.OAuth.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		s.countLogin("failure")
		s.logger.FromContext(r.Context()).WithError(err).Warn("OAuth code exchange failed")
		s.redirectLoginError(w, r, "sign-in failed")
		return
	}

	res, err := s.deps.Resolver.Authorize(r.Context(), sess.User.ID, sess.User.Email)
	if err != nil {
		s.countLogin("denied")
		if signOutErr := s.deps.Identity.SignOut(r.Context(), sess.AccessToken); signOutErr != nil {
			s.logger.WithError(signOutErr).Warn("sign-out after denied login failed")
		}
		s.redirectLoginError(w, r, denialMessage(err))
		return
	}

	id, err := s.deps.Sessions.Create(r.Context(), sess)
	if err != nil {
		s.countLogin("failure")
		s.logger.FromContext(r.Context()).WithError(err).Error("failed to persist session")
		s.redirectLoginError(w, r, "sign-in failed")
		return
	}
	s.deps.Sessions.SetCookie(w, id)

	s.countLogin("success")
	s.deps.Activity.Track(r.Context(), sess.User.ID, activity.TypeLogin, "", nil)

	next := authflow.RoutePortalHome
	if res.Kind == profile.KindAdmin {
		next = authflow.RouteAdminHome
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) redirectLoginError(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, authflow.RouteLogin+"?error="+url.QueryEscape(reason), http.StatusSeeOther)
}

// handleLogout tears the session down on both sides. A missing session is
// not an error: logout is idempotent.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, sess, err := s.deps.Sessions.FromRequest(r)
	if err == nil && sess != nil {
		if signOutErr := s.deps.Identity.SignOut(r.Context(), sess.AccessToken); signOutErr != nil {
			s.logger.WithError(signOutErr).Warn("provider sign-out failed")
		}
	}
	if id != "" {
		if delErr := s.deps.Sessions.Delete(r.Context(), id); delErr != nil {
			s.logger.WithError(delErr).Warn("failed to delete session")
		}
	}
	s.deps.Sessions.ClearCookie(w)
	httputil.WriteNoContent(w)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword sends a recovery email. The response is the same
// whether or not the address exists, so the endpoint cannot be used to
// enumerate accounts.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	if err := s.deps.Identity.SendRecovery(r.Context(), req.Email, s.callbackURL()); err != nil {
		s.logger.WithError(err).Warn("recovery request failed")
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "if the address is registered, a recovery email is on its way",
	})
}

// callbackPage reposts the redirect's query string and URL fragment to the
// server. The identity provider delivers token pairs in the fragment,
// which never reaches the server on the GET, so a browser round-trip is
// the only way to hand it over.
const callbackPage = `<!DOCTYPE html>
<html>
<head><title>Signing you in...</title></head>
<body>
<noscript>JavaScript is required to complete sign-in.</noscript>
<form id="cb" method="POST">
<input type="hidden" name="query" value="">
<input type="hidden" name="fragment" value="">
</form>
<script>
var f = document.getElementById("cb");
f.query.value = window.location.search.replace(/^\?/, "");
f.fragment.value = window.location.hash.replace(/^#/, "");
f.submit();
</script>
</body>
</html>`

func (s *Server) handleCallbackPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(callbackPage))
}

type callbackResponse struct {
	Granted bool   `json:"granted"`
	Next    string `json:"next"`
	Role    string `json:"role,omitempty"`
	Reason  string `json:"reason,omitempty"`
	DelayMs int64  `json:"delay_ms,omitempty"`
}

// handleCallback receives the reposted redirect parameters and runs the
// matching flow. The response always carries a navigation target.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "invalid form body")
		return
	}

	u := &url.URL{RawQuery: r.PostFormValue("query")}
	params := authflow.ParseParams(u, r.PostFormValue("fragment"))

	var existing *identity.Session
	if _, sess, err := s.deps.Sessions.FromRequest(r); err == nil {
		existing = sess
	}

	outcome := s.deps.Flows.HandleCallback(r.Context(), params, existing)
	s.countCallback(params.Type, outcome)

	if !outcome.Granted {
		httputil.WriteSuccess(w, callbackResponse{
			Next:    outcome.Next,
			Reason:  outcome.Reason,
			DelayMs: outcome.Delay.Milliseconds(),
		})
		return
	}

	if outcome.SessionID != "" {
		s.deps.Sessions.SetCookie(w, outcome.SessionID)
	}
	httputil.WriteSuccess(w, callbackResponse{
		Granted: true,
		Next:    outcome.Next,
		Role:    string(outcome.Role),
	})
}

type commitPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// handleCommitPassword finalizes an invitation or recovery. On success the
// session is gone on both sides and the user signs in fresh.
func (s *Server) handleCommitPassword(w http.ResponseWriter, r *http.Request) {
	id, sess, err := s.deps.Sessions.FromRequest(r)
	if err != nil || sess == nil {
		httputil.WriteUnauthorized(w, "no active session")
		return
	}

	var req commitPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err = s.deps.Passwords.Commit(r.Context(), id, sess, req.Password, req.ConfirmPassword)
	if err != nil {
		var policyErr *password.PolicyError
		switch {
		case errors.Is(err, password.ErrMismatch):
			httputil.WriteValidationError(w, "passwords do not match")
		case errors.As(err, &policyErr):
			httputil.WriteDetailedError(w, http.StatusBadRequest, err, map[string]string{
				"requirements": policyErr.Result.String(),
			})
		default:
			s.logger.FromContext(r.Context()).WithError(err).Error("password commit failed")
			httputil.WriteInternalError(w, errors.New("failed to update password"))
		}
		return
	}

	s.deps.Sessions.ClearCookie(w)
	httputil.WriteSuccess(w, map[string]string{"next": authflow.RouteLogin})
}

type meResponse struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	DistributorID string `json:"distributor_id,omitempty"`
	Name          string `json:"name,omitempty"`
}

// handleMe describes the authenticated caller
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	resp := meResponse{
		UserID: authCtx.Session.User.ID,
		Email:  authCtx.Session.User.Email,
		Role:   string(authCtx.Resolution.Kind),
	}
	if rec := authCtx.Resolution.Record; rec != nil {
		resp.DistributorID = rec.DistributorID
		resp.Name = rec.FullName
	}
	httputil.WriteSuccess(w, resp)
}

type inviteRequest struct {
	Email string `json:"email"`
}

// handleInvite sends an invitation email on behalf of the signed-in admin
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	if err := s.deps.Identity.Invite(r.Context(), authCtx.Session.AccessToken, req.Email, s.callbackURL()); err != nil {
		s.logger.FromContext(r.Context()).WithError(err).WithField("email", req.Email).Error("invitation failed")
		httputil.WriteError(w, http.StatusBadGateway, errors.New("failed to send invitation"))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"message": "invitation sent"})
}

func (s *Server) callbackURL() string {
	return s.deps.BaseURL + "/auth/callback"
}

func (s *Server) countLogin(status string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.LoginsTotal.WithLabelValues(status).Inc()
	}
}

func (s *Server) countCallback(flow string, outcome authflow.Outcome) {
	if s.deps.Metrics == nil {
		return
	}
	if flow == "" {
		flow = "oauth"
	}
	result := "granted"
	if !outcome.Granted {
		result = "denied"
	}
	s.deps.Metrics.AuthCallbacksTotal.WithLabelValues(flow, result).Inc()
}

// denialMessage maps resolution errors to user-facing text
func denialMessage(err error) string {
	switch {
	case errors.Is(err, profile.ErrProfileNotFound):
		return "no portal profile exists for this account"
	case errors.Is(err, profile.ErrProfileConflict):
		return "this account is misconfigured, contact support"
	case errors.Is(err, profile.ErrAccountInactive):
		return "this account is not active"
	default:
		return "access denied"
	}
}
