// Package api wires the portal's HTTP surface: the auth endpoints
// (login, callback, password lifecycle) and the JSON data views behind
// the distributor and admin screens.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/spectraline/partner-portal/pkg/activity"
	"github.com/spectraline/partner-portal/pkg/authflow"
	"github.com/spectraline/partner-portal/pkg/httputil"
	"github.com/spectraline/partner-portal/pkg/identity"
	"github.com/spectraline/partner-portal/pkg/middleware"
	"github.com/spectraline/partner-portal/pkg/observability"
	"github.com/spectraline/partner-portal/pkg/portal"
	"github.com/spectraline/partner-portal/pkg/profile"
)

// IdentityService is the slice of the identity client the handlers call
// directly; the orchestrator and session store carry their own slices.
type IdentityService interface {
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SendRecovery(ctx context.Context, email, redirectTo string) error
	Invite(ctx context.Context, accessToken, email, redirectTo string) error
	SignOut(ctx context.Context, accessToken string) error
	AuthorizeURL(provider, redirectTo string) string
}

// OAuthService is the relying-party flow against a configured OIDC issuer.
// Left nil, OAuth sign-in goes through the hosted provider's authorize
// endpoint instead.
type OAuthService interface {
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string)
	Exchange(ctx context.Context, code string) (*identity.Session, error)
}

// SessionStore is the session-store surface the handlers use
type SessionStore interface {
	Create(ctx context.Context, sess *identity.Session) (string, error)
	Delete(ctx context.Context, id string) error
	FromRequest(r *http.Request) (string, *identity.Session, error)
	SetCookie(w http.ResponseWriter, id string)
	ClearCookie(w http.ResponseWriter)
}

// CallbackRunner drives an identity-provider redirect to a terminal outcome
type CallbackRunner interface {
	HandleCallback(ctx context.Context, p authflow.Params, existing *identity.Session) authflow.Outcome
}

// PasswordCommitter finalizes an invitation or recovery password
type PasswordCommitter interface {
	Commit(ctx context.Context, sessionID string, sess *identity.Session, newPassword, confirmPassword string) error
}

// Authorizer classifies an authenticated user
type Authorizer interface {
	Authorize(ctx context.Context, userID, email string) (profile.Resolution, error)
}

// LibraryService serves the three content-library views
type LibraryService interface {
	List(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, filter portal.ListFilter) ([]portal.Item, error)
	Get(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, id string) (*portal.Item, error)
	Create(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, item *portal.Item) error
	Update(ctx context.Context, kind portal.LibraryKind, item *portal.Item) error
	Delete(ctx context.Context, kind portal.LibraryKind, id string) error
	RecordDownload(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, id string) (string, error)
	RecordView(ctx context.Context, kind portal.LibraryKind, id string)
}

// ReleaseService serves the software-release views
type ReleaseService interface {
	List(ctx context.Context, scope portal.Scope, filter portal.ListFilter) ([]portal.Release, error)
	Create(ctx context.Context, rel *portal.Release) error
	Update(ctx context.Context, rel *portal.Release) error
	Delete(ctx context.Context, id string) error
	RecordDownload(ctx context.Context, scope portal.Scope, id string) (string, error)
}

// CustomerService serves the tenant-scoped customer and device views
type CustomerService interface {
	List(ctx context.Context, scope portal.Scope, filter portal.ListFilter) ([]portal.Customer, error)
	Get(ctx context.Context, scope portal.Scope, id string) (*portal.Customer, error)
	Create(ctx context.Context, scope portal.Scope, cust *portal.Customer) error
	Update(ctx context.Context, scope portal.Scope, cust *portal.Customer) error
	Delete(ctx context.Context, scope portal.Scope, id string) error
	ListDevices(ctx context.Context, scope portal.Scope, customerID string) ([]portal.Device, error)
	AddDevice(ctx context.Context, scope portal.Scope, device *portal.Device) error
}

// ActivityTracker records user actions without blocking them
type ActivityTracker interface {
	Track(ctx context.Context, userID string, activityType activity.Type, resourceID string, metadata map[string]interface{})
}

// ReportService serves the admin activity reports
type ReportService interface {
	Recent(ctx context.Context, filter activity.ReportFilter) ([]activity.Record, error)
	DailyCounts(ctx context.Context, from, to time.Time) ([]activity.DailyCount, error)
	TopResources(ctx context.Context, from, to time.Time, limit int) ([]activity.ResourceCount, error)
}

// RateLimiter applies request limits. Either the in-memory or the
// Redis-backed middleware satisfies it.
type RateLimiter interface {
	LoginHandler(next http.Handler) http.Handler
	Handler(next http.Handler) http.Handler
}

// Dependencies carries everything the server needs
type Dependencies struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Identity  IdentityService
	OAuth     OAuthService
	Sessions  SessionStore
	Flows     CallbackRunner
	Passwords PasswordCommitter
	Resolver  Authorizer
	Library   LibraryService
	Releases  ReleaseService
	Customers CustomerService
	Activity  ActivityTracker
	Reports   ReportService

	Auth      *middleware.AuthMiddleware
	RateLimit RateLimiter

	// BaseURL is the externally visible origin, used for redirect targets
	// in invitation and recovery emails.
	BaseURL string
}

// Server is the portal HTTP API
type Server struct {
	router *mux.Router
	deps   Dependencies
	logger *observability.Logger
}

// NewServer builds the router and registers every route
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		logger: deps.Logger,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	s.router.Use(httputil.MaxBytesMiddleware(1 << 20))
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	// Auth surface: reachable without a session
	auth := s.router.PathPrefix("/auth").Subrouter()
	login := http.HandlerFunc(s.handleLogin)
	if s.deps.RateLimit != nil {
		auth.Handle("/login", s.deps.RateLimit.LoginHandler(login)).Methods(http.MethodPost)
	} else {
		auth.Handle("/login", login).Methods(http.MethodPost)
	}
	auth.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	// The literal path registers first so it wins over the provider variable
	auth.HandleFunc("/oauth/callback", s.handleOAuthCallback).Methods(http.MethodGet)
	auth.HandleFunc("/oauth/{provider}", s.handleOAuthStart).Methods(http.MethodGet)
	auth.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/callback", s.handleCallbackPage).Methods(http.MethodGet)
	auth.HandleFunc("/callback", s.handleCallback).Methods(http.MethodPost)
	auth.HandleFunc("/password", s.handleCommitPassword).Methods(http.MethodPost)

	// Data views: any resolved role
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.deps.Auth.RequireAuth)
	if s.deps.RateLimit != nil {
		api.Use(s.deps.RateLimit.Handler)
	}

	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	api.HandleFunc("/library/{kind}", s.handleLibraryList).Methods(http.MethodGet)
	api.HandleFunc("/library/{kind}/{id}", s.handleLibraryGet).Methods(http.MethodGet)
	api.HandleFunc("/library/{kind}/{id}/download", s.handleLibraryDownload).Methods(http.MethodPost)

	api.HandleFunc("/releases", s.handleReleaseList).Methods(http.MethodGet)
	api.HandleFunc("/releases/{id}/download", s.handleReleaseDownload).Methods(http.MethodPost)

	api.HandleFunc("/customers", s.handleCustomerList).Methods(http.MethodGet)
	api.HandleFunc("/customers", s.handleCustomerCreate).Methods(http.MethodPost)
	api.HandleFunc("/customers/{id}", s.handleCustomerGet).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}", s.handleCustomerUpdate).Methods(http.MethodPut)
	api.HandleFunc("/customers/{id}", s.handleCustomerDelete).Methods(http.MethodDelete)
	api.HandleFunc("/customers/{id}/devices", s.handleDeviceList).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}/devices", s.handleDeviceAdd).Methods(http.MethodPost)

	// Admin surface: admin role required on top of RequireAuth
	admin := s.router.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.deps.Auth.RequireRole(profile.KindAdmin))

	admin.HandleFunc("/library/{kind}", s.handleLibraryCreate).Methods(http.MethodPost)
	admin.HandleFunc("/library/{kind}/{id}", s.handleLibraryUpdate).Methods(http.MethodPut)
	admin.HandleFunc("/library/{kind}/{id}", s.handleLibraryDelete).Methods(http.MethodDelete)

	admin.HandleFunc("/releases", s.handleReleaseCreate).Methods(http.MethodPost)
	admin.HandleFunc("/releases/{id}", s.handleReleaseUpdate).Methods(http.MethodPut)
	admin.HandleFunc("/releases/{id}", s.handleReleaseDelete).Methods(http.MethodDelete)

	admin.HandleFunc("/invites", s.handleInvite).Methods(http.MethodPost)

	admin.HandleFunc("/activity", s.handleActivityRecent).Methods(http.MethodGet)
	admin.HandleFunc("/activity/daily", s.handleActivityDaily).Methods(http.MethodGet)
	admin.HandleFunc("/activity/top", s.handleActivityTop).Methods(http.MethodGet)
}
