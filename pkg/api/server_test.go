package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectraline/partner-portal/pkg/activity"
	"github.com/spectraline/partner-portal/pkg/authflow"
	"github.com/spectraline/partner-portal/pkg/identity"
	"github.com/spectraline/partner-portal/pkg/middleware"
	"github.com/spectraline/partner-portal/pkg/observability"
	"github.com/spectraline/partner-portal/pkg/password"
	"github.com/spectraline/partner-portal/pkg/portal"
	"github.com/spectraline/partner-portal/pkg/profile"
	"github.com/spectraline/partner-portal/pkg/session"
)

const testCookie = "portal_session"

type fakeIdentity struct {
	session      *identity.Session
	signInErr    error
	recoveryErr  error
	inviteErr    error
	signOuts     int
	recoveries   []string
	invites      []string
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, email, pw string) (*identity.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.session, nil
}

func (f *fakeIdentity) SendRecovery(ctx context.Context, email, redirectTo string) error {
	f.recoveries = append(f.recoveries, email)
	return f.recoveryErr
}

func (f *fakeIdentity) Invite(ctx context.Context, accessToken, email, redirectTo string) error {
	f.invites = append(f.invites, email)
	return f.inviteErr
}

func (f *fakeIdentity) SignOut(ctx context.Context, accessToken string) error {
	f.signOuts++
	return nil
}

func (f *fakeIdentity) AuthorizeURL(provider, redirectTo string) string {
	return "https://id.test/auth/v1/authorize?provider=" + provider + "&redirect_to=" + url.QueryEscape(redirectTo)
}

type fakeOAuth struct {
	session     *identity.Session
	exchangeErr error
	states      []string
	codes       []string
}

func (f *fakeOAuth) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) {
	f.states = append(f.states, state)
	http.Redirect(w, r, "https://issuer.test/authorize?state="+state, http.StatusFound)
}

func (f *fakeOAuth) Exchange(ctx context.Context, code string) (*identity.Session, error) {
	f.codes = append(f.codes, code)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.session, nil
}

type fakeSessions struct {
	store     map[string]*identity.Session
	createErr error
	nextID    int
	cleared   int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{store: make(map[string]*identity.Session)}
}

func (f *fakeSessions) Create(ctx context.Context, sess *identity.Session) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("sess-%d", f.nextID)
	f.store[id] = sess
	return id, nil
}

func (f *fakeSessions) Delete(ctx context.Context, id string) error {
	delete(f.store, id)
	return nil
}

func (f *fakeSessions) FromRequest(r *http.Request) (string, *identity.Session, error) {
	cookie, err := r.Cookie(testCookie)
	if err != nil {
		return "", nil, session.ErrNoSession
	}
	sess, ok := f.store[cookie.Value]
	if !ok {
		return cookie.Value, nil, session.ErrNoSession
	}
	return cookie.Value, sess, nil
}

func (f *fakeSessions) SetCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{Name: testCookie, Value: id, Path: "/"})
}

func (f *fakeSessions) ClearCookie(w http.ResponseWriter) {
	f.cleared++
	http.SetCookie(w, &http.Cookie{Name: testCookie, Value: "", Path: "/", MaxAge: -1})
}

type fakeFlows struct {
	outcome authflow.Outcome
	params  authflow.Params
}

func (f *fakeFlows) HandleCallback(ctx context.Context, p authflow.Params, existing *identity.Session) authflow.Outcome {
	f.params = p
	return f.outcome
}

type fakePasswords struct {
	err    error
	called int
}

func (f *fakePasswords) Commit(ctx context.Context, sessionID string, sess *identity.Session, newPassword, confirmPassword string) error {
	f.called++
	return f.err
}

type fakeResolver struct {
	res profile.Resolution
	err error
}

func (f *fakeResolver) Authorize(ctx context.Context, userID, email string) (profile.Resolution, error) {
	return f.res, f.err
}

type fakeLibrary struct {
	items       []portal.Item
	item        *portal.Item
	downloadURL string
	err         error
	views       int
}

func (f *fakeLibrary) List(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, filter portal.ListFilter) ([]portal.Item, error) {
	return f.items, f.err
}

func (f *fakeLibrary) Get(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, id string) (*portal.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.item, nil
}

func (f *fakeLibrary) Create(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, item *portal.Item) error {
	item.ID = "item-1"
	return f.err
}

func (f *fakeLibrary) Update(ctx context.Context, kind portal.LibraryKind, item *portal.Item) error {
	return f.err
}

func (f *fakeLibrary) Delete(ctx context.Context, kind portal.LibraryKind, id string) error {
	return f.err
}

func (f *fakeLibrary) RecordDownload(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.downloadURL, nil
}

func (f *fakeLibrary) RecordView(ctx context.Context, kind portal.LibraryKind, id string) {
	f.views++
}

type fakeReleases struct {
	releases    []portal.Release
	downloadURL string
	err         error
}

func (f *fakeReleases) List(ctx context.Context, scope portal.Scope, filter portal.ListFilter) ([]portal.Release, error) {
	return f.releases, f.err
}

func (f *fakeReleases) Create(ctx context.Context, rel *portal.Release) error { return f.err }
func (f *fakeReleases) Update(ctx context.Context, rel *portal.Release) error { return f.err }
func (f *fakeReleases) Delete(ctx context.Context, id string) error           { return f.err }

func (f *fakeReleases) RecordDownload(ctx context.Context, scope portal.Scope, id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.downloadURL, nil
}

type fakeCustomers struct {
	customers []portal.Customer
	customer  *portal.Customer
	devices   []portal.Device
	err       error
}

func (f *fakeCustomers) List(ctx context.Context, scope portal.Scope, filter portal.ListFilter) ([]portal.Customer, error) {
	return f.customers, f.err
}

func (f *fakeCustomers) Get(ctx context.Context, scope portal.Scope, id string) (*portal.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.customer, nil
}

func (f *fakeCustomers) Create(ctx context.Context, scope portal.Scope, cust *portal.Customer) error {
	cust.ID = "cust-1"
	cust.DistributorID = scope.DistributorID
	return f.err
}

func (f *fakeCustomers) Update(ctx context.Context, scope portal.Scope, cust *portal.Customer) error {
	return f.err
}

func (f *fakeCustomers) Delete(ctx context.Context, scope portal.Scope, id string) error {
	return f.err
}

func (f *fakeCustomers) ListDevices(ctx context.Context, scope portal.Scope, customerID string) ([]portal.Device, error) {
	return f.devices, f.err
}

func (f *fakeCustomers) AddDevice(ctx context.Context, scope portal.Scope, device *portal.Device) error {
	device.ID = "dev-1"
	return f.err
}

type trackedActivity struct {
	Type       activity.Type
	ResourceID string
	Metadata   map[string]interface{}
}

type fakeActivity struct {
	tracked []trackedActivity
}

func (f *fakeActivity) Track(ctx context.Context, userID string, activityType activity.Type, resourceID string, metadata map[string]interface{}) {
	f.tracked = append(f.tracked, trackedActivity{Type: activityType, ResourceID: resourceID, Metadata: metadata})
}

type fakeReports struct {
	records []activity.Record
	counts  []activity.DailyCount
	top     []activity.ResourceCount
	err     error
}

func (f *fakeReports) Recent(ctx context.Context, filter activity.ReportFilter) ([]activity.Record, error) {
	return f.records, f.err
}

func (f *fakeReports) DailyCounts(ctx context.Context, from, to time.Time) ([]activity.DailyCount, error) {
	return f.counts, f.err
}

func (f *fakeReports) TopResources(ctx context.Context, from, to time.Time, limit int) ([]activity.ResourceCount, error) {
	return f.top, f.err
}

type harness struct {
	server    *Server
	deps      Dependencies
	oauth     *fakeOAuth
	identity  *fakeIdentity
	sessions  *fakeSessions
	flows     *fakeFlows
	passwords *fakePasswords
	resolver  *fakeResolver
	library   *fakeLibrary
	releases  *fakeReleases
	customers *fakeCustomers
	activity  *fakeActivity
	reports   *fakeReports
}

func testSession() *identity.Session {
	return &identity.Session{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         identity.User{ID: "user-1", Email: "user@acme.test"},
	}
}

func distributorResolution() profile.Resolution {
	return profile.Resolution{
		Kind: profile.KindDistributor,
		Record: &profile.Record{
			Status:        profile.StatusActive,
			DistributorID: "dist-1",
			FullName:      "Dana Distributor",
		},
	}
}

func adminResolution() profile.Resolution {
	return profile.Resolution{
		Kind:   profile.KindAdmin,
		Record: &profile.Record{Status: profile.StatusActive, FullName: "Avery Admin"},
	}
}

func newHarness(t *testing.T, res profile.Resolution) *harness {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, nil)

	h := &harness{
		identity:  &fakeIdentity{session: testSession()},
		sessions:  newFakeSessions(),
		flows:     &fakeFlows{},
		passwords: &fakePasswords{},
		resolver:  &fakeResolver{res: res},
		library:   &fakeLibrary{},
		releases:  &fakeReleases{},
		customers: &fakeCustomers{},
		activity:  &fakeActivity{},
		reports:   &fakeReports{},
	}

	h.deps = Dependencies{
		Logger:    logger,
		Identity:  h.identity,
		Sessions:  h.sessions,
		Flows:     h.flows,
		Passwords: h.passwords,
		Resolver:  h.resolver,
		Library:   h.library,
		Releases:  h.releases,
		Customers: h.customers,
		Activity:  h.activity,
		Reports:   h.reports,
		Auth:      middleware.NewAuthMiddleware(h.sessions, h.resolver, logger),
		BaseURL:   "https://portal.test",
	}
	h.server = NewServer(h.deps)
	return h
}

// enableOAuth rebuilds the server with a relying-party OAuth service
func (h *harness) enableOAuth() {
	h.oauth = &fakeOAuth{session: testSession()}
	h.deps.OAuth = h.oauth
	h.server = NewServer(h.deps)
}

// signIn establishes a session directly in the fake store and returns the
// cookie to attach to requests
func (h *harness) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	id, err := h.sessions.Create(context.Background(), testSession())
	require.NoError(t, err)
	return &http.Cookie{Name: testCookie, Value: id}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestLogin(t *testing.T) {
	t.Run("distributor lands on portal home", func(t *testing.T) {
		h := newHarness(t, distributorResolution())

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			jsonBody(t, loginRequest{Email: "user@acme.test", Password: "pw"}))
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp loginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "/portal", resp.Next)
		assert.Equal(t, "distributor", resp.Role)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, testCookie, cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)

		require.Len(t, h.activity.tracked, 1)
		assert.Equal(t, activity.TypeLogin, h.activity.tracked[0].Type)
	})

	t.Run("admin lands on admin home", func(t *testing.T) {
		h := newHarness(t, adminResolution())

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			jsonBody(t, loginRequest{Email: "admin@acme.test", Password: "pw"}))
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"next":"/admin"`)
	})

	t.Run("invalid credentials return 401", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.identity.signInErr = &identity.ProviderError{
			Status: http.StatusBadRequest,
			Kind:   identity.ErrInvalidCredentials,
		}

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			jsonBody(t, loginRequest{Email: "user@acme.test", Password: "wrong"}))
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("resolved denial signs the provider session out", func(t *testing.T) {
		h := newHarness(t, profile.Resolution{})
		h.resolver.err = profile.ErrAccountInactive

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			jsonBody(t, loginRequest{Email: "user@acme.test", Password: "pw"}))
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, 1, h.identity.signOuts)
		assert.Contains(t, rec.Body.String(), "not active")
	})

	t.Run("missing fields are rejected locally", func(t *testing.T) {
		h := newHarness(t, distributorResolution())

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			jsonBody(t, loginRequest{Email: "user@acme.test"}))
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	t.Run("tears down an active session", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 1, h.identity.signOuts)
		assert.Empty(t, h.sessions.store)
		assert.Equal(t, 1, h.sessions.cleared)
	})

	t.Run("without a session it is a no-op", func(t *testing.T) {
		h := newHarness(t, distributorResolution())

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 0, h.identity.signOuts)
	})
}

func TestForgotPassword(t *testing.T) {
	t.Run("accepted regardless of outcome", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.identity.recoveryErr = errors.New("no such user")

		req := httptest.NewRequest(http.MethodPost, "/auth/forgot-password",
			jsonBody(t, forgotPasswordRequest{Email: "ghost@acme.test"}))
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []string{"ghost@acme.test"}, h.identity.recoveries)
	})
}

func TestCallbackPage(t *testing.T) {
	h := newHarness(t, distributorResolution())

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?type=invite&token_hash=abc", nil)
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "window.location.hash")
	assert.Contains(t, rec.Body.String(), `method="POST"`)
}

func postCallback(h *harness, query, fragment string, cookie *http.Cookie) *httptest.ResponseRecorder {
	form := url.Values{}
	form.Set("query", query)
	form.Set("fragment", fragment)
	req := httptest.NewRequest(http.MethodPost, "/auth/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func TestCallback(t *testing.T) {
	t.Run("granted invite sets cookie and navigates", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.flows.outcome = authflow.Outcome{Granted: true, Next: "/set-password", SessionID: "sess-9"}

		rec := postCallback(h, "type=invite&token_hash=abc", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "invite", h.flows.params.Type)
		assert.Equal(t, "abc", h.flows.params.TokenHash)

		var resp callbackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Granted)
		assert.Equal(t, "/set-password", resp.Next)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "sess-9", cookies[0].Value)
	})

	t.Run("fragment token pair reaches the orchestrator", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.flows.outcome = authflow.Outcome{Granted: true, Next: "/portal", SessionID: "sess-7"}

		rec := postCallback(h, "", "access_token=at&refresh_token=rt", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "at", h.flows.params.AccessToken)
		assert.Equal(t, "rt", h.flows.params.RefreshToken)
	})

	t.Run("denial carries reason and delay", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.flows.outcome = authflow.Outcome{
			Reason: authflow.ReasonInvalidInvitation,
			Next:   "/login",
			Delay:  3 * time.Second,
		}

		rec := postCallback(h, "type=invite", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp callbackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Granted)
		assert.Equal(t, authflow.ReasonInvalidInvitation, resp.Reason)
		assert.Equal(t, int64(3000), resp.DelayMs)
		assert.Empty(t, rec.Result().Cookies())
	})
}

func TestCommitPassword(t *testing.T) {
	t.Run("success clears cookie and routes to login", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)

		req := httptest.NewRequest(http.MethodPost, "/auth/password",
			jsonBody(t, commitPasswordRequest{Password: "Abcdefg1", ConfirmPassword: "Abcdefg1"}))
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, h.passwords.called)
		assert.Equal(t, 1, h.sessions.cleared)
		assert.Contains(t, rec.Body.String(), `"next":"/login"`)
	})

	t.Run("mismatch is a local validation error", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)
		h.passwords.err = password.ErrMismatch

		req := httptest.NewRequest(http.MethodPost, "/auth/password",
			jsonBody(t, commitPasswordRequest{Password: "Abcdefg1", ConfirmPassword: "other"}))
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "do not match")
	})

	t.Run("policy failure lists the unmet requirements", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)
		h.passwords.err = &password.PolicyError{Result: password.Validate("abc")}

		req := httptest.NewRequest(http.MethodPost, "/auth/password",
			jsonBody(t, commitPasswordRequest{Password: "abc", ConfirmPassword: "abc"}))
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "requirements")
	})

	t.Run("no session returns 401", func(t *testing.T) {
		h := newHarness(t, distributorResolution())

		req := httptest.NewRequest(http.MethodPost, "/auth/password",
			jsonBody(t, commitPasswordRequest{Password: "Abcdefg1", ConfirmPassword: "Abcdefg1"}))
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 0, h.passwords.called)
	})
}

func TestMe(t *testing.T) {
	h := newHarness(t, distributorResolution())
	cookie := h.signIn(t)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "distributor", resp.Role)
	assert.Equal(t, "dist-1", resp.DistributorID)
	assert.Equal(t, "Dana Distributor", resp.Name)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h := newHarness(t, distributorResolution())

	req := httptest.NewRequest(http.MethodGet, "/api/library/documents", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLibraryEndpoints(t *testing.T) {
	t.Run("list returns items and tracks searches", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)
		h.library.items = []portal.Item{{ID: "doc-1", Title: "Installation Guide"}}

		req := httptest.NewRequest(http.MethodGet, "/api/library/documents?search=guide", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Installation Guide")

		require.Len(t, h.activity.tracked, 1)
		assert.Equal(t, activity.TypeSearch, h.activity.tracked[0].Type)
		assert.Equal(t, "guide", h.activity.tracked[0].Metadata["query"])
	})

	t.Run("unknown kind is a 404", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)

		req := httptest.NewRequest(http.MethodGet, "/api/library/secrets", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("get records a view", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)
		h.library.item = &portal.Item{ID: "doc-1", Title: "Installation Guide"}

		req := httptest.NewRequest(http.MethodGet, "/api/library/documents/doc-1", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, h.library.views)
	})

	t.Run("download returns the presigned URL and tracks it", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)
		h.library.downloadURL = "https://files.test/doc-1?sig=x"

		req := httptest.NewRequest(http.MethodPost, "/api/library/documents/doc-1/download", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "sig=x")

		require.Len(t, h.activity.tracked, 1)
		assert.Equal(t, activity.TypeDownload, h.activity.tracked[0].Type)
		assert.Equal(t, "doc-1", h.activity.tracked[0].ResourceID)
	})

	t.Run("blocked mutation surfaces as 403", func(t *testing.T) {
		h := newHarness(t, adminResolution())
		cookie := h.signIn(t)
		h.library.err = portal.ErrPermissionDenied

		req := httptest.NewRequest(http.MethodPut, "/api/admin/library/documents/doc-1",
			jsonBody(t, portal.Item{Title: "Renamed"}))
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAdminRoutesRejectDistributors(t *testing.T) {
	h := newHarness(t, distributorResolution())
	cookie := h.signIn(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/library/documents",
		jsonBody(t, portal.Item{Title: "New Doc"}))
	req.AddCookie(cookie)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvite(t *testing.T) {
	h := newHarness(t, adminResolution())
	cookie := h.signIn(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/invites",
		jsonBody(t, inviteRequest{Email: "new@partner.test"}))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"new@partner.test"}, h.identity.invites)
}

func TestCustomerEndpoints(t *testing.T) {
	t.Run("create scopes to the caller's tenant", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)

		req := httptest.NewRequest(http.MethodPost, "/api/customers",
			jsonBody(t, portal.Customer{CompanyName: "Clinic North"}))
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)

		var cust portal.Customer
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cust))
		assert.Equal(t, "dist-1", cust.DistributorID)
	})

	t.Run("foreign tenant rows are 404", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)
		h.customers.err = portal.ErrNotFound

		req := httptest.NewRequest(http.MethodGet, "/api/customers/other-cust", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("devices are listed under their customer", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		cookie := h.signIn(t)
		h.customers.devices = []portal.Device{{ID: "dev-1", SerialNumber: "SN-100"}}

		req := httptest.NewRequest(http.MethodGet, "/api/customers/cust-1/devices", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "SN-100")
	})
}

func TestActivityReports(t *testing.T) {
	t.Run("recent records for admins", func(t *testing.T) {
		h := newHarness(t, adminResolution())
		cookie := h.signIn(t)
		h.reports.records = []activity.Record{{ID: 1, UserID: "user-1", Type: activity.TypeDownload}}

		req := httptest.NewRequest(http.MethodGet, "/api/admin/activity?type=download", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"activity_type":"download"`)
	})

	t.Run("invalid date bound is rejected", func(t *testing.T) {
		h := newHarness(t, adminResolution())
		cookie := h.signIn(t)

		req := httptest.NewRequest(http.MethodGet, "/api/admin/activity/daily?from=yesterday", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func oauthStateCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == oauthStateCookie {
			return c
		}
	}
	t.Fatal("no state cookie set")
	return nil
}

func TestOAuthStart(t *testing.T) {
	t.Run("hosted mode redirects to the provider's authorize endpoint", func(t *testing.T) {
		h := newHarness(t, distributorResolution())

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/google", nil)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		loc := rec.Header().Get("Location")
		assert.Contains(t, loc, "https://id.test/auth/v1/authorize")
		assert.Contains(t, loc, "provider=google")
		assert.Contains(t, loc, url.QueryEscape("https://portal.test/auth/callback"))
	})

	t.Run("issuer mode redirects with a state cookie", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.enableOAuth()

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/sso", nil)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "https://issuer.test/authorize")

		require.Len(t, h.oauth.states, 1)
		state := oauthStateCookieFrom(t, rec)
		assert.Equal(t, h.oauth.states[0], state.Value)
		assert.True(t, state.HttpOnly)
	})
}

func TestOAuthCallback(t *testing.T) {
	t.Run("not configured answers 404", func(t *testing.T) {
		h := newHarness(t, distributorResolution())

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?code=c&state=s", nil)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("state mismatch aborts before the exchange", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.enableOAuth()

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?code=c&state=forged", nil)
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "genuine"})
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "/login")
		assert.Empty(t, h.oauth.codes)
	})

	t.Run("issuer error redirects to login", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.enableOAuth()

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?error=access_denied", nil)
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "/login")
		assert.Empty(t, h.oauth.codes)
	})

	t.Run("exchanged session lands on portal home", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.enableOAuth()

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?code=the-code&state=st-1", nil)
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st-1"})
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/portal", rec.Header().Get("Location"))
		assert.Equal(t, []string{"the-code"}, h.oauth.codes)

		var sessionCookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == testCookie {
				sessionCookie = c
			}
		}
		require.NotNil(t, sessionCookie)
		assert.NotEmpty(t, sessionCookie.Value)

		require.Len(t, h.activity.tracked, 1)
		assert.Equal(t, activity.TypeLogin, h.activity.tracked[0].Type)
	})

	t.Run("admin lands on admin home", func(t *testing.T) {
		h := newHarness(t, adminResolution())
		h.enableOAuth()

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?code=c&state=st-2", nil)
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st-2"})
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin", rec.Header().Get("Location"))
	})

	t.Run("resolved denial signs the provider session out", func(t *testing.T) {
		h := newHarness(t, profile.Resolution{})
		h.enableOAuth()
		h.resolver.err = profile.ErrProfileNotFound

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?code=c&state=st-3", nil)
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st-3"})
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "/login")
		assert.Equal(t, 1, h.identity.signOuts)
	})

	t.Run("failed exchange redirects to login", func(t *testing.T) {
		h := newHarness(t, distributorResolution())
		h.enableOAuth()
		h.oauth.exchangeErr = &identity.ProviderError{
			Status: http.StatusBadRequest,
			Kind:   identity.ErrSessionExchangeFailed,
		}

		req := httptest.NewRequest(http.MethodGet, "/auth/oauth/callback?code=bad&state=st-4", nil)
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st-4"})
		rec := httptest.NewRecorder()
		h.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "/login")
		for _, c := range rec.Result().Cookies() {
			assert.NotEqual(t, testCookie, c.Name, "no session may be established")
		}
	})
}
