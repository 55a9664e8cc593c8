package password

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectraline/partner-portal/pkg/identity"
	"github.com/spectraline/partner-portal/pkg/observability"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		password string
		want     Result
	}{
		{"Ab1", Result{MinLength: false, HasUpper: true, HasLower: true, HasDigit: true}},
		{"abcdefgh", Result{MinLength: true, HasUpper: false, HasLower: true, HasDigit: false}},
		{"Abcdefg1", Result{MinLength: true, HasUpper: true, HasLower: true, HasDigit: true}},
		{"", Result{}},
		{"12345678", Result{MinLength: true, HasDigit: true}},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			got := Validate(tt.password)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.True(t, Validate("Abcdefg1").Valid())
	assert.False(t, Validate("abcdefgh").Valid())
}

type fakeClient struct {
	updateErr    error
	updateCalls  int
	signOutCalls int
	lastPassword string
}

func (f *fakeClient) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	f.updateCalls++
	f.lastPassword = newPassword
	return f.updateErr
}

func (f *fakeClient) SignOut(ctx context.Context, accessToken string) error {
	f.signOutCalls++
	return nil
}

type fakeActivator struct {
	activated bool
	err       error
	calls     int
}

func (f *fakeActivator) Activate(ctx context.Context, userID string) (bool, error) {
	f.calls++
	return f.activated, f.err
}

type fakeRemover struct {
	deleted []string
}

func (f *fakeRemover) Delete(ctx context.Context, sessionID string) error {
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func testSession() *identity.Session {
	return &identity.Session{
		AccessToken: "at",
		User:        identity.User{ID: "user-1", Email: "user@x.test"},
	}
}

func newLifecycle(client *fakeClient, activator *fakeActivator, remover *fakeRemover) *Lifecycle {
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	return NewLifecycle(client, activator, remover, logger)
}

func TestCommit_PendingProfile(t *testing.T) {
	client := &fakeClient{}
	activator := &fakeActivator{activated: true}
	remover := &fakeRemover{}
	l := newLifecycle(client, activator, remover)

	err := l.Commit(context.Background(), "sess-1", testSession(), "Abcdefg1", "Abcdefg1")
	require.NoError(t, err)

	assert.Equal(t, 1, client.updateCalls)
	assert.Equal(t, "Abcdefg1", client.lastPassword)
	assert.Equal(t, 1, activator.calls, "exactly one activation attempt")
	assert.Equal(t, 1, client.signOutCalls, "sign-out must follow the commit")
	assert.Equal(t, []string{"sess-1"}, remover.deleted)
}

func TestCommit_MismatchIsLocal(t *testing.T) {
	client := &fakeClient{}
	l := newLifecycle(client, &fakeActivator{}, &fakeRemover{})

	err := l.Commit(context.Background(), "sess-1", testSession(), "Abcdefg1", "Abcdefg2")
	assert.ErrorIs(t, err, ErrMismatch)
	assert.Zero(t, client.updateCalls, "mismatch must not reach the network")
	assert.Zero(t, client.signOutCalls)
}

func TestCommit_PolicyViolationIsLocal(t *testing.T) {
	client := &fakeClient{}
	l := newLifecycle(client, &fakeActivator{}, &fakeRemover{})

	err := l.Commit(context.Background(), "sess-1", testSession(), "short", "short")
	var policyErr *PolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.False(t, policyErr.Result.MinLength)
	assert.Zero(t, client.updateCalls)
}

func TestCommit_UpdateFailureStopsBeforeActivation(t *testing.T) {
	client := &fakeClient{updateErr: errors.New("provider rejected")}
	activator := &fakeActivator{}
	l := newLifecycle(client, activator, &fakeRemover{})

	err := l.Commit(context.Background(), "sess-1", testSession(), "Abcdefg1", "Abcdefg1")
	require.Error(t, err)
	assert.Zero(t, activator.calls)
	assert.Zero(t, client.signOutCalls)
}

func TestCommit_ActivationFailureStillTearsDown(t *testing.T) {
	client := &fakeClient{}
	activator := &fakeActivator{err: errors.New("db down")}
	remover := &fakeRemover{}
	l := newLifecycle(client, activator, remover)

	err := l.Commit(context.Background(), "sess-1", testSession(), "Abcdefg1", "Abcdefg1")
	require.NoError(t, err)
	assert.Equal(t, 1, client.signOutCalls)
	assert.Len(t, remover.deleted, 1)
}
