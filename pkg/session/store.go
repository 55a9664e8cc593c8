// Package session is the portal's server-side session store. The identity
// provider owns the tokens; this store only keeps the current token pair
// (plus user claims) under an opaque session ID carried in an HttpOnly
// cookie, replacing the ambient browser-local-storage cache the legacy
// portal used with an injected, explicitly-scoped object.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/spectraline/partner-portal/pkg/identity"
)

// ErrNoSession is returned when no live session exists for an ID
var ErrNoSession = errors.New("no active session")

// ErrRefreshFailed is returned when an expired session could not be
// refreshed; the session has already been cleared when this is returned.
var ErrRefreshFailed = errors.New("session refresh failed")

// Refresher is the part of the identity client the store depends on
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error)
}

// Store keeps sessions in Redis keyed by opaque IDs
type Store struct {
	redis      *redis.Client
	identity   Refresher
	ttl        time.Duration
	cookieName string
	secure     bool

	// onInvalidate runs after a session is cleared because its refresh
	// failed, so callers can force navigation back to the login route.
	onInvalidate func(sessionID string)
}

// NewStore creates a session store
func NewStore(redisClient *redis.Client, identityClient Refresher, ttl time.Duration, cookieName string, secure bool) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if cookieName == "" {
		cookieName = "portal_session"
	}
	return &Store{
		redis:      redisClient,
		identity:   identityClient,
		ttl:        ttl,
		cookieName: cookieName,
		secure:     secure,
	}
}

// OnInvalidate registers the invalidation callback
func (s *Store) OnInvalidate(fn func(sessionID string)) {
	s.onInvalidate = fn
}

func (s *Store) key(id string) string {
	return "session:" + id
}

// Create persists a session and returns its opaque ID
func (s *Store) Create(ctx context.Context, sess *identity.Session) (string, error) {
	id := uuid.NewString()
	if err := s.persist(ctx, id, sess); err != nil {
		return "", err
	}
	return id, nil
}

// Set overwrites the session stored under an existing ID
func (s *Store) Set(ctx context.Context, id string, sess *identity.Session) error {
	return s.persist(ctx, id, sess)
}

func (s *Store) persist(ctx context.Context, id string, sess *identity.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get loads a session. An expired access token is refreshed through the
// identity provider; if the refresh is rejected the session is cleared and
// ErrRefreshFailed is returned so the caller forces the login route.
func (s *Store) Get(ctx context.Context, id string) (*identity.Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrNoSession
	} else if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess identity.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		// Corrupt entry: drop it rather than serving garbage
		s.redis.Del(ctx, s.key(id))
		return nil, ErrNoSession
	}

	if !sess.Expired(time.Now()) {
		return &sess, nil
	}

	refreshed, err := s.identity.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		s.invalidate(ctx, id)
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	if err := s.persist(ctx, id, refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Delete removes a session
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.redis.Del(ctx, s.key(id)).Err()
}

func (s *Store) invalidate(ctx context.Context, id string) {
	s.redis.Del(ctx, s.key(id))
	if s.onInvalidate != nil {
		s.onInvalidate(id)
	}
}

// SetCookie writes the session cookie on a response
func (s *Store) SetCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})
}

// ClearCookie expires the session cookie
func (s *Store) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// FromRequest resolves the session referenced by the request cookie
func (s *Store) FromRequest(r *http.Request) (string, *identity.Session, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return "", nil, ErrNoSession
	}
	sess, err := s.Get(r.Context(), cookie.Value)
	if err != nil {
		return cookie.Value, nil, err
	}
	return cookie.Value, sess, nil
}
