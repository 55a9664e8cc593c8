// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *middleware.AuthContext
	// Set by: middleware.RequireAuth (pkg/middleware/auth.go)
	// Required by: all protected portal/admin endpoints
	AuthKey Key = "auth_context"

	// DistributorKey contains the distributor ID string scoping the request
	// Set by: middleware.RequireAuth for distributor sessions
	// Required by: distributor-facing list/detail endpoints
	DistributorKey Key = "distributor_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware, observability layer
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.RequireAuth after session resolution
	UserIDKey Key = "user_id"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithDistributor adds the scoping distributor ID to the context
func WithDistributor(ctx context.Context, distributorID string) context.Context {
	return context.WithValue(ctx, DistributorKey, distributorID)
}

// DistributorFrom returns the scoping distributor ID, if any
func DistributorFrom(ctx context.Context) string {
	if id, ok := ctx.Value(DistributorKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFrom returns the request ID, if any
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserIDFrom returns the authenticated user ID, if any
func UserIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}
