// Package profile resolves an authenticated identity to its application
// authorization record (admin vs distributor) and active/inactive status.
//
// Two authorization-table layouts coexist in deployed history: a single
// profiles table carrying a role column, and a dual layout where admins
// live in their own admin_users table. Both are supported behind one
// decision table; the layout is chosen by configuration, not duplicated
// call sites.
package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/spectraline/partner-portal/pkg/observability"
)

// LookupMode selects the authorization-table layout
type LookupMode string

const (
	LookupSingle LookupMode = "single"
	LookupDual   LookupMode = "dual"
)

// Resolver looks up authorization records
type Resolver struct {
	db     *sql.DB
	mode   LookupMode
	logger *observability.Logger
	cache  *expirable.LRU[string, Resolution]
}

// NewResolver creates a resolver for the configured table layout.
// Resolutions are cached briefly so per-request middleware lookups do not
// hammer the database; status changes take effect within the TTL.
func NewResolver(db *sql.DB, mode LookupMode, logger *observability.Logger) *Resolver {
	return &Resolver{
		db:     db,
		mode:   mode,
		logger: logger,
		cache:  expirable.NewLRU[string, Resolution](1024, nil, time.Minute),
	}
}

const profileColumns = `id, email, COALESCE(full_name, ''), COALESCE(company_name, ''), role, status, COALESCE(territory, ''), COALESCE(distributor_id::text, ''), created_at, updated_at`

// Resolve classifies a user by ID according to the decision table:
//
//	admin found | profile found | result
//	no          | no            | none
//	yes         | yes           | conflict
//	yes         | no            | admin
//	no          | yes           | distributor
//
// In single-table mode the role column decides between admin and
// distributor, and conflict cannot occur.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Resolution, error) {
	if res, ok := r.cache.Get(userID); ok {
		return res, nil
	}

	var res Resolution
	var err error
	switch r.mode {
	case LookupDual:
		res, err = r.resolveDual(ctx, userID)
	default:
		res, err = r.resolveSingle(ctx, userID)
	}
	if err != nil {
		return Resolution{}, err
	}

	r.cache.Add(userID, res)
	return res, nil
}

func (r *Resolver) resolveSingle(ctx context.Context, userID string) (Resolution, error) {
	rec, err := r.queryProfile(ctx, "id", userID)
	if err != nil {
		return Resolution{}, err
	}
	if rec == nil {
		return Resolution{Kind: KindNone}, nil
	}
	return Resolution{Kind: kindFromRole(rec.Role), Record: rec}, nil
}

func (r *Resolver) resolveDual(ctx context.Context, userID string) (Resolution, error) {
	var adminRec, profileRec *Record

	// Both tables are checked concurrently; the decision needs both answers
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := r.queryAdminUser(gctx, userID)
		adminRec = rec
		return err
	})
	g.Go(func() error {
		rec, err := r.queryProfile(gctx, "id", userID)
		profileRec = rec
		return err
	})
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	switch {
	case adminRec == nil && profileRec == nil:
		return Resolution{Kind: KindNone}, nil
	case adminRec != nil && profileRec != nil:
		return Resolution{Kind: KindConflict}, nil
	case adminRec != nil:
		return Resolution{Kind: KindAdmin, Record: adminRec}, nil
	default:
		return Resolution{Kind: KindDistributor, Record: profileRec}, nil
	}
}

// Authorize resolves a user and enforces the access rules: a missing
// record, a conflicting record or a non-active status each map to their own
// sentinel error so the UI can show distinct messages. Callers must sign
// the session out on any error return.
//
// email enables the legacy email-keyed fallback: invitation rows created
// before the identity account existed are keyed by email. ID lookup stays
// canonical; a fallback hit is flagged and logged.
func (r *Resolver) Authorize(ctx context.Context, userID, email string) (Resolution, error) {
	res, err := r.Resolve(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}

	if res.Kind == KindNone && email != "" {
		rec, lookupErr := r.queryProfile(ctx, "email", email)
		if lookupErr != nil {
			return Resolution{}, lookupErr
		}
		if rec != nil {
			r.logger.WithField("user_id", userID).
				WithField("profile_id", rec.ID).
				Warn("authorization record matched by legacy email lookup, not by ID")
			res = Resolution{Kind: kindFromRole(rec.Role), Record: rec, EmailFallback: true}
		}
	}

	switch res.Kind {
	case KindNone:
		return res, ErrProfileNotFound
	case KindConflict:
		return res, ErrProfileConflict
	}

	if res.Record.Status != StatusActive {
		return res, ErrAccountInactive
	}
	return res, nil
}

// Activate flips a pending record to active. Used by the set-password flow
// after the invited user commits a credential. Exactly one row is updated;
// zero rows means the record was not pending (or not visible), which the
// caller treats as a no-op.
func (r *Resolver) Activate(ctx context.Context, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, StatusActive, userID, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to activate profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	r.cache.Remove(userID)
	return rows == 1, nil
}

func (r *Resolver) queryProfile(ctx context.Context, keyColumn, key string) (*Record, error) {
	rec := &Record{}
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM profiles WHERE %s = $1
	`, profileColumns, keyColumn), key).Scan(
		&rec.ID, &rec.Email, &rec.FullName, &rec.CompanyName, &rec.Role,
		&rec.Status, &rec.Territory, &rec.DistributorID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	return rec, nil
}

func (r *Resolver) queryAdminUser(ctx context.Context, userID string) (*Record, error) {
	rec := &Record{Role: string(KindAdmin)}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(full_name, ''), status, created_at, updated_at
		FROM admin_users WHERE id = $1
	`, userID).Scan(&rec.ID, &rec.Email, &rec.FullName, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query admin_users: %w", err)
	}
	return rec, nil
}

func kindFromRole(role string) Kind {
	if role == string(KindAdmin) {
		return KindAdmin
	}
	return KindDistributor
}
