package portal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spectraline/partner-portal/pkg/observability"
)

// Releases serves the software-release views
type Releases struct {
	db      *sql.DB
	files   Presigner
	logger  *observability.Logger
	linkTTL time.Duration
}

// NewReleases creates the software-release service
func NewReleases(db *sql.DB, files Presigner, logger *observability.Logger) *Releases {
	return &Releases{
		db:      db,
		files:   files,
		logger:  logger,
		linkTTL: 15 * time.Minute,
	}
}

var releaseSortFields = map[string]string{
	"product":     "product",
	"version":     "version",
	"downloads":   "downloads",
	"released_at": "released_at",
}

const releaseColumns = `id, product, version, COALESCE(release_notes, ''), status, COALESCE(file_key, ''), downloads, released_at, created_at, updated_at`

// List returns releases matching the filter. Distributors see published
// releases only.
func (r *Releases) List(ctx context.Context, scope Scope, filter ListFilter) ([]Release, error) {
	query := strings.Builder{}
	query.WriteString("SELECT " + releaseColumns + " FROM software_releases WHERE 1=1")

	args := make([]interface{}, 0)
	argIndex := 1

	if !scope.Admin {
		args = append(args, StatusPublished)
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		argIndex++
	} else if filter.Status != "" {
		args = append(args, filter.Status)
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		argIndex++
	}

	if filter.Product != "" {
		args = append(args, filter.Product)
		query.WriteString(fmt.Sprintf(" AND product = $%d", argIndex))
		argIndex++
	}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query.WriteString(fmt.Sprintf(" AND (product ILIKE $%d OR version ILIKE $%d)", argIndex, argIndex))
		argIndex++
	}

	order, err := sortClause(releaseSortFields, filter, "released_at", true)
	if err != nil {
		return nil, err
	}
	query.WriteString(order)

	args = append(args, filter.limit(), filter.Offset)
	query.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1))

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	releases := make([]Release, 0)
	for rows.Next() {
		var rel Release
		if err := rows.Scan(
			&rel.ID, &rel.Product, &rel.Version, &rel.ReleaseNotes, &rel.Status,
			&rel.FileKey, &rel.Downloads, &rel.ReleasedAt, &rel.CreatedAt, &rel.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		releases = append(releases, rel)
	}
	return releases, rows.Err()
}

// Create inserts a release as draft unless a status is given
func (r *Releases) Create(ctx context.Context, rel *Release) error {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.Status == "" {
		rel.Status = StatusDraft
	}
	if rel.ReleasedAt.IsZero() {
		rel.ReleasedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO software_releases (id, product, version, release_notes, status, file_key, released_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, rel.ID, rel.Product, rel.Version, rel.ReleaseNotes, rel.Status, rel.FileKey, rel.ReleasedAt)
	if err != nil {
		return fmt.Errorf("failed to create release: %w", err)
	}
	return nil
}

// Update rewrites a release; zero affected rows surfaces as a permission
// block
func (r *Releases) Update(ctx context.Context, rel *Release) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE software_releases SET product = $1, version = $2, release_notes = $3,
			status = $4, file_key = $5, released_at = $6, updated_at = NOW()
		WHERE id = $7
	`, rel.Product, rel.Version, rel.ReleaseNotes, rel.Status, rel.FileKey, rel.ReleasedAt, rel.ID)
	if err != nil {
		return fmt.Errorf("failed to update release: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPermissionDenied
	}
	return nil
}

// Delete removes a release
func (r *Releases) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM software_releases WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete release: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPermissionDenied
	}
	return nil
}

// RecordDownload bumps the counter atomically and returns a presigned URL
func (r *Releases) RecordDownload(ctx context.Context, scope Scope, id string) (string, error) {
	query := `
		UPDATE software_releases SET downloads = downloads + 1, updated_at = NOW()
		WHERE id = $1
	`
	args := []interface{}{id}
	if !scope.Admin {
		query += " AND status = $2"
		args = append(args, StatusPublished)
	}
	query += " RETURNING file_key"

	var fileKey string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&fileKey)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to record release download: %w", err)
	}
	if fileKey == "" {
		return "", ErrNotFound
	}

	url, err := r.files.PresignGet(ctx, fileKey, r.linkTTL)
	if err != nil {
		return "", fmt.Errorf("failed to presign release download: %w", err)
	}
	return url, nil
}
