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

// Presigner turns a stored file key into a short-lived download URL
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Library serves the three content-library views. The kind selects the
// backing table; everything else is identical across them.
type Library struct {
	db      *sql.DB
	files   Presigner
	logger  *observability.Logger
	linkTTL time.Duration
}

// NewLibrary creates the content-library service
func NewLibrary(db *sql.DB, files Presigner, logger *observability.Logger) *Library {
	return &Library{
		db:      db,
		files:   files,
		logger:  logger,
		linkTTL: 15 * time.Minute,
	}
}

var libraryTables = map[LibraryKind]string{
	KindDocuments:         "documents",
	KindTrainingMaterials: "training_materials",
	KindMarketingAssets:   "marketing_assets",
}

var librarySortFields = map[string]string{
	"title":      "title",
	"category":   "category",
	"product":    "product",
	"downloads":  "downloads",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

const itemColumns = `id, title, COALESCE(category, ''), COALESCE(product, ''), COALESCE(version, ''), COALESCE(format, ''), status, COALESCE(file_key, ''), downloads, views, COALESCE(created_by, ''), created_at, updated_at`

func (l *Library) table(kind LibraryKind) (string, error) {
	table, ok := libraryTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown library kind %q", kind)
	}
	return table, nil
}

// List returns library items matching the filter. Non-admin callers only
// see published rows regardless of the status filter they pass.
func (l *Library) List(ctx context.Context, kind LibraryKind, scope Scope, filter ListFilter) ([]Item, error) {
	table, err := l.table(kind)
	if err != nil {
		return nil, err
	}

	query := strings.Builder{}
	query.WriteString(fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", itemColumns, table))

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

	if filter.Category != "" {
		args = append(args, filter.Category)
		query.WriteString(fmt.Sprintf(" AND category = $%d", argIndex))
		argIndex++
	}

	if filter.Product != "" {
		args = append(args, filter.Product)
		query.WriteString(fmt.Sprintf(" AND product = $%d", argIndex))
		argIndex++
	}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query.WriteString(fmt.Sprintf(" AND title ILIKE $%d", argIndex))
		argIndex++
	}

	order, err := sortClause(librarySortFields, filter, "created_at", true)
	if err != nil {
		return nil, err
	}
	query.WriteString(order)

	args = append(args, filter.limit(), filter.Offset)
	query.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1))

	rows, err := l.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item := Item{Kind: kind}
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Category, &item.Product, &item.Version,
			&item.Format, &item.Status, &item.FileKey, &item.Downloads,
			&item.Views, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get fetches one item. Non-admin callers cannot see drafts or archived rows.
func (l *Library) Get(ctx context.Context, kind LibraryKind, scope Scope, id string) (*Item, error) {
	table, err := l.table(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", itemColumns, table)
	args := []interface{}{id}
	if !scope.Admin {
		query += " AND status = $2"
		args = append(args, StatusPublished)
	}

	item := Item{Kind: kind}
	err = l.db.QueryRowContext(ctx, query, args...).Scan(
		&item.ID, &item.Title, &item.Category, &item.Product, &item.Version,
		&item.Format, &item.Status, &item.FileKey, &item.Downloads,
		&item.Views, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s row: %w", table, err)
	}
	return &item, nil
}

// Create inserts a new item as draft unless a status is given
func (l *Library) Create(ctx context.Context, kind LibraryKind, scope Scope, item *Item) error {
	table, err := l.table(kind)
	if err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = StatusDraft
	}

	_, err = l.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, title, category, product, version, format, status, file_key, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, table), item.ID, item.Title, item.Category, item.Product, item.Version,
		item.Format, item.Status, item.FileKey, scope.UserID)
	if err != nil {
		return fmt.Errorf("failed to create %s row: %w", table, err)
	}
	return nil
}

// Update rewrites an item's mutable fields. An update that changes no rows
// is a row-level-security block, surfaced as ErrPermissionDenied rather
// than silently succeeding.
func (l *Library) Update(ctx context.Context, kind LibraryKind, item *Item) error {
	table, err := l.table(kind)
	if err != nil {
		return err
	}

	result, err := l.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET title = $1, category = $2, product = $3, version = $4,
			format = $5, status = $6, file_key = $7, updated_at = NOW()
		WHERE id = $8
	`, table), item.Title, item.Category, item.Product, item.Version,
		item.Format, item.Status, item.FileKey, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update %s row: %w", table, err)
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

// Delete removes an item. Zero rows means the caller could not touch it.
func (l *Library) Delete(ctx context.Context, kind LibraryKind, id string) error {
	table, err := l.table(kind)
	if err != nil {
		return err
	}

	result, err := l.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s row: %w", table, err)
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

// RecordDownload bumps the download counter atomically in the store and
// returns a presigned URL for the file. Two concurrent downloads both
// count: the increment happens in one UPDATE, never read-modify-write.
func (l *Library) RecordDownload(ctx context.Context, kind LibraryKind, scope Scope, id string) (string, error) {
	table, err := l.table(kind)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET downloads = downloads + 1, updated_at = NOW()
		WHERE id = $1
	`, table)
	args := []interface{}{id}
	if !scope.Admin {
		query += " AND status = $2"
		args = append(args, StatusPublished)
	}
	query += " RETURNING file_key"

	var fileKey string
	err = l.db.QueryRowContext(ctx, query, args...).Scan(&fileKey)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to record download: %w", err)
	}
	if fileKey == "" {
		return "", ErrNotFound
	}

	url, err := l.files.PresignGet(ctx, fileKey, l.linkTTL)
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}
	return url, nil
}

// RecordView bumps the view counter. Failures are logged, not returned:
// losing a view count never blocks rendering.
func (l *Library) RecordView(ctx context.Context, kind LibraryKind, id string) {
	table, err := l.table(kind)
	if err != nil {
		return
	}
	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET views = views + 1 WHERE id = $1
	`, table), id); err != nil {
		l.logger.WithError(err).WithField("id", id).Warn("failed to record view")
	}
}

// sortClause builds the ORDER BY for a whitelisted sort field. An unknown
// field is an error, never interpolated into the query.
func sortClause(whitelist map[string]string, filter ListFilter, defaultField string, defaultDesc bool) (string, error) {
	field := defaultField
	desc := defaultDesc
	if filter.SortField != "" {
		column, ok := whitelist[filter.SortField]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownSortField, filter.SortField)
		}
		field = column
		desc = filter.SortDesc
	}
	direction := " ASC"
	if desc {
		direction = " DESC"
	}
	return " ORDER BY " + field + direction, nil
}
