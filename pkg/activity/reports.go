package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Reports serves the dashboard queries over activity records and rollups
type Reports struct {
	db *sql.DB
}

// NewReports creates the report service
func NewReports(db *sql.DB) *Reports {
	return &Reports{db: db}
}

// Recent lists raw activity records, newest first
func (r *Reports) Recent(ctx context.Context, filter ReportFilter) ([]Record, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, user_id, activity_type, COALESCE(resource_id, ''), metadata, created_at
		FROM activity_records WHERE 1=1
	`)

	args := make([]interface{}, 0)
	argIndex := 1

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query.WriteString(fmt.Sprintf(" AND user_id = $%d", argIndex))
		argIndex++
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query.WriteString(fmt.Sprintf(" AND activity_type = $%d", argIndex))
		argIndex++
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query.WriteString(fmt.Sprintf(" AND created_at >= $%d", argIndex))
		argIndex++
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query.WriteString(fmt.Sprintf(" AND created_at < $%d", argIndex))
		argIndex++
	}

	args = append(args, filter.limit())
	query.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex))

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var metadataJSON []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.ResourceID,
			&metadataJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("malformed metadata on record %d: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DailyCounts reads the rollup table for a date range. Days with no
// activity produce no row; the dashboard fills gaps client-side.
func (r *Reports) DailyCounts(ctx context.Context, from, to time.Time) ([]DailyCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, activity_type, record_count
		FROM activity_daily_rollups
		WHERE day >= $1 AND day < $2
		ORDER BY day ASC, activity_type ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily rollups: %w", err)
	}
	defer rows.Close()

	counts := make([]DailyCount, 0)
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Day, &c.Type, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// TopResources ranks the most-downloaded resources over a date range
func (r *Reports) TopResources(ctx context.Context, from, to time.Time, limit int) ([]ResourceCount, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT resource_id, COUNT(*) AS record_count
		FROM activity_records
		WHERE activity_type = $1 AND resource_id IS NOT NULL
		  AND created_at >= $2 AND created_at < $3
		GROUP BY resource_id
		ORDER BY record_count DESC
		LIMIT $4
	`, TypeDownload, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top resources: %w", err)
	}
	defer rows.Close()

	top := make([]ResourceCount, 0)
	for rows.Next() {
		var rc ResourceCount
		if err := rows.Scan(&rc.ResourceID, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan resource count: %w", err)
		}
		top = append(top, rc)
	}
	return top, rows.Err()
}
