package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Aggregator rolls raw activity records up into per-day counters. It runs
// from the aggregator binary on a cron schedule; re-running a day is safe,
// the rollup is replaced, not doubled.
type Aggregator struct {
	db *sql.DB
}

// NewAggregator creates an aggregator and ensures the rollup table exists
func NewAggregator(db *sql.DB) (*Aggregator, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	a := &Aggregator{db: db}
	if err := a.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure activity_daily_rollups table: %w", err)
	}
	return a, nil
}

func (a *Aggregator) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS activity_daily_rollups (
		day DATE NOT NULL,
		activity_type VARCHAR(50) NOT NULL,
		record_count BIGINT NOT NULL,
		aggregated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (day, activity_type)
	);
	`

	_, err := a.db.Exec(query)
	return err
}

// AggregateDay rolls up one UTC day of records
func (a *Aggregator) AggregateDay(ctx context.Context, day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO activity_daily_rollups (day, activity_type, record_count, aggregated_at)
		SELECT $1::date, activity_type, COUNT(*), NOW()
		FROM activity_records
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY activity_type
		ON CONFLICT (day, activity_type)
		DO UPDATE SET record_count = EXCLUDED.record_count, aggregated_at = NOW()
	`, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("failed to aggregate %s: %w", dayStart.Format("2006-01-02"), err)
	}
	return nil
}

// Prune deletes raw records older than the retention window. Rollups are
// kept; only the raw rows go.
func (a *Aggregator) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result, err := a.db.ExecContext(ctx, `
		DELETE FROM activity_records WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity records: %w", err)
	}
	return result.RowsAffected()
}
