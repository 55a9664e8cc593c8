//go:build integration

package activity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spectraline/partner-portal/pkg/observability"
)

// setupPostgresTestDB starts a throwaway PostgreSQL container. The activity
// tables are created by the constructors under test, no migrations needed.
func setupPostgresTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("activity_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	cleanup := func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func TestActivityPipeline_Integration(t *testing.T) {
	db, cleanup := setupPostgresTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := observability.NewLogger(observability.ErrorLevel, nil)

	recorder, err := NewRecorder(db, logger)
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })
	aggregator, err := NewAggregator(db)
	require.NoError(t, err)
	reports := NewReports(db)

	userA := uuid.NewString()
	userB := uuid.NewString()
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	lastWeek := time.Now().UTC().AddDate(0, 0, -8).Truncate(24 * time.Hour)

	seed := []Record{
		{UserID: userA, Type: TypeLogin, CreatedAt: yesterday.Add(9 * time.Hour)},
		{UserID: userA, Type: TypeDownload, ResourceID: "doc-1", CreatedAt: yesterday.Add(10 * time.Hour)},
		{UserID: userA, Type: TypeDownload, ResourceID: "doc-1", CreatedAt: yesterday.Add(11 * time.Hour)},
		{UserID: userB, Type: TypeDownload, ResourceID: "doc-2", CreatedAt: yesterday.Add(12 * time.Hour),
			Metadata: map[string]interface{}{"kind": "documents"}},
		{UserID: userB, Type: TypeLogin, CreatedAt: lastWeek.Add(8 * time.Hour)},
	}
	for i := range seed {
		rec := seed[i]
		require.NoError(t, recorder.Record(ctx, &rec))
		assert.NotZero(t, rec.ID)
	}

	t.Run("recent filters by user and type", func(t *testing.T) {
		records, err := reports.Recent(ctx, ReportFilter{UserID: userA, Type: TypeDownload})
		require.NoError(t, err)
		require.Len(t, records, 2)
		for _, rec := range records {
			assert.Equal(t, userA, rec.UserID)
			assert.Equal(t, TypeDownload, rec.Type)
			assert.Equal(t, "doc-1", rec.ResourceID)
		}
	})

	t.Run("metadata survives the round trip", func(t *testing.T) {
		records, err := reports.Recent(ctx, ReportFilter{UserID: userB, Type: TypeDownload})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "documents", records[0].Metadata["kind"])
	})

	t.Run("daily rollup counts by type and reruns cleanly", func(t *testing.T) {
		require.NoError(t, aggregator.AggregateDay(ctx, yesterday))
		// Second run replaces the rollup instead of doubling it
		require.NoError(t, aggregator.AggregateDay(ctx, yesterday))

		counts, err := reports.DailyCounts(ctx, yesterday, yesterday.AddDate(0, 0, 1))
		require.NoError(t, err)

		byType := make(map[Type]int64)
		for _, c := range counts {
			byType[c.Type] = c.Count
		}
		assert.Equal(t, int64(1), byType[TypeLogin])
		assert.Equal(t, int64(3), byType[TypeDownload])
	})

	t.Run("top resources ranks by download count", func(t *testing.T) {
		top, err := reports.TopResources(ctx, yesterday, yesterday.AddDate(0, 0, 1), 10)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "doc-1", top[0].ResourceID)
		assert.Equal(t, int64(2), top[0].Count)
		assert.Equal(t, "doc-2", top[1].ResourceID)
	})

	t.Run("prune drops raw rows past retention but keeps rollups", func(t *testing.T) {
		removed, err := aggregator.Prune(ctx, 7*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		records, err := reports.Recent(ctx, ReportFilter{UserID: userB, Type: TypeLogin})
		require.NoError(t, err)
		assert.Empty(t, records)

		counts, err := reports.DailyCounts(ctx, yesterday, yesterday.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.NotEmpty(t, counts)
	})
}
