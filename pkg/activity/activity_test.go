package activity

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectraline/partner-portal/pkg/observability"
)

func newTestRecorder(t *testing.T, bufferSize, batchSize int, flushInterval time.Duration) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS activity_records`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	r, err := newRecorder(db, logger, bufferSize, batchSize, flushInterval)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mock
}

func TestRecord_AppendsRow(t *testing.T) {
	r, mock := newTestRecorder(t, defaultBufferSize, defaultBatchSize, defaultFlushInterval)

	mock.ExpectQuery(`INSERT INTO activity_records`).
		WithArgs("user-1", TypeDownload, "doc-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	rec := &Record{
		UserID:     "user-1",
		Type:       TypeDownload,
		ResourceID: "doc-1",
		Metadata:   map[string]interface{}{"kind": "documents"},
	}
	require.NoError(t, r.Record(context.Background(), rec))
	assert.Equal(t, int64(42), rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrack_FlushesOnClose(t *testing.T) {
	// Flush interval far in the future: only Close drains the buffer
	r, mock := newTestRecorder(t, 8, 64, time.Hour)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO activity_records`)
	prep.ExpectExec().
		WithArgs("user-1", TypeLogin, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("user-1", TypeDownload, "doc-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r.Track(context.Background(), "user-1", TypeLogin, "", nil)
	r.Track(context.Background(), "user-1", TypeDownload, "doc-1", map[string]interface{}{"kind": "documents"})
	require.NoError(t, r.Close())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrack_FlushesWhenBatchFills(t *testing.T) {
	r, mock := newTestRecorder(t, 8, 2, time.Hour)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO activity_records`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r.Track(context.Background(), "user-1", TypeLogin, "", nil)
	r.Track(context.Background(), "user-1", TypeSearch, "", nil)

	// The worker flushes without any Close
	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
}

func TestTrack_SwallowsFlushFailure(t *testing.T) {
	r, mock := newTestRecorder(t, 8, 1, time.Hour)

	mock.ExpectBegin().WillReturnError(context.DeadlineExceeded)

	// Must not panic or surface the error
	r.Track(context.Background(), "user-1", TypeLogin, "", nil)

	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
}

func TestTrack_DropsWhenBufferFull(t *testing.T) {
	// No worker draining: the channel stays full and Track must not block
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	r := &Recorder{
		events: make(chan *Record, 1),
		logger: logger,
	}

	r.Track(context.Background(), "user-1", TypeLogin, "", nil)
	r.Track(context.Background(), "user-1", TypeLogin, "", nil)

	assert.Len(t, r.events, 1)
}

func TestRecent_FiltersAndOrders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM activity_records WHERE 1=1 AND user_id = \$1 AND activity_type = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("user-1", TypeDownload, 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "activity_type", "resource_id", "metadata", "created_at",
		}).AddRow(int64(1), "user-1", "download", "doc-1", []byte(`{"kind":"documents"}`), now))

	reports := NewReports(db)
	records, err := reports.Recent(context.Background(), ReportFilter{UserID: "user-1", Type: TypeDownload})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "documents", records[0].Metadata["kind"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent_MalformedMetadataSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM activity_records`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "activity_type", "resource_id", "metadata", "created_at",
		}).AddRow(int64(1), "user-1", "download", "doc-1", []byte(`{broken`), time.Now()))

	reports := NewReports(db)
	_, err = reports.Recent(context.Background(), ReportFilter{})
	assert.Error(t, err, "malformed rows are rejected, not propagated untyped")
}

func TestAggregateDay_Upserts(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS activity_daily_rollups`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	a, err := NewAggregator(db)
	require.NoError(t, err)

	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO activity_daily_rollups.+ON CONFLICT \(day, activity_type\)`).
		WithArgs(day, day.AddDate(0, 0, 1)).
		WillReturnResult(sqlmock.NewResult(0, 5))

	require.NoError(t, a.AggregateDay(context.Background(), day.Add(13*time.Hour)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrune(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS activity_daily_rollups`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM activity_records WHERE created_at < \$1`).
		WillReturnResult(sqlmock.NewResult(0, 120))

	a, err := NewAggregator(db)
	require.NoError(t, err)

	pruned, err := a.Prune(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(120), pruned)
}
