package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spectraline/partner-portal/pkg/observability"
)

const (
	defaultBufferSize    = 256
	defaultBatchSize     = 64
	defaultFlushInterval = 5 * time.Second
)

// Recorder writes activity records. Track buffers through a channel and a
// background worker flushes batches, so the request path never waits on
// the database.
type Recorder struct {
	db     *sql.DB
	logger *observability.Logger

	events        chan *Record
	batchSize     int
	flushInterval time.Duration
	stopped       chan struct{}
	closeOnce     sync.Once
}

// NewRecorder creates a recorder, ensures the backing table exists and
// starts the flush worker
func NewRecorder(db *sql.DB, logger *observability.Logger) (*Recorder, error) {
	return newRecorder(db, logger, defaultBufferSize, defaultBatchSize, defaultFlushInterval)
}

func newRecorder(db *sql.DB, logger *observability.Logger, bufferSize, batchSize int, flushInterval time.Duration) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	r := &Recorder{
		db:            db,
		logger:        logger,
		events:        make(chan *Record, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopped:       make(chan struct{}),
	}
	if err := r.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure activity_records table: %w", err)
	}
	go r.run()
	return r, nil
}

func (r *Recorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS activity_records (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL,
		activity_type VARCHAR(50) NOT NULL,
		resource_id VARCHAR(255),
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_activity_records_user_id ON activity_records(user_id);
	CREATE INDEX IF NOT EXISTS idx_activity_records_type ON activity_records(activity_type);
	CREATE INDEX IF NOT EXISTS idx_activity_records_created_at ON activity_records(created_at DESC);
	`

	_, err := r.db.Exec(query)
	return err
}

// Record appends one activity record synchronously. The flush worker and
// anyone needing a durable write use it; request paths go through Track.
func (r *Recorder) Record(ctx context.Context, rec *Record) error {
	var metadataJSON []byte
	var err error
	if rec.Metadata != nil {
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO activity_records (user_id, activity_type, resource_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, rec.UserID, rec.Type, rec.ResourceID, metadataJSON, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert activity record: %w", err)
	}
	return nil
}

// Track is the fire-and-forget variant used on request paths: the record
// is buffered and a full buffer drops it with a warning, never blocking
// or surfacing an error to the user action that produced it
func (r *Recorder) Track(ctx context.Context, userID string, activityType Type, resourceID string, metadata map[string]interface{}) {
	rec := &Record{
		UserID:     userID,
		Type:       activityType,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	select {
	case r.events <- rec:
	default:
		r.logger.WithFields(map[string]interface{}{
			"user_id":       userID,
			"activity_type": string(activityType),
		}).Warn("activity buffer full, dropping record")
	}
}

// Close flushes buffered records and stops the worker. Call only after
// the HTTP server has drained: Track on a closed recorder panics.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() { close(r.events) })
	<-r.stopped
	return nil
}

func (r *Recorder) run() {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, r.batchSize)
	for {
		select {
		case rec, ok := <-r.events:
			if !ok {
				r.flush(batch)
				close(r.stopped)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush runs on its own deadline: the request contexts that produced the
// batch are long gone
func (r *Recorder) flush(batch []*Record) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.insertBatch(ctx, batch); err != nil {
		r.logger.WithError(err).WithField("dropped", len(batch)).
			Warn("failed to flush activity records")
	}
}

func (r *Recorder) insertBatch(ctx context.Context, batch []*Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_records (user_id, activity_type, resource_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range batch {
		var metadataJSON []byte
		if rec.Metadata != nil {
			metadataJSON, err = json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx, rec.UserID, rec.Type, rec.ResourceID, metadataJSON, rec.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TrackLogin records a successful sign-in
func (r *Recorder) TrackLogin(ctx context.Context, userID string) {
	r.Track(ctx, userID, TypeLogin, "", nil)
}

// TrackDownload records a content download
func (r *Recorder) TrackDownload(ctx context.Context, userID, resourceID string, kind string) {
	r.Track(ctx, userID, TypeDownload, resourceID, map[string]interface{}{"kind": kind})
}

// TrackSearch records a library search
func (r *Recorder) TrackSearch(ctx context.Context, userID, query string) {
	r.Track(ctx, userID, TypeSearch, "", map[string]interface{}{"query": query})
}
