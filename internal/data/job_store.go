// Package data provides the persistence adapters behind the core ports: a
// PostgreSQL job store and a Redis snapshot cache.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/vidora/genjobs/internal/errors"

	"github.com/vidora/genjobs/internal/domain/model"
)

// ErrJobIDRequired is returned when a store operation is called without a job id.
var ErrJobIDRequired = errors.New("job id is required")

// StoreConfig holds configuration options for the job store.
type StoreConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobStore provides database operations for generation job records.
//
// Expected schema:
//
//	CREATE TABLE generation_jobs (
//	  job_id       TEXT PRIMARY KEY,
//	  user_id      TEXT NOT NULL,
//	  provider     TEXT NOT NULL,
//	  status       TEXT NOT NULL,
//	  progress     INT  NOT NULL DEFAULT 0,
//	  video_url    TEXT,
//	  error        TEXT,
//	  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
//	  started_at   TIMESTAMPTZ,
//	  completed_at TIMESTAMPTZ,
//	  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type JobStore struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobStore creates a new JobStore instance with the given database
// connection and configuration.
func NewJobStore(db *sql.DB, cfg StoreConfig) *JobStore {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobStore{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const recordColumns = `
  job_id,
  user_id,
  provider,
  status,
  progress,
  video_url,
  error,
  created_at,
  started_at,
  completed_at,
  updated_at
`

// upsertSQL keeps retried writes idempotent and state-safe regardless of
// delivery order: a stored terminal status is never overwritten, progress is
// never lowered, and terminal artifacts (video URL, error) stick once set.
const upsertSQL = `
  INSERT INTO generation_jobs (
    job_id, user_id, provider, status, progress, video_url, error,
    created_at, started_at, completed_at, updated_at
  ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $8)
  ON CONFLICT (job_id) DO UPDATE SET
    status = CASE
      WHEN generation_jobs.status IN ('completed', 'failed', 'cancelled')
        THEN generation_jobs.status
      ELSE EXCLUDED.status
    END,
    progress = GREATEST(generation_jobs.progress, EXCLUDED.progress),
    video_url = COALESCE(EXCLUDED.video_url, generation_jobs.video_url),
    error = COALESCE(EXCLUDED.error, generation_jobs.error),
    started_at = COALESCE(generation_jobs.started_at, EXCLUDED.started_at),
    completed_at = COALESCE(generation_jobs.completed_at, EXCLUDED.completed_at),
    updated_at = EXCLUDED.updated_at
  WHERE generation_jobs.status NOT IN ('completed', 'failed', 'cancelled')
     OR EXCLUDED.status IN ('completed', 'failed', 'cancelled')`

// GetJob fetches one record by job id. Returns a NotFound AppError when the
// record does not exist.
func (s *JobStore) GetJob(ctx context.Context, id string) (*model.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrJobIDRequired
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM generation_jobs
		WHERE job_id = $1
	`, id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, apperrors.MapDBError(err)
	}
	return record, nil
}

// UpsertJob writes the given fields for a job id, creating the record if it
// does not exist. The write is idempotent; see upsertSQL for the conflict
// policy.
func (s *JobStore) UpsertJob(ctx context.Context, id string, fields model.UpsertFields) error {
	if strings.TrimSpace(id) == "" {
		return ErrJobIDRequired
	}
	if !fields.Status.Valid() {
		return fmt.Errorf("invalid status %q", fields.Status)
	}

	now := s.timeProvider.Now().UTC()
	progress := 0
	if fields.Progress != nil {
		progress = *fields.Progress
	}

	_, err := s.DB.ExecContext(ctx, upsertSQL,
		id,
		fields.UserID,
		string(fields.Provider),
		string(fields.Status),
		progress,
		fields.VideoURL,
		fields.Error,
		now,
		nullableTime(fields.StartedAt),
		nullableTime(fields.CompletedAt),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job record upserted",
			"job_id", id, "status", fields.Status, "progress", progress)
	}
	return nil
}

// ListJobsByStatus returns every record in the given status, optionally
// restricted to one user scope. Results are ordered oldest first so
// resumption picks up long-running jobs before fresh ones.
func (s *JobStore) ListJobsByStatus(
	ctx context.Context,
	userScope string,
	status model.JobStatus,
) ([]*model.Record, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	query := `
		SELECT ` + recordColumns + `
		FROM generation_jobs
		WHERE status = $1`
	args := []any{string(status)}

	if strings.TrimSpace(userScope) != "" {
		query += ` AND user_id = $2`
		args = append(args, userScope)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*model.Record
	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}

	return records, nil
}

// DeleteJob removes a record. Deleting a missing record is a no-op.
func (s *JobStore) DeleteJob(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrJobIDRequired
	}

	_, err := s.DB.ExecContext(ctx, `DELETE FROM generation_jobs WHERE job_id = $1`, id)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Health checks database connectivity.
func (s *JobStore) Health(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanRecord.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var (
		record      model.Record
		videoURL    sql.NullString
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&record.JobID,
		&record.UserID,
		&record.Provider,
		&record.Status,
		&record.Progress,
		&videoURL,
		&errMsg,
		&record.CreatedAt,
		&startedAt,
		&completedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.VideoURL = videoURL.String
	record.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		record.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	return &record, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
