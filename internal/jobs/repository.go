package jobs

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/denwatch/denwatch-exporter/internal/db"
)

// ErrNotRetryable reports a retry request against a job that is not in a
// failed or canceled state.
var ErrNotRetryable = errors.New("only failed or canceled jobs can be retried")

// Repository is the durable job queue surface.
type Repository interface {
	Create(ctx context.Context, job *ExportJob) error
	FindActiveDuplicate(ctx context.Context, globalTrackID, mode, payloadJSON string) (*ExportJob, error)
	Get(ctx context.Context, jobID string) (*ExportJob, error)
	List(ctx context.Context, limit int) ([]*ExportJob, error)
	CountsByStatus(ctx context.Context) (map[string]int, error)
	ClaimNext(ctx context.Context, now time.Time) (*ExportJob, error)
	Complete(ctx context.Context, jobID, exportID, manifestPath, videoPath string, now time.Time) error
	RecordFailure(ctx context.Context, job *ExportJob, errMsg string, now time.Time) (*ExportJob, error)
	Cancel(ctx context.Context, jobID string, now time.Time) (*ExportJob, error)
	Retry(ctx context.Context, jobID string, now time.Time) (*ExportJob, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(conn *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: conn}
}

const jobColumns = `job_id, global_track_id, mode, status, payload_json,
	retry_count, max_retries, next_run_at, canceled_at,
	export_id, manifest_path, video_path, error_message,
	created_at, started_at, finished_at`

func (r *SQLiteRepository) Create(ctx context.Context, j *ExportJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO export_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.JobID, j.GlobalTrackID, j.Mode, j.Status, j.PayloadJSON,
		j.RetryCount, j.MaxRetries, nullTime(j.NextRunAt), nullTime(j.CanceledAt),
		nullString(j.ExportID), nullString(j.ManifestPath), nullString(j.VideoPath), nullString(j.ErrorMessage),
		db.FormatTime(j.CreatedAt), nullTime(j.StartedAt), nullTime(j.FinishedAt))
	return err
}

// FindActiveDuplicate returns the newest pending or running, non-canceled
// job with an identical (global track, mode, payload) triple. Used for
// idempotent enqueue.
func (r *SQLiteRepository) FindActiveDuplicate(ctx context.Context, globalTrackID, mode, payloadJSON string) (*ExportJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE global_track_id = ? AND mode = ? AND payload_json = ?
		  AND status IN ('pending', 'running')
		  AND canceled_at IS NULL
		ORDER BY created_at DESC LIMIT 1
	`, globalTrackID, mode, payloadJSON)
	return r.scanJob(row)
}

func (r *SQLiteRepository) Get(ctx context.Context, jobID string) (*ExportJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM export_jobs WHERE job_id = ?
	`, jobID)
	return r.scanJob(row)
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM export_jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExportJob
	for rows.Next() {
		j, err := scanJobRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CountsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM export_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ClaimNext atomically claims the oldest eligible pending job: a single
// conditional UPDATE moves it to running, so two concurrent claimers can
// never both succeed (the SQLite equivalent of SELECT ... FOR UPDATE SKIP
// LOCKED). Returns nil when no job is eligible.
func (r *SQLiteRepository) ClaimNext(ctx context.Context, now time.Time) (*ExportJob, error) {
	nowStr := db.FormatTime(now)
	var jobID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE export_jobs
		SET status = 'running', started_at = ?, error_message = NULL
		WHERE job_id = (
			SELECT job_id FROM export_jobs
			WHERE status = 'pending'
			  AND canceled_at IS NULL
			  AND (next_run_at IS NULL OR next_run_at <= ?)
			ORDER BY created_at ASC, job_id ASC
			LIMIT 1
		)
		AND status = 'pending'
		RETURNING job_id
	`, nowStr, nowStr).Scan(&jobID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, jobID)
}

// Complete marks a claimed job done and records its artifacts.
func (r *SQLiteRepository) Complete(ctx context.Context, jobID, exportID, manifestPath, videoPath string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = 'done', export_id = ?, manifest_path = ?, video_path = ?,
		    next_run_at = NULL, error_message = NULL, finished_at = ?
		WHERE job_id = ?
	`, exportID, manifestPath, nullString(videoPath), db.FormatTime(now), jobID)
	return err
}

// RecordFailure applies the retry/backoff policy after a failed execution:
// back to pending with exponential backoff while retries remain, otherwise
// failed permanently. The claim invariant makes this a single-writer update.
func (r *SQLiteRepository) RecordFailure(ctx context.Context, job *ExportJob, errMsg string, now time.Time) (*ExportJob, error) {
	retryCount := job.RetryCount + 1

	status := StatusFailed
	var nextRunAt sql.NullString
	if retryCount <= job.MaxRetries {
		status = StatusPending
		backoff := time.Duration(backoffSeconds(retryCount)) * time.Second
		nextRunAt = sql.NullString{String: db.FormatTime(now.Add(backoff)), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = ?, retry_count = ?, next_run_at = ?, error_message = ?, finished_at = ?
		WHERE job_id = ?
	`, status, retryCount, nextRunAt, errMsg, db.FormatTime(now), job.JobID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, job.JobID)
}

// Cancel flips a non-terminal job to canceled. Canceling a terminal job is
// a no-op that returns the job unchanged. A running job is only flagged;
// its worker's terminal write may still land afterwards.
func (r *SQLiteRepository) Cancel(ctx context.Context, jobID string, now time.Time) (*ExportJob, error) {
	job, err := r.Get(ctx, jobID)
	if err != nil || job == nil {
		return job, err
	}
	if job.IsTerminal() {
		return job, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = 'canceled', canceled_at = ?, next_run_at = NULL
		WHERE job_id = ?
	`, db.FormatTime(now), jobID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, jobID)
}

// Retry moves a failed or canceled job back to pending with retry
// accounting and error state reset.
func (r *SQLiteRepository) Retry(ctx context.Context, jobID string, now time.Time) (*ExportJob, error) {
	job, err := r.Get(ctx, jobID)
	if err != nil || job == nil {
		return job, err
	}
	if job.Status != StatusFailed && job.Status != StatusCanceled {
		return nil, ErrNotRetryable
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = 'pending', retry_count = 0, error_message = NULL,
		    started_at = NULL, finished_at = NULL, canceled_at = NULL, next_run_at = ?
		WHERE job_id = ?
	`, db.FormatTime(now), jobID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, jobID)
}

func (r *SQLiteRepository) scanJob(row *sql.Row) (*ExportJob, error) {
	j, err := scanJobRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func scanJobRow(scan func(dest ...any) error) (*ExportJob, error) {
	var j ExportJob
	var nextRunAt, canceledAt, startedAt, finishedAt sql.NullString
	var exportID, manifestPath, videoPath, errMsg sql.NullString
	var createdAt string

	err := scan(&j.JobID, &j.GlobalTrackID, &j.Mode, &j.Status, &j.PayloadJSON,
		&j.RetryCount, &j.MaxRetries, &nextRunAt, &canceledAt,
		&exportID, &manifestPath, &videoPath, &errMsg,
		&createdAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	j.NextRunAt = parseNullTime(nextRunAt)
	j.CanceledAt = parseNullTime(canceledAt)
	j.StartedAt = parseNullTime(startedAt)
	j.FinishedAt = parseNullTime(finishedAt)
	j.ExportID = exportID.String
	j.ManifestPath = manifestPath.String
	j.VideoPath = videoPath.String
	j.ErrorMessage = errMsg.String
	j.CreatedAt = db.ParseTime(createdAt)
	return &j, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := db.ParseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: db.FormatTime(*t), Valid: true}
}
