package data

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/apexgen/jobmanager/internal/domain/model"
	"github.com/apexgen/jobmanager/internal/errors"
)

// PGJobStore is the durable JobStore backed by PostgreSQL. Partial updates
// are applied as a single UPDATE statement, so per-call atomicity and
// read-your-writes come directly from the database.
type PGJobStore struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// PGJobStoreOptions groups dependencies for PGJobStore.
type PGJobStoreOptions struct {
	DB           *sql.DB      // Required: open database handle
	TimeProvider TimeProvider // Optional: defaults to real time
	Logger       *slog.Logger // Optional: structured logger
}

// NewPGJobStore creates a new PGJobStore.
func NewPGJobStore(opts PGJobStoreOptions) *PGJobStore {
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &PGJobStore{
		DB:           opts.DB,
		timeProvider: tp,
		logger:       opts.Logger,
	}
}

const jobColumns = `
  id,
  original_image,
  parameters,
  status,
  status_changed_at,
  attempts,
  final_image,
  report,
  created_at,
  updated_at
`

// Name identifies the backing implementation for health reporting.
func (s *PGJobStore) Name() string { return "postgres" }

// Ping reports database reachability.
func (s *PGJobStore) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeUnavailable, "job store unreachable")
	}
	return nil
}

// Create persists a new job record.
func (s *PGJobStore) Create(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.Validation("job is required")
	}
	if err := job.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid job")
	}

	params, attempts, report, err := marshalJobDocuments(job)
	if err != nil {
		return err
	}

	now := s.timeProvider.Now().UTC()
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	const q = `
		INSERT INTO jobs (id, original_image, parameters, status, status_changed_at,
		                  attempts, final_image, report, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`
	_, err = s.DB.ExecContext(ctx, q,
		job.ID,
		job.OriginalImage,
		params,
		string(job.CurrentStatus.Status),
		job.CurrentStatus.Timestamp.UTC(),
		attempts,
		nullableBytes(job.FinalImage),
		report,
		createdAt.UTC(),
	)
	if err != nil {
		return mapStoreError(err, "insert job")
	}
	return nil
}

// Get returns the job with the given id.
func (s *PGJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	row := s.DB.QueryRowContext(ctx, q, id)

	job, err := scanJob(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf("job %s not found", id)
		}
		return nil, mapStoreError(err, "get job")
	}
	return job, nil
}

// Update merges the given fields into the existing record. The whole merge is
// one UPDATE statement; no partial state is ever visible to other readers.
func (s *PGJobStore) Update(ctx context.Context, id string, upd model.JobUpdate) error {
	sets := []string{"updated_at = $2"}
	args := []any{id, s.timeProvider.Now().UTC()}

	appendSet := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, expr+" = $"+strconv.Itoa(len(args)))
	}

	if upd.Status != nil {
		appendSet("status", string(upd.Status.Status))
		appendSet("status_changed_at", upd.Status.Timestamp.UTC())
	}
	if upd.Parameters != nil {
		appendSet("parameters", upd.Parameters.JSON())
	}
	if upd.Attempts != nil {
		b, err := json.Marshal(upd.Attempts)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "marshal attempts")
		}
		appendSet("attempts", b)
	}
	if upd.FinalImage != nil {
		appendSet("final_image", upd.FinalImage)
	}
	if upd.Report != nil {
		b, err := json.Marshal(upd.Report)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "marshal report")
		}
		appendSet("report", b)
	}

	q := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	tag, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return mapStoreError(err, "update job")
	}
	affected, err := tag.RowsAffected()
	if err != nil {
		return mapStoreError(err, "update job")
	}
	if affected == 0 {
		return errors.NotFoundf("job %s not found", id)
	}
	return nil
}

// List returns all jobs, newest first.
func (s *PGJobStore) List(ctx context.Context) ([]*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, mapStoreError(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, mapStoreError(scanErr, "scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreError(err, "list jobs")
	}
	return jobs, nil
}

// Delete removes a job record.
func (s *PGJobStore) Delete(ctx context.Context, id string) error {
	tag, err := s.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return mapStoreError(err, "delete job")
	}
	affected, err := tag.RowsAffected()
	if err != nil {
		return mapStoreError(err, "delete job")
	}
	if affected == 0 {
		return errors.NotFoundf("job %s not found", id)
	}
	return nil
}

// Stats summarises stored jobs by status.
func (s *PGJobStore) Stats(ctx context.Context) (model.StoreStats, error) {
	const q = `
		SELECT
		  count(*),
		  count(*) FILTER (WHERE status = 'pending'),
		  count(*) FILTER (WHERE status = 'processing'),
		  count(*) FILTER (WHERE status = 'completed'),
		  count(*) FILTER (WHERE status = 'failed')
		FROM jobs`

	var st model.StoreStats
	err := s.DB.QueryRowContext(ctx, q).Scan(
		&st.TotalJobs, &st.Pending, &st.Processing, &st.Completed, &st.Failed,
	)
	if err != nil {
		return model.StoreStats{}, mapStoreError(err, "job stats")
	}
	return st, nil
}

// FailStuckProcessing re-fails processing jobs untouched for maxAge. The
// reaper uses this to reconcile jobs abandoned mid-attempt by a crash or
// shutdown, attaching a synthetic report so the failed/report invariant holds.
func (s *PGJobStore) FailStuckProcessing(
	ctx context.Context,
	maxAge time.Duration,
	report *model.Report,
) ([]string, error) {
	now := s.timeProvider.Now().UTC()
	cutoff := now.Add(-maxAge)

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "marshal report")
	}

	const q = `
		UPDATE jobs
		SET status = 'failed',
		    status_changed_at = $1,
		    report = $2,
		    updated_at = $1
		WHERE status = 'processing' AND updated_at < $3
		RETURNING id`
	rows, err := s.DB.QueryContext(ctx, q, now, reportJSON, cutoff)
	if err != nil {
		return nil, mapStoreError(err, "fail stuck jobs")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, mapStoreError(scanErr, "scan stuck job id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreError(err, "fail stuck jobs")
	}

	if len(ids) > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "re-failed stuck processing jobs", "count", len(ids))
	}
	return ids, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job        model.Job
		status     string
		statusAt   time.Time
		params     []byte
		attempts   []byte
		finalImage []byte
		report     []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.OriginalImage,
		&params,
		&status,
		&statusAt,
		&attempts,
		&finalImage,
		&report,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.CurrentStatus = model.StatusStamp{Status: model.JobStatus(status), Timestamp: statusAt}
	job.FinalImage = finalImage

	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &job.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
	}
	if len(report) > 0 {
		job.Report = &model.Report{}
		if err := json.Unmarshal(report, job.Report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
	}
	return &job, nil
}

func marshalJobDocuments(job *model.Job) (params, attempts, report []byte, err error) {
	params = job.Parameters.JSON()

	attempts = []byte("[]")
	if job.Attempts != nil {
		if attempts, err = json.Marshal(job.Attempts); err != nil {
			return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "marshal attempts")
		}
	}

	if job.Report != nil {
		if report, err = json.Marshal(job.Report); err != nil {
			return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "marshal report")
		}
	}
	return params, attempts, report, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
