package data

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/apexgen/jobmanager/internal/domain/model"
	"github.com/apexgen/jobmanager/internal/errors"
)

// MemoryJobStore is the in-process JobStore fallback used when the database
// is unreachable at startup. It honours the same contract as PGJobStore:
// per-job update atomicity and read-your-writes. Records do not survive a
// process restart; this is a liveness compromise, not a correctness one.
type MemoryJobStore struct {
	mu           sync.RWMutex
	jobs         map[string]*model.Job
	timeProvider TimeProvider
	logger       *slog.Logger
}

// MemoryJobStoreOptions groups dependencies for MemoryJobStore.
type MemoryJobStoreOptions struct {
	TimeProvider TimeProvider // Optional: defaults to real time
	Logger       *slog.Logger // Optional: structured logger
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore(opts MemoryJobStoreOptions) *MemoryJobStore {
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryJobStore{
		jobs:         make(map[string]*model.Job),
		timeProvider: tp,
		logger:       opts.Logger,
	}
}

// Name identifies the backing implementation for health reporting.
func (s *MemoryJobStore) Name() string { return "memory" }

// Ping always succeeds; the store lives in this process.
func (s *MemoryJobStore) Ping(context.Context) error { return nil }

// Create persists a new job record.
func (s *MemoryJobStore) Create(_ context.Context, job *model.Job) error {
	if job == nil {
		return errors.Validation("job is required")
	}
	if err := job.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid job")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return errors.Conflict("job id already exists")
	}

	stored := cloneJob(job)
	now := s.timeProvider.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.jobs[job.ID] = stored
	return nil
}

// Get returns a copy of the job with the given id.
func (s *MemoryJobStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.NotFoundf("job %s not found", id)
	}
	return cloneJob(job), nil
}

// Update merges the given fields into the existing record under the store
// lock, so no partial merge is ever visible to other readers.
func (s *MemoryJobStore) Update(_ context.Context, id string, upd model.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.NotFoundf("job %s not found", id)
	}

	if upd.Status != nil {
		job.CurrentStatus = *upd.Status
	}
	if upd.Parameters != nil {
		job.Parameters = upd.Parameters.Clone()
	}
	if upd.Attempts != nil {
		job.Attempts = cloneAttempts(upd.Attempts)
	}
	if upd.FinalImage != nil {
		job.FinalImage = append([]byte(nil), upd.FinalImage...)
	}
	if upd.Report != nil {
		r := *upd.Report
		job.Report = &r
	}
	job.UpdatedAt = s.timeProvider.Now().UTC()
	return nil
}

// List returns copies of all jobs, newest first.
func (s *MemoryJobStore) List(_ context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Delete removes a job record.
func (s *MemoryJobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return errors.NotFoundf("job %s not found", id)
	}
	delete(s.jobs, id)
	return nil
}

// Stats summarises stored jobs by status.
func (s *MemoryJobStore) Stats(_ context.Context) (model.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st model.StoreStats
	for _, job := range s.jobs {
		st.TotalJobs++
		switch job.CurrentStatus.Status {
		case model.JobStatusPending:
			st.Pending++
		case model.JobStatusProcessing:
			st.Processing++
		case model.JobStatusCompleted:
			st.Completed++
		case model.JobStatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

// FailStuckProcessing re-fails processing jobs untouched for maxAge.
func (s *MemoryJobStore) FailStuckProcessing(
	_ context.Context,
	maxAge time.Duration,
	report *model.Report,
) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeProvider.Now().UTC()
	cutoff := now.Add(-maxAge)

	var ids []string
	for id, job := range s.jobs {
		if job.CurrentStatus.Status != model.JobStatusProcessing || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job.CurrentStatus = model.StatusStamp{Status: model.JobStatusFailed, Timestamp: now}
		if report != nil {
			r := *report
			job.Report = &r
		}
		job.UpdatedAt = now
		ids = append(ids, id)
	}
	return ids, nil
}

// cloneJob deep-copies a job through JSON so callers can never alias store
// state. Binary fields round-trip through base64 unchanged.
func cloneJob(job *model.Job) *model.Job {
	b, err := json.Marshal(job)
	if err != nil {
		// Job fields are all JSON-serialisable; this cannot fail in practice.
		out := *job
		return &out
	}
	var out model.Job
	if err := json.Unmarshal(b, &out); err != nil {
		c := *job
		return &c
	}
	return &out
}

func cloneAttempts(attempts []model.Attempt) []model.Attempt {
	out := make([]model.Attempt, len(attempts))
	copy(out, attempts)
	for i := range out {
		if attempts[i].RenderedImage != nil {
			out[i].RenderedImage = append([]byte(nil), attempts[i].RenderedImage...)
		}
		if attempts[i].Validation != nil {
			v := *attempts[i].Validation
			out[i].Validation = &v
		}
	}
	return out
}
