package data_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgen/jobmanager/internal/data"
	"github.com/apexgen/jobmanager/internal/domain/model"
	apperrors "github.com/apexgen/jobmanager/internal/errors"
	"github.com/apexgen/jobmanager/internal/testutil"
)

func newPGTestJob(status model.JobStatus) *model.Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Job{
		ID:            uuid.NewString(),
		OriginalImage: []byte("reference-image"),
		Parameters:    model.Parameters{"style": "portrait"},
		CurrentStatus: model.StatusStamp{Status: status, Timestamp: now},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPGJobStoreRoundTrip(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		store := data.NewPGJobStore(data.PGJobStoreOptions{DB: db})
		ctx := context.Background()

		job := newPGTestJob(model.JobStatusPending)
		require.NoError(t, store.Create(ctx, job))

		// Duplicate id maps to a conflict.
		err := store.Create(ctx, job)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, []byte("reference-image"), got.OriginalImage)
		assert.Equal(t, "portrait", got.Parameters["style"])
		assert.Equal(t, model.JobStatusPending, got.CurrentStatus.Status)
		assert.Empty(t, got.Attempts)
		assert.Nil(t, got.Report)

		_, err = store.Get(ctx, uuid.NewString())
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestPGJobStorePartialUpdate(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		store := data.NewPGJobStore(data.PGJobStoreOptions{DB: db})
		ctx := context.Background()

		job := newPGTestJob(model.JobStatusProcessing)
		require.NoError(t, store.Create(ctx, job))

		stamp := model.StatusStamp{Status: model.JobStatusCompleted, Timestamp: time.Now().UTC()}
		upd := model.JobUpdate{
			Status: &stamp,
			Attempts: []model.Attempt{
				{
					Index:         1,
					Prompt:        "first prompt",
					RenderedImage: []byte("rendered"),
					Validation:    &model.Verdict{Valid: true, Score: 9},
					Status:        model.AttemptStamp{Status: model.AttemptStatusCompleted, Timestamp: stamp.Timestamp},
				},
			},
			FinalImage: []byte("final-image"),
		}
		require.NoError(t, store.Update(ctx, job.ID, upd))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.CurrentStatus.Status)
		assert.Equal(t, []byte("final-image"), got.FinalImage)
		require.Len(t, got.Attempts, 1)
		assert.Equal(t, "first prompt", got.Attempts[0].Prompt)
		require.NotNil(t, got.Attempts[0].Validation)
		assert.True(t, got.Attempts[0].Validation.Valid)

		// Untouched fields survive a partial update.
		assert.Equal(t, "portrait", got.Parameters["style"])
		assert.Equal(t, []byte("reference-image"), got.OriginalImage)

		err = store.Update(ctx, uuid.NewString(), model.JobUpdate{Status: &stamp})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestPGJobStoreListAndStats(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		store := data.NewPGJobStore(data.PGJobStoreOptions{DB: db})
		ctx := context.Background()

		statuses := []model.JobStatus{
			model.JobStatusPending,
			model.JobStatusProcessing,
			model.JobStatusFailed,
		}
		for i, status := range statuses {
			job := newPGTestJob(status)
			job.CreatedAt = job.CreatedAt.Add(time.Duration(i) * time.Second)
			require.NoError(t, store.Create(ctx, job))
		}

		jobs, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		// Newest first.
		assert.True(t, jobs[0].CreatedAt.After(jobs[2].CreatedAt))

		st, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, st.TotalJobs)
		assert.EqualValues(t, 1, st.Pending)
		assert.EqualValues(t, 1, st.Processing)
		assert.EqualValues(t, 1, st.Failed)
	})
}

func TestPGJobStoreDelete(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		store := data.NewPGJobStore(data.PGJobStoreOptions{DB: db})
		ctx := context.Background()

		job := newPGTestJob(model.JobStatusPending)
		require.NoError(t, store.Create(ctx, job))
		require.NoError(t, store.Delete(ctx, job.ID))

		err := store.Delete(ctx, job.ID)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestPGJobStoreFailStuckProcessing(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		store := data.NewPGJobStore(data.PGJobStoreOptions{DB: db})
		ctx := context.Background()

		stuck := newPGTestJob(model.JobStatusProcessing)
		fresh := newPGTestJob(model.JobStatusProcessing)
		done := newPGTestJob(model.JobStatusCompleted)
		for _, job := range []*model.Job{stuck, fresh, done} {
			require.NoError(t, store.Create(ctx, job))
		}

		// Age the stuck job past the cutoff.
		_, err := db.ExecContext(ctx,
			`UPDATE jobs SET updated_at = now() - interval '2 hours' WHERE id = $1`, stuck.ID)
		require.NoError(t, err)

		report := &model.Report{Summary: "abandoned"}
		ids, err := store.FailStuckProcessing(ctx, time.Hour, report)
		require.NoError(t, err)
		assert.Equal(t, []string{stuck.ID}, ids)

		got, err := store.Get(ctx, stuck.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.CurrentStatus.Status)
		require.NotNil(t, got.Report)
		assert.Equal(t, "abandoned", got.Report.Summary)

		untouched, err := store.Get(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, untouched.CurrentStatus.Status)
	})
}
