package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgen/jobmanager/internal/domain/model"
	apperrors "github.com/apexgen/jobmanager/internal/errors"
)

func newTestJob(id string) *model.Job {
	return &model.Job{
		ID:            id,
		OriginalImage: []byte("reference-image"),
		Parameters:    model.Parameters{"style": "portrait"},
		CurrentStatus: model.StatusStamp{Status: model.JobStatusPending, Timestamp: time.Now().UTC()},
	}
}

func newTestStore(t *testing.T) (*MemoryJobStore, *FixedTimeProvider) {
	t.Helper()
	tp := NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewMemoryJobStore(MemoryJobStoreOptions{TimeProvider: tp}), tp
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestJob("job-1")))

	err := store.Create(ctx, newTestJob("job-1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryStoreUpdateReadYourWrites(t *testing.T) {
	store, tp := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestJob("job-1")))

	tp.Advance(time.Minute)
	stamp := model.StatusStamp{Status: model.JobStatusProcessing, Timestamp: tp.Now()}
	require.NoError(t, store.Update(ctx, "job-1", model.JobUpdate{Status: &stamp}))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.CurrentStatus.Status)
	assert.Equal(t, tp.Now().UTC(), got.UpdatedAt)

	// Untouched fields survive a partial update.
	assert.Equal(t, "portrait", got.Parameters["style"])
	assert.NotEmpty(t, got.OriginalImage)
}

func TestMemoryStoreUpdateNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	stamp := model.StatusStamp{Status: model.JobStatusProcessing}
	err := store.Update(context.Background(), "missing", model.JobUpdate{Status: &stamp})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestJob("job-1")))

	first, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	first.Parameters["style"] = "mutated"
	first.Attempts = append(first.Attempts, model.Attempt{Index: 99})

	second, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "portrait", second.Parameters["style"])
	assert.Empty(t, second.Attempts)
}

func TestMemoryStoreAttemptsReplaceNotMerge(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestJob("job-1")))

	attempts := []model.Attempt{
		{Index: 1, Prompt: "first", Status: model.AttemptStamp{Status: model.AttemptStatusCompleted}},
	}
	require.NoError(t, store.Update(ctx, "job-1", model.JobUpdate{Attempts: attempts}))

	attempts = append(attempts, model.Attempt{
		Index: 2, Prompt: "second",
		Status: model.AttemptStamp{Status: model.AttemptStatusFailed},
	})
	require.NoError(t, store.Update(ctx, "job-1", model.JobUpdate{Attempts: attempts}))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, 1, got.Attempts[0].Index)
	assert.Equal(t, 2, got.Attempts[1].Index)
}

func TestMemoryStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestJob("job-1")))

	require.NoError(t, store.Delete(ctx, "job-1"))

	err := store.Delete(ctx, "job-1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryStoreStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, newTestJob(id)))
	}
	stamp := model.StatusStamp{Status: model.JobStatusCompleted, Timestamp: time.Now()}
	require.NoError(t, store.Update(ctx, "b", model.JobUpdate{Status: &stamp, FinalImage: []byte("img")}))

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.TotalJobs)
	assert.EqualValues(t, 2, st.Pending)
	assert.EqualValues(t, 1, st.Completed)
}

func TestMemoryStoreFailStuckProcessing(t *testing.T) {
	store, tp := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestJob("stuck")))
	require.NoError(t, store.Create(ctx, newTestJob("fresh")))

	stamp := model.StatusStamp{Status: model.JobStatusProcessing, Timestamp: tp.Now()}
	require.NoError(t, store.Update(ctx, "stuck", model.JobUpdate{Status: &stamp}))

	tp.Advance(2 * time.Hour)
	require.NoError(t, store.Update(ctx, "fresh", model.JobUpdate{Status: &stamp}))

	report := &model.Report{Summary: "job abandoned after interruption", Unparsed: true}
	ids, err := store.FailStuckProcessing(ctx, time.Hour, report)
	require.NoError(t, err)
	require.Equal(t, []string{"stuck"}, ids)

	stuck, err := store.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stuck.CurrentStatus.Status)
	require.NotNil(t, stuck.Report)
	assert.Equal(t, report.Summary, stuck.Report.Summary)

	fresh, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, fresh.CurrentStatus.Status)
}
