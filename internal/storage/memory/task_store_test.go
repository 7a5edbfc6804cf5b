package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialscope/scrapewatch/internal/core"
)

func int64p(v int64) *int64 { return &v }

func seedTask(t *testing.T, store *TaskStore, id string) core.Task {
	t.Helper()
	task := core.Task{
		ID:         id,
		SessionID:  "sess-1",
		EntityName: "entity-" + id,
		Platform:   core.PlatformInstagram,
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), task))
	return task
}

func TestTaskStore_CreateDuplicateKeyIsNoOp(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	first := seedTask(t, store, "task-1")

	dup := first
	dup.ID = "task-2"
	require.NoError(t, store.Create(context.Background(), dup))

	tasks, err := store.ListBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "task-1", tasks[0].ID)
}

func TestTaskStore_UpsertDispatchGuard(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	seedTask(t, store, "task-1")
	at := time.Now()

	require.NoError(t, store.UpsertDispatch(context.Background(), "task-1", "job-1", at))
	// Same job id again is a no-op.
	require.NoError(t, store.UpsertDispatch(context.Background(), "task-1", "job-1", at))
	// A different live job id is rejected.
	err := store.UpsertDispatch(context.Background(), "task-1", "job-2", at)
	require.ErrorIs(t, err, core.ErrAlreadyDispatched)

	err = store.UpsertDispatch(context.Background(), "task-404", "job-1", at)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestTaskStore_ApplyResultStaleness(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	seedTask(t, store, "task-1")
	at := time.Now()
	require.NoError(t, store.UpsertDispatch(context.Background(), "task-1", "job-1", at))

	// A job id that owns no task is stale.
	_, err := store.ApplyResult(context.Background(), "job-unknown", core.ResultUpdate{}, at)
	require.ErrorIs(t, err, core.ErrStaleJob)

	task, err := store.ApplyResult(context.Background(), "job-1", core.ResultUpdate{
		FollowerCount: int64p(500),
		DatasetHandle: "ds-1",
		RawDataset:    []byte(`[{}]`),
	}, at)
	require.NoError(t, err)
	require.NotNil(t, task.FollowerCount)
	assert.Equal(t, int64(500), *task.FollowerCount)

	// After a redispatch clears the job the old id is stale again.
	require.NoError(t, store.ClearForRedispatch(context.Background(), "task-1", at))
	_, err = store.ApplyResult(context.Background(), "job-1", core.ResultUpdate{}, at)
	require.ErrorIs(t, err, core.ErrStaleJob)
}

func TestTaskStore_ClearForRedispatchNullsJobState(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	seedTask(t, store, "task-1")
	at := time.Now()
	require.NoError(t, store.UpsertDispatch(context.Background(), "task-1", "job-1", at))
	_, err := store.ApplyResult(context.Background(), "job-1", core.ResultUpdate{
		FollowerCount: int64p(500),
		DatasetHandle: "ds-1",
		RawDataset:    []byte(`[{}]`),
	}, at)
	require.NoError(t, err)

	require.NoError(t, store.ClearForRedispatch(context.Background(), "task-1", at))
	task, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Nil(t, task.JobID)
	assert.Nil(t, task.DatasetHandle)
	assert.Nil(t, task.FollowerCount)
	assert.Nil(t, task.RawDataset)
}

func TestTaskStore_FindByKeyAndJobID(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	task := seedTask(t, store, "task-1")
	at := time.Now()
	require.NoError(t, store.UpsertDispatch(context.Background(), "task-1", "job-1", at))

	byKey, err := store.FindByKey(context.Background(), task.Key())
	require.NoError(t, err)
	assert.Equal(t, "task-1", byKey.ID)

	byJob, err := store.FindByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", byJob.ID)

	_, err = store.FindByJobID(context.Background(), "job-404")
	require.ErrorIs(t, err, core.ErrNotFound)
}
