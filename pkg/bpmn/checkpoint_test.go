package bpmn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpath/pkg/storage"
	"github.com/pbinitiative/zenpath/pkg/storage/bolt"
	"github.com/pbinitiative/zenpath/pkg/storage/inmemory"
)

func TestCheckpointAndRestoreContinueAnAsynchronousTask(t *testing.T) {
	bolted, err := bolt.Open(filepath.Join(t.TempDir(), "checkpoints.db"), 0, time.Second)
	require.NoError(t, err)
	defer bolted.Close()

	stores := map[string]storage.Storage{
		"inmemory": inmemory.NewStorage(),
		"bolt":     bolted,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			// setup
			cp := CallPath{}
			delegates := waitingUserTasks(&cp)
			bp := newTestProcess(t, "./test-cases/user-tasks-with-lanes.bpmn", delegates)
			_, err := bp.BeginProcess(t.Context(), runtime.NewVariablesFromMap(map[string]any{"order": "o-7"}))
			require.NoError(t, err)

			// given
			err = bp.Checkpoint(t.Context(), store)
			require.NoError(t, err)
			record, err := store.FindStateByKey(t.Context(), bp.Key())
			require.NoError(t, err)
			assert.Equal(t, "user-tasks", record.ProcessId)
			assert.False(t, record.Completed)

			// when
			restored, err := NewBusinessProcess(loadGraph(t, "./test-cases/user-tasks-with-lanes.bpmn"), WithDelegates(delegates))
			require.NoError(t, err)
			err = restored.Restore(t.Context(), store, bp.Key())

			// then
			require.NoError(t, err)
			assert.Equal(t, bp.Key(), restored.Key())
			assert.Equal(t, []string{"approve"}, activeTokens(restored))
			assert.Equal(t, "o-7", restored.State().Get("approve", "order"))

			// when
			err = restored.CompleteTask(t.Context(), "approve", nil)
			require.NoError(t, err)
			err = restored.CompleteTask(t.Context(), "pack", nil)
			require.NoError(t, err)
			err = restored.Checkpoint(t.Context(), store)
			require.NoError(t, err)

			// then
			record, err = store.FindStateByKey(t.Context(), bp.Key())
			require.NoError(t, err)
			assert.True(t, record.Completed)
			assert.Equal(t, "approve@Clerk,pack", cp.String())
		})
	}
}

func TestRestoreOfUnknownKeyReportsNotFound(t *testing.T) {
	// setup
	bp := newTestProcess(t, "./test-cases/simple-task.bpmn", &Delegates{})

	// when
	err := bp.Restore(t.Context(), inmemory.NewStorage(), 12345)

	// then
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, bp.State().Path().Len())
}

func TestRunningInstancesCacheEvictsCompletedInstances(t *testing.T) {
	// setup
	cache := NewRunningInstancesCache()
	waiting := newTestProcess(t, "./test-cases/user-tasks-with-lanes.bpmn", waitingUserTasks(&CallPath{}))
	finished := newTestProcess(t, "./test-cases/simple-task.bpmn", &Delegates{
		ServiceTask: func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
			return nil
		},
	})
	for _, bp := range []*BusinessProcess{waiting, finished} {
		_, err := bp.BeginProcess(t.Context(), nil)
		require.NoError(t, err)
		cache.Add(bp)
	}

	// when
	evicted := cache.EvictCompleted()

	// then
	assert.Equal(t, []int64{finished.Key()}, evicted)
	assert.Equal(t, []int64{waiting.Key()}, cache.Keys())
	got, ok := cache.Get(waiting.Key())
	assert.True(t, ok)
	assert.Same(t, waiting, got)

	// when
	cache.Remove(waiting.Key())

	// then
	_, ok = cache.Get(waiting.Key())
	assert.False(t, ok)
}
