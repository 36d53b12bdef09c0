package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/membership/pkg/queue"
)

type workerTestPayload struct {
	Value int `json:"value"`
}

func TestWorker_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()

		w, err := queue.NewWorker(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
		assert.Nil(t, w)
	})

	t.Run("start without handlers", func(t *testing.T) {
		t.Parallel()

		w, err := queue.NewWorker(queue.NewMemoryStorage())
		require.NoError(t, err)
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrNoHandlers)
	})

	t.Run("double start and stop", func(t *testing.T) {
		t.Parallel()

		w, err := queue.NewWorker(queue.NewMemoryStorage())
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p workerTestPayload) error {
			return nil
		}))

		require.NoError(t, w.Start(context.Background()))
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrAlreadyStarted)
		require.NoError(t, w.Stop())
		assert.ErrorIs(t, w.Stop(), queue.ErrNotStarted)
	})
}

func TestWorker_ProcessTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("completes a task end to end", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enqueuer, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)

		var processed atomic.Int32
		w, err := queue.NewWorker(storage, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p workerTestPayload) error {
			processed.Add(int32(p.Value))
			return nil
		}))

		require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{Value: 3}))
		require.NoError(t, w.Start(ctx))
		defer w.Stop() //nolint:errcheck

		require.Eventually(t, func() bool {
			tasks := storage.Tasks()
			return len(tasks) == 1 && tasks[0].Status == queue.StatusCompleted
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, int32(3), processed.Load())
	})

	t.Run("exhausted retries park the task dead", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enqueuer, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)

		w, err := queue.NewWorker(storage, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p workerTestPayload) error {
			return errors.New("provider down")
		}))

		require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{Value: 1}, queue.WithMaxRetries(1)))
		require.NoError(t, w.Start(ctx))
		defer w.Stop() //nolint:errcheck

		require.Eventually(t, func() bool {
			return len(storage.DeadTasks()) == 1
		}, 2*time.Second, 10*time.Millisecond)

		dead := storage.DeadTasks()[0]
		assert.Contains(t, dead.Name, "workerTestPayload")
		assert.Equal(t, "provider down", dead.Error)

		tasks := storage.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, queue.StatusFailed, tasks[0].Status)
	})

	t.Run("panicking handler is contained", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enqueuer, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)

		w, err := queue.NewWorker(storage, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p workerTestPayload) error {
			panic("boom")
		}))

		require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{}, queue.WithMaxRetries(1)))
		require.NoError(t, w.Start(ctx))
		defer w.Stop() //nolint:errcheck

		require.Eventually(t, func() bool {
			return len(storage.DeadTasks()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Contains(t, storage.DeadTasks()[0].Error, "panic in handler")
	})

	t.Run("unroutable task fails", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enqueuer, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)

		w, err := queue.NewWorker(storage, queue.WithPullInterval(10*time.Millisecond))
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p workerTestPayload) error {
			return nil
		}))

		require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{},
			queue.WithTaskName("nobody.HandlesThis"),
			queue.WithMaxRetries(1),
		))
		require.NoError(t, w.Start(ctx))
		defer w.Stop() //nolint:errcheck

		require.Eventually(t, func() bool {
			return len(storage.DeadTasks()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, queue.ErrHandlerNotFound.Error(), storage.DeadTasks()[0].Error)
	})
}

func TestMemoryStorage_ClaimOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{Value: 2},
		queue.WithTaskName("second"),
		queue.WithScheduledAt(time.Now().Add(-time.Minute))))
	require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{Value: 1},
		queue.WithTaskName("first"),
		queue.WithScheduledAt(time.Now().Add(-2*time.Minute))))
	require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{Value: 3},
		queue.WithTaskName("future"),
		queue.WithDelay(time.Hour)))

	workerID := uuid.New()

	task, err := storage.ClaimTask(ctx, workerID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "first", task.Name, "oldest due task is claimed first")

	task, err = storage.ClaimTask(ctx, workerID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "second", task.Name)

	_, err = storage.ClaimTask(ctx, workerID, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoTaskToClaim, "future tasks are not yet due")
}

func TestMemoryStorage_ReclaimsExpiredLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{Value: 1},
		queue.WithTaskName("cancel-subscription")))

	crashed := uuid.New()
	task, err := storage.ClaimTask(ctx, crashed, 10*time.Millisecond)
	require.NoError(t, err)

	// The first worker never completes or fails the task; once its lock
	// lapses another worker must be able to pick it up.
	time.Sleep(50 * time.Millisecond)

	survivor := uuid.New()
	reclaimed, err := storage.ClaimTask(ctx, survivor, time.Minute)
	require.NoError(t, err, "task held by a dead worker stays claimable")
	assert.Equal(t, task.ID, reclaimed.ID)
	assert.Equal(t, queue.StatusProcessing, reclaimed.Status)
	require.NotNil(t, reclaimed.LockedBy)
	assert.Equal(t, survivor, *reclaimed.LockedBy)
	assert.Equal(t, task.RetryCount, reclaimed.RetryCount, "reclaim is not a retry")
}

func TestMemoryStorage_FailTaskBackoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	require.NoError(t, enqueuer.Enqueue(ctx, workerTestPayload{}, queue.WithMaxRetries(3)))

	task, err := storage.ClaimTask(ctx, uuid.New(), time.Minute)
	require.NoError(t, err)

	require.NoError(t, storage.FailTask(ctx, task.ID, "transient"))

	tasks := storage.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.StatusPending, tasks[0].Status)
	assert.Equal(t, int8(1), tasks[0].RetryCount)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), tasks[0].ScheduledAt, time.Second,
		"backoff grows linearly with the retry count")
}
