package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements all queue repository interfaces in memory for
// tests and local development.
type MemoryStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	dead  map[uuid.UUID]*DeadTask
}

// NewMemoryStorage creates an empty in-memory queue storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[uuid.UUID]*Task),
		dead:  make(map[uuid.UUID]*DeadTask),
	}
}

func (ms *MemoryStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrPayloadNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	cp := *task
	ms.tasks[task.ID] = &cp
	return nil
}

func (ms *MemoryStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	ms.expireLocks(now)

	var best *Task
	for _, task := range ms.tasks {
		if task.Status != StatusPending || task.ScheduledAt.After(now) {
			continue
		}
		if best == nil || task.ScheduledAt.Before(best.ScheduledAt) {
			best = task
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = StatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	cp := *best
	return &cp, nil
}

// expireLocks re-pends processing tasks whose lock has lapsed so work held
// by a crashed worker is not lost. Caller must hold the mutex.
func (ms *MemoryStorage) expireLocks(now time.Time) {
	for _, task := range ms.tasks {
		if task.Status != StatusProcessing {
			continue
		}
		if task.LockedUntil != nil && task.LockedUntil.Before(now) {
			task.Status = StatusPending
			task.LockedUntil = nil
			task.LockedBy = nil
		}
	}
}

func (ms *MemoryStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Status = StatusCompleted
	task.ProcessedAt = &now
	task.LockedUntil = nil
	task.LockedBy = nil
	return nil
}

func (ms *MemoryStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return ErrTaskNotFound
	}

	task.RetryCount++
	task.Error = errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	if task.RetryCount >= task.MaxRetries {
		task.Status = StatusFailed
		return nil
	}

	// Linear backoff keeps retries from hammering a struggling provider.
	task.Status = StatusPending
	task.ScheduledAt = time.Now().Add(time.Duration(task.RetryCount) * 30 * time.Second)
	return nil
}

func (ms *MemoryStorage) MoveToDead(ctx context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return ErrTaskNotFound
	}

	id := uuid.New()
	ms.dead[id] = &DeadTask{
		ID:         id,
		TaskID:     task.ID,
		Name:       task.Name,
		Payload:    task.Payload,
		Error:      task.Error,
		RetryCount: task.RetryCount,
		FailedAt:   time.Now(),
	}
	return nil
}

func (ms *MemoryStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, task := range ms.tasks {
		if task.Name == taskName && task.Status == StatusPending {
			cp := *task
			return &cp, nil
		}
	}
	return nil, ErrTaskNotFound
}

// Tasks returns a snapshot of all tasks, for tests.
func (ms *MemoryStorage) Tasks() []*Task {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]*Task, 0, len(ms.tasks))
	for _, task := range ms.tasks {
		cp := *task
		out = append(out, &cp)
	}
	return out
}

// DeadTasks returns a snapshot of the dead letter queue, for tests.
func (ms *MemoryStorage) DeadTasks() []*DeadTask {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]*DeadTask, 0, len(ms.dead))
	for _, task := range ms.dead {
		cp := *task
		out = append(out, &cp)
	}
	return out
}
