package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkerRepository defines the storage interface for task processing.
type WorkerRepository interface {
	// ClaimTask atomically claims the next due pending task.
	// Returns ErrNoTaskToClaim when nothing is due.
	ClaimTask(ctx context.Context, workerID uuid.UUID, lockDuration time.Duration) (*Task, error)

	// CompleteTask marks a claimed task as completed.
	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records a failure, rescheduling with backoff while retries
	// remain.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error

	// MoveToDead parks a task that exhausted its retries.
	MoveToDead(ctx context.Context, taskID uuid.UUID) error
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPullInterval sets how often the worker polls for due tasks.
func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pullInterval = d
		}
	}
}

// WithLockTimeout sets the claim lock duration, which is also the handler
// execution timeout.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockTimeout = d
		}
	}
}

// WithConcurrency sets how many tasks may run at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// Worker pulls due tasks and dispatches them to registered handlers on a
// bounded goroutine pool.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex

	pullInterval time.Duration
	lockTimeout  time.Duration
	concurrency  int
	log          *slog.Logger

	cancel context.CancelFunc
}

// NewWorker creates a task worker.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	w := &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		workerID:     uuid.New(),
		pullInterval: 5 * time.Second,
		lockTimeout:  5 * time.Minute,
		concurrency:  1,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sem = make(chan struct{}, w.concurrency)
	return w, nil
}

// RegisterHandlers registers task handlers by name.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start begins processing tasks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker: %w", ErrAlreadyStarted)
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	go w.run(ctx)

	w.log.Info("queue worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Int("concurrency", w.concurrency))
	return nil
}

// Stop cancels processing and waits for in-flight tasks to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("worker: %w", ErrNotStarted)
	}
	cancel()
	w.wg.Wait()

	w.log.Info("queue worker stopped", slog.String("worker_id", w.workerID.String()))
	return nil
}

// Run returns a function suitable for errgroup.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()
					w.pullAndProcess(ctx)
				}()
			default:
				// All slots busy, skip this tick.
			}
		}
	}
}

func (w *Worker) pullAndProcess(ctx context.Context) {
	task, err := w.repo.ClaimTask(ctx, w.workerID, w.lockTimeout)
	if err != nil {
		if !errors.Is(err, ErrNoTaskToClaim) && ctx.Err() == nil {
			w.log.Error("failed to claim task",
				slog.String("worker_id", w.workerID.String()),
				slog.Any("error", err))
		}
		return
	}

	w.processTask(task)
}

func (w *Worker) processTask(task *Task) {
	w.mu.RLock()
	handler, ok := w.handlers[task.Name]
	w.mu.RUnlock()

	// Handler contexts are detached from the worker lifecycle so graceful
	// shutdown lets in-flight tasks finish.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	if !ok {
		w.log.Error("no handler for task",
			slog.String("task_id", task.ID.String()),
			slog.String("task_name", task.Name))
		w.fail(ctx, task, ErrHandlerNotFound.Error())
		return
	}

	err := func() (handlerErr error) {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("panic in handler: %v", r)
			}
		}()
		return handler.Handle(ctx, task.Payload)
	}()

	if err != nil {
		w.log.Warn("task failed",
			slog.String("task_id", task.ID.String()),
			slog.String("task_name", task.Name),
			slog.Int("retry_count", int(task.RetryCount)),
			slog.Any("error", err))
		w.fail(ctx, task, err.Error())
		return
	}

	if err := w.repo.CompleteTask(ctx, task.ID); err != nil {
		w.log.Error("failed to complete task",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
	}
}

func (w *Worker) fail(ctx context.Context, task *Task, reason string) {
	if err := w.repo.FailTask(ctx, task.ID, reason); err != nil {
		w.log.Error("failed to record task failure",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
		return
	}
	if task.RetryCount+1 >= task.MaxRetries {
		if err := w.repo.MoveToDead(ctx, task.ID); err != nil {
			w.log.Error("failed to move task to dead letter",
				slog.String("task_id", task.ID.String()),
				slog.Any("error", err))
		}
	}
}
