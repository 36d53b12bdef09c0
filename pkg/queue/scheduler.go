package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchedulerRepository defines the storage interface for periodic
// scheduling.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error

	// GetPendingTaskByName reports whether a task with this name is
	// already waiting, so intervals don't stack up while a sweep runs
	// long. Returns ErrTaskNotFound when none is pending.
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// Scheduler creates named tasks on fixed intervals. Maintenance sweeps are
// registered here and executed by the regular worker pool, so a sweep and a
// live write go through the same storage path.
type Scheduler struct {
	repo     SchedulerRepository
	mu       sync.Mutex
	tasks    map[string]*periodicTask
	interval time.Duration
	log      *slog.Logger

	cancel context.CancelFunc
}

type periodicTask struct {
	name     string
	every    time.Duration
	lastFire time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets how often the scheduler evaluates due tasks.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// NewScheduler creates a periodic task scheduler.
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	s := &Scheduler{
		repo:     repo,
		tasks:    make(map[string]*periodicTask),
		interval: 30 * time.Second,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddTask registers a named task to fire every interval.
func (s *Scheduler) AddTask(name string, every time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskRegistered
	}
	s.tasks[name] = &periodicTask{name: name, every: every}

	s.log.Info("registered periodic task",
		slog.String("task_name", name),
		slog.Duration("every", every))
	return nil
}

// Start begins periodic scheduling until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: %w", ErrAlreadyStarted)
	}
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return ErrNoScheduledTasks
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop halts scheduling.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("scheduler: %w", ErrNotStarted)
	}
	cancel()
	return nil
}

// Run returns a function suitable for errgroup.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		if err := s.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return s.Stop()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*periodicTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.lastFire.IsZero() || now.Sub(t.lastFire) >= t.every {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		if _, err := s.repo.GetPendingTaskByName(ctx, t.name); err == nil {
			// Previous run still queued, don't stack another.
			continue
		}

		task := &Task{
			ID:          uuid.New(),
			Name:        t.name,
			Status:      StatusPending,
			MaxRetries:  1,
			ScheduledAt: now,
			CreatedAt:   now,
		}
		if err := s.repo.CreateTask(ctx, task); err != nil {
			s.log.Error("failed to schedule periodic task",
				slog.String("task_name", t.name),
				slog.Any("error", err))
			continue
		}

		s.mu.Lock()
		t.lastFire = now
		s.mu.Unlock()
	}
}
