package membership

import (
	"context"
	"log/slog"
	"time"

	"github.com/fitforge/membership/pkg/billing"
	"github.com/fitforge/membership/pkg/logger"
	"github.com/fitforge/membership/pkg/queue"
)

// Periodic maintenance task names.
const (
	TaskCheckExpired      = "membership.check_expired"
	TaskFixPeriods        = "membership.fix_periods"
	TaskCleanupDuplicates = "membership.cleanup_duplicates"
)

// MaintenanceConfig sets the sweep intervals.
type MaintenanceConfig struct {
	ExpiryInterval    time.Duration `env:"MEMBERSHIP_EXPIRY_INTERVAL" envDefault:"1h"`
	RepairInterval    time.Duration `env:"MEMBERSHIP_REPAIR_INTERVAL" envDefault:"6h"`
	DuplicateInterval time.Duration `env:"MEMBERSHIP_DUPLICATE_INTERVAL" envDefault:"6h"`
}

// NewCancelSubscriptionHandler returns the queue handler executing deferred
// provider cancellations. Retries are safe: cancel-at-period-end is a
// provider-side no-op once set.
func NewCancelSubscriptionHandler(provider billing.Provider, log *slog.Logger) queue.Handler {
	if log == nil {
		log = slog.Default()
	}
	return queue.NewTaskHandler(func(ctx context.Context, task CancelSubscriptionTask) error {
		if err := provider.CancelAtPeriodEnd(ctx, task.SubscriptionRef); err != nil {
			log.ErrorContext(ctx, "deferred provider cancellation failed",
				logger.MembershipID(task.MembershipID),
				logger.SubscriptionRef(task.SubscriptionRef),
				logger.Error(err))
			return err
		}
		log.InfoContext(ctx, "provider cancellation scheduled",
			logger.MembershipID(task.MembershipID),
			logger.SubscriptionRef(task.SubscriptionRef))
		return nil
	})
}

// RegisterMaintenanceHandlers wires the batch sweeps into the worker pool.
func RegisterMaintenanceHandlers(w *queue.Worker, m *Maintenance, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	w.RegisterHandlers(
		queue.NewPeriodicTaskHandler(TaskCheckExpired, func(ctx context.Context) error {
			n, err := m.CheckExpired(ctx)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "expiry sweep finished",
				logger.TaskName(TaskCheckExpired), logger.Count(n))
			return nil
		}),
		queue.NewPeriodicTaskHandler(TaskFixPeriods, func(ctx context.Context) error {
			n, err := m.FixPeriods(ctx, nil)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "period repair sweep finished",
				logger.TaskName(TaskFixPeriods), logger.Count(n))
			return nil
		}),
		queue.NewPeriodicTaskHandler(TaskCleanupDuplicates, func(ctx context.Context) error {
			n, err := m.CleanupDuplicates(ctx, "")
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "duplicate collapse sweep finished",
				logger.TaskName(TaskCleanupDuplicates), logger.Count(n))
			return nil
		}),
	)
}

// ScheduleMaintenance registers the periodic sweeps with the scheduler.
func ScheduleMaintenance(s *queue.Scheduler, cfg MaintenanceConfig) error {
	if err := s.AddTask(TaskCheckExpired, cfg.ExpiryInterval); err != nil {
		return err
	}
	if err := s.AddTask(TaskFixPeriods, cfg.RepairInterval); err != nil {
		return err
	}
	return s.AddTask(TaskCleanupDuplicates, cfg.DuplicateInterval)
}
