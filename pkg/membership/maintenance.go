package membership

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fitforge/membership/pkg/billing"
	"github.com/fitforge/membership/pkg/logger"
)

// fallbackPeriod is the assumed billing interval when the provider cannot
// report canonical period bounds for a subscription.
const fallbackPeriod = 30 * 24 * time.Hour

// Maintenance runs the batch correctness sweeps. All transitions are
// idempotent and monotonic, so sweeps are safe to re-run and to run
// concurrently with live upserts and with each other. Per-record failures
// are counted, never allowed to abort a batch.
type Maintenance struct {
	store    Store
	provider billing.Provider
	log      *slog.Logger
}

// MaintenanceOption configures Maintenance.
type MaintenanceOption func(*Maintenance)

// WithMaintenanceLogger sets the logger for Maintenance.
func WithMaintenanceLogger(log *slog.Logger) MaintenanceOption {
	return func(m *Maintenance) {
		if log != nil {
			m.log = log
		}
	}
}

// NewMaintenance creates the maintenance sweeps. Panics if store or
// provider is nil to fail fast during initialization.
func NewMaintenance(store Store, provider billing.Provider, opts ...MaintenanceOption) *Maintenance {
	if store == nil {
		panic("membership: Store is required")
	}
	if provider == nil {
		panic("membership: billing.Provider is required")
	}

	m := &Maintenance{
		store:    store,
		provider: provider,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckExpired transitions every active membership whose period has lapsed
// to expired. This is the read-repair closing the transient double-active
// window of concurrent upserts, and the backstop for cancellations whose
// webhook never arrived. Re-running finds nothing once converged.
//
// Records with corrupted period bounds are repair-needed, not expired;
// they are skipped here and left to the period repair sweep.
func (m *Maintenance) CheckExpired(ctx context.Context) (int, error) {
	active, err := m.store.ListByStatus(ctx, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to list active memberships: %w", err)
	}

	now := time.Now().UTC()
	updated := 0
	for _, rec := range active {
		if !rec.PeriodValid() {
			m.log.WarnContext(ctx, "active membership has corrupted period bounds",
				logger.MembershipID(rec.ID),
				logger.OwnerRef(rec.OwnerRef),
				slog.Int64("period_start", rec.CurrentPeriodStart),
				slog.Int64("period_end", rec.CurrentPeriodEnd))
			continue
		}
		if !rec.PeriodElapsedAt(now) {
			continue
		}

		rec.Status = StatusExpired
		rec.UpdatedAt = now
		if err := m.store.Update(ctx, rec); err != nil {
			m.log.ErrorContext(ctx, "failed to expire membership",
				logger.MembershipID(rec.ID),
				logger.Error(err))
			continue
		}
		updated++
		m.log.InfoContext(ctx, "membership expired",
			logger.MembershipID(rec.ID),
			logger.OwnerRef(rec.OwnerRef),
			logger.SubscriptionRef(rec.SubscriptionRef))
	}

	return updated, nil
}

// FixPeriods restores valid period bounds on repair-needed memberships by
// re-querying the provider for the canonical subscription object. When the
// provider itself lacks bounds, the period falls back to thirty days from
// the subscription start (or local creation time). Both fields are always
// written together so end stays after start.
//
// With a non-nil id only that membership is repaired; otherwise the whole
// store is swept.
func (m *Maintenance) FixPeriods(ctx context.Context, membershipID *uuid.UUID) (int, error) {
	var candidates []*Membership

	if membershipID != nil {
		rec, err := m.store.GetByID(ctx, *membershipID)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, rec)
	} else {
		var err error
		candidates, err = m.store.ListRepairNeeded(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list repair-needed memberships: %w", err)
		}
	}

	fixed := 0
	for _, rec := range candidates {
		if rec.PeriodValid() {
			continue
		}
		if err := m.repairPeriod(ctx, rec); err != nil {
			m.log.ErrorContext(ctx, "failed to repair membership period",
				logger.MembershipID(rec.ID),
				logger.SubscriptionRef(rec.SubscriptionRef),
				logger.Error(err))
			continue
		}
		fixed++
	}

	return fixed, nil
}

func (m *Maintenance) repairPeriod(ctx context.Context, rec *Membership) error {
	start, end := int64(0), int64(0)

	if rec.SubscriptionRef != "" {
		sub, err := m.provider.GetSubscription(ctx, rec.SubscriptionRef)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		if sub.PeriodStart > 0 && sub.PeriodEnd > sub.PeriodStart {
			start, end = sub.PeriodStart, sub.PeriodEnd
		} else if sub.StartedAt > 0 {
			start = sub.StartedAt
			end = start + fallbackPeriod.Milliseconds()
		}
	}
	if start == 0 {
		start = rec.CreatedAt.UnixMilli()
		end = start + fallbackPeriod.Milliseconds()
	}

	rec.CurrentPeriodStart = start
	rec.CurrentPeriodEnd = end
	rec.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to write repaired period: %w", err)
	}

	m.log.InfoContext(ctx, "membership period repaired",
		logger.MembershipID(rec.ID),
		logger.SubscriptionRef(rec.SubscriptionRef),
		slog.Int64("period_start", start),
		slog.Int64("period_end", end))
	return nil
}

// CleanupDuplicates enforces the single-active invariant terminally: where
// an owner holds more than one active membership, the newest by creation
// time survives and the rest are cancelled. Cancelling an already-cancelled
// record is a no-op, so the sweep is safe to run repeatedly and
// concurrently with live upserts.
//
// With a non-empty ownerRef only that owner is swept.
func (m *Maintenance) CleanupDuplicates(ctx context.Context, ownerRef string) (int, error) {
	byOwner := make(map[string][]*Membership)

	if ownerRef != "" {
		owned, err := m.store.ListByOwner(ctx, ownerRef)
		if err != nil {
			return 0, fmt.Errorf("failed to list memberships for owner: %w", err)
		}
		for _, rec := range owned {
			if rec.IsActive() {
				byOwner[ownerRef] = append(byOwner[ownerRef], rec)
			}
		}
	} else {
		active, err := m.store.ListByStatus(ctx, StatusActive)
		if err != nil {
			return 0, fmt.Errorf("failed to list active memberships: %w", err)
		}
		for _, rec := range active {
			byOwner[rec.OwnerRef] = append(byOwner[rec.OwnerRef], rec)
		}
	}

	now := time.Now().UTC()
	cancelled := 0
	for owner, records := range byOwner {
		if len(records) < 2 {
			continue
		}

		keep := records[0]
		for _, rec := range records[1:] {
			if rec.CreatedAt.After(keep.CreatedAt) {
				keep = rec
			}
		}

		m.log.WarnContext(ctx, "duplicate active memberships detected",
			logger.OwnerRef(owner),
			logger.Count(len(records)),
			logger.MembershipID(keep.ID))

		for _, rec := range records {
			if rec.ID == keep.ID {
				continue
			}
			rec.Status = StatusCancelled
			rec.UpdatedAt = now
			if err := m.store.Update(ctx, rec); err != nil {
				m.log.ErrorContext(ctx, "failed to cancel duplicate membership",
					logger.MembershipID(rec.ID),
					logger.Error(err))
				continue
			}
			cancelled++
		}
	}

	return cancelled, nil
}
