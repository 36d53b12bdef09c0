package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fitforge/membership/pkg/billing"
	"github.com/fitforge/membership/pkg/logger"
)

// Reconciler applies provider-originated state changes to the membership
// store, exactly once per event. The only externally stable correlation key
// is the provider's subscription ref, so every transition is keyed by it,
// never by internal id.
type Reconciler struct {
	store    Store
	ledger   EventLedger
	notifier Notifier
	log      *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger for the Reconciler.
func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithReconcilerNotifier sets the fire-and-forget notification dispatcher.
func WithReconcilerNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) {
		if n != nil {
			r.notifier = n
		}
	}
}

// NewReconciler creates a reconciler. Panics if store or ledger is nil to
// fail fast during initialization.
func NewReconciler(store Store, ledger EventLedger, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("membership: Store is required")
	}
	if ledger == nil {
		panic("membership: EventLedger is required")
	}

	r := &Reconciler{
		store:    store,
		ledger:   ledger,
		notifier: NoopNotifier{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpsertParams is the billing identity tuple that activates a membership.
type UpsertParams struct {
	OwnerRef        string
	SubscriptionRef string
	Type            Type
	CustomerRef     string
	PriceRef        string
	PeriodStart     int64
	PeriodEnd       int64
}

// Upsert produces an active membership for the given billing identity.
//
// If a membership already carries this subscription ref, it is updated in
// place; this absorbs provider-side renewals and tier changes re-delivered
// as "new" events. Otherwise every currently active membership of the owner
// is cancelled (last-writer-wins, not rejection) and a fresh active record
// is inserted.
//
// Two concurrent upserts for the same owner can both pass the find-actives
// step before either inserts, leaving a transient double-active window. The
// duplicate-collapse sweep is the authoritative repair for that window; the
// external provider, not this store, is the source of truth.
func (r *Reconciler) Upsert(ctx context.Context, p UpsertParams) (uuid.UUID, error) {
	if p.OwnerRef == "" {
		return uuid.Nil, ErrUnauthenticated
	}
	if !p.Type.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}

	now := time.Now().UTC()

	if p.SubscriptionRef != "" {
		existing, err := r.store.GetBySubscriptionRef(ctx, p.SubscriptionRef)
		if err == nil {
			existing.Type = p.Type
			existing.PriceRef = p.PriceRef
			existing.CustomerRef = p.CustomerRef
			existing.CurrentPeriodStart = p.PeriodStart
			existing.CurrentPeriodEnd = p.PeriodEnd
			existing.CancelAtPeriodEnd = false
			existing.Status = StatusActive
			existing.UpdatedAt = now

			if err := r.store.Update(ctx, existing); err != nil {
				return uuid.Nil, fmt.Errorf("failed to refresh membership %s: %w", existing.ID, err)
			}

			r.log.InfoContext(ctx, "membership refreshed from provider subscription",
				logger.MembershipID(existing.ID),
				logger.SubscriptionRef(p.SubscriptionRef),
				logger.OwnerRef(p.OwnerRef))
			return existing.ID, nil
		}
		if !errors.Is(err, ErrMembershipNotFound) {
			return uuid.Nil, err
		}
	}

	// Single-active enforcement: cancel whatever is active before the new
	// record goes in.
	owned, err := r.store.ListByOwner(ctx, p.OwnerRef)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to list memberships for owner: %w", err)
	}
	for _, m := range owned {
		if !m.IsActive() {
			continue
		}
		m.Status = StatusCancelled
		m.UpdatedAt = now
		if err := r.store.Update(ctx, m); err != nil {
			return uuid.Nil, fmt.Errorf("failed to cancel superseded membership %s: %w", m.ID, err)
		}
		r.log.InfoContext(ctx, "superseded active membership cancelled",
			logger.MembershipID(m.ID),
			logger.OwnerRef(p.OwnerRef))
	}

	m := &Membership{
		ID:                 uuid.New(),
		OwnerRef:           p.OwnerRef,
		Type:               p.Type,
		Status:             StatusActive,
		CustomerRef:        p.CustomerRef,
		SubscriptionRef:    p.SubscriptionRef,
		PriceRef:           p.PriceRef,
		CurrentPeriodStart: p.PeriodStart,
		CurrentPeriodEnd:   p.PeriodEnd,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.store.Insert(ctx, m); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert membership: %w", err)
	}

	r.log.InfoContext(ctx, "membership activated",
		logger.MembershipID(m.ID),
		logger.SubscriptionRef(p.SubscriptionRef),
		logger.OwnerRef(p.OwnerRef))
	return m.ID, nil
}

// StatusPatch carries the provider fields present in one inbound update.
// Nil fields are left untouched on the record: provider events differ in
// which fields they carry, so the transition is a data merge, never a
// wholesale replace.
type StatusPatch struct {
	Status            Status
	PeriodStart       *int64
	PeriodEnd         *int64
	CancelAtPeriodEnd *bool
}

// ApplyStatusUpdate applies a named status transition keyed by the provider
// subscription ref.
//
// Returns ErrMembershipNotFound when no membership matches. That is
// recoverable, not fatal: the webhook may have outrun the local upsert, so
// full diagnostic context is logged and the caller can have the event
// re-driven.
func (r *Reconciler) ApplyStatusUpdate(ctx context.Context, subscriptionRef string, patch StatusPatch) (uuid.UUID, error) {
	m, err := r.store.GetBySubscriptionRef(ctx, subscriptionRef)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			r.logUnmatchedRef(ctx, subscriptionRef)
		}
		return uuid.Nil, err
	}

	if patch.Status != "" {
		m.Status = patch.Status
	}
	if patch.PeriodStart != nil {
		m.CurrentPeriodStart = *patch.PeriodStart
	}
	if patch.PeriodEnd != nil {
		m.CurrentPeriodEnd = *patch.PeriodEnd
	}
	if patch.CancelAtPeriodEnd != nil {
		m.CancelAtPeriodEnd = *patch.CancelAtPeriodEnd
	}
	m.UpdatedAt = time.Now().UTC()

	if err := r.store.Update(ctx, m); err != nil {
		return uuid.Nil, fmt.Errorf("failed to apply status update to membership %s: %w", m.ID, err)
	}

	r.log.InfoContext(ctx, "membership status reconciled",
		logger.MembershipID(m.ID),
		logger.SubscriptionRef(subscriptionRef),
		slog.String("status", string(m.Status)))
	return m.ID, nil
}

// logUnmatchedRef records every known subscription ref alongside the one
// that failed to match, to support diagnosing webhook-vs-upsert races.
func (r *Reconciler) logUnmatchedRef(ctx context.Context, subscriptionRef string) {
	known, err := r.store.ListSubscriptionRefs(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "failed to collect diagnostic subscription refs",
			logger.SubscriptionRef(subscriptionRef),
			logger.Error(err))
		return
	}
	r.log.WarnContext(ctx, "no membership matches subscription ref",
		logger.SubscriptionRef(subscriptionRef),
		slog.Any("known_refs", known))
}

// ProcessEvent applies one normalized provider event behind the ledger so
// each event takes effect at most once. The provider's own status and
// period fields are authoritative; arrival order is not, so every event is
// treated as a merge against current state.
func (r *Reconciler) ProcessEvent(ctx context.Context, ev billing.WebhookEvent) error {
	if ev.Kind == billing.EventIgnored {
		return nil
	}

	if err := r.ledger.Record(ctx, ev.EventID, ev.ProviderEvent); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			r.log.DebugContext(ctx, "webhook event replayed, skipping",
				logger.EventID(ev.EventID),
				logger.EventType(ev.ProviderEvent))
			return nil
		}
		return fmt.Errorf("failed to record webhook event: %w", err)
	}

	if err := r.applyEvent(ctx, ev); err != nil {
		if ledgerErr := r.ledger.MarkFailed(ctx, ev.EventID, err.Error()); ledgerErr != nil {
			r.log.ErrorContext(ctx, "failed to record event failure",
				logger.EventID(ev.EventID),
				logger.Error(ledgerErr))
		}
		return err
	}

	if err := r.ledger.MarkProcessed(ctx, ev.EventID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (r *Reconciler) applyEvent(ctx context.Context, ev billing.WebhookEvent) error {
	switch ev.Kind {
	case billing.EventSubscriptionActivated:
		return r.applyActivated(ctx, ev)

	case billing.EventSubscriptionUpdated:
		patch := StatusPatch{
			PeriodStart:       ev.PeriodStart,
			PeriodEnd:         ev.PeriodEnd,
			CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		}
		if st, ok := mapProviderStatus(ev.Status); ok {
			patch.Status = st
		}
		id, err := r.ApplyStatusUpdate(ctx, ev.SubscriptionRef, patch)
		if err != nil {
			return err
		}
		r.notify(ctx, ev.OwnerRef, "membership_updated", "Your membership was updated.", id)
		return nil

	case billing.EventSubscriptionCancelled:
		patch := StatusPatch{
			Status:            StatusCancelled,
			PeriodStart:       ev.PeriodStart,
			PeriodEnd:         ev.PeriodEnd,
			CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		}
		id, err := r.ApplyStatusUpdate(ctx, ev.SubscriptionRef, patch)
		if err != nil {
			return err
		}
		r.notify(ctx, ev.OwnerRef, "membership_cancelled", "Your membership has been cancelled.", id)
		return nil

	case billing.EventSubscriptionResumed:
		resumed := false
		id, err := r.ApplyStatusUpdate(ctx, ev.SubscriptionRef, StatusPatch{
			Status:            StatusActive,
			PeriodStart:       ev.PeriodStart,
			PeriodEnd:         ev.PeriodEnd,
			CancelAtPeriodEnd: &resumed,
		})
		if err != nil {
			return err
		}
		r.notify(ctx, ev.OwnerRef, "membership_resumed", "Your membership is active again.", id)
		return nil

	case billing.EventSubscriptionExpired:
		_, err := r.ApplyStatusUpdate(ctx, ev.SubscriptionRef, StatusPatch{
			Status:      StatusExpired,
			PeriodStart: ev.PeriodStart,
			PeriodEnd:   ev.PeriodEnd,
		})
		return err

	case billing.EventPaymentFailed:
		// Access persists until the period lapses; the expiry sweep is the
		// backstop if the provider never recovers the payment.
		r.log.WarnContext(ctx, "payment failed for subscription",
			logger.SubscriptionRef(ev.SubscriptionRef),
			logger.EventID(ev.EventID))
		return nil
	}

	return fmt.Errorf("unhandled event kind %q", ev.Kind)
}

// applyActivated handles both creation paths: a first provider event for a
// brand-new subscription, and a renewal re-delivered as "new".
func (r *Reconciler) applyActivated(ctx context.Context, ev billing.WebhookEvent) error {
	params := UpsertParams{
		OwnerRef:        ev.OwnerRef,
		SubscriptionRef: ev.SubscriptionRef,
		Type:            membershipTypeOrDefault(ev.MembershipType),
		CustomerRef:     ev.CustomerRef,
		PriceRef:        ev.PriceRef,
	}
	if ev.PeriodStart != nil {
		params.PeriodStart = *ev.PeriodStart
	}
	if ev.PeriodEnd != nil {
		params.PeriodEnd = *ev.PeriodEnd
	}

	if ev.OwnerRef == "" {
		// Without an owning identity only an existing record can absorb
		// the event; a miss here needs the checkout path to land first.
		id, err := r.ApplyStatusUpdate(ctx, ev.SubscriptionRef, StatusPatch{
			Status:            StatusActive,
			PeriodStart:       ev.PeriodStart,
			PeriodEnd:         ev.PeriodEnd,
			CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		})
		if err != nil {
			return err
		}
		r.notify(ctx, ev.OwnerRef, "membership_activated", "Your membership is active.", id)
		return nil
	}

	id, err := r.Upsert(ctx, params)
	if err != nil {
		return err
	}
	r.notify(ctx, ev.OwnerRef, "membership_activated", "Your membership is active.", id)
	return nil
}

// notify enqueues a fire-and-forget notification; failures are logged and
// never fail the reconciliation.
func (r *Reconciler) notify(ctx context.Context, ownerRef, eventType, message string, relatedID uuid.UUID) {
	if ownerRef == "" {
		return
	}
	if err := r.notifier.Enqueue(ctx, ownerRef, eventType, message, relatedID.String()); err != nil {
		r.log.WarnContext(ctx, "failed to enqueue notification",
			logger.OwnerRef(ownerRef),
			logger.EventType(eventType),
			logger.Error(err))
	}
}

// mapProviderStatus translates a provider subscription status into the
// local closed set. Unknown statuses are not merged.
func mapProviderStatus(providerStatus string) (Status, bool) {
	switch providerStatus {
	case "active", "trialing", "past_due":
		return StatusActive, true
	case "canceled", "cancelled", "paused":
		return StatusCancelled, true
	case "expired":
		return StatusExpired, true
	}
	return "", false
}

func membershipTypeOrDefault(raw string) Type {
	if t := Type(raw); t.Valid() {
		return t
	}
	return TypeBasic
}
