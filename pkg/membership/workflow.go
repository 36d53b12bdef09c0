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
	"github.com/fitforge/membership/pkg/queue"
)

// Workflow drives user-initiated membership changes: cancel, resume, tier
// change and checkout confirmation. Local writes come first wherever
// possible; provider follow-through is deferred onto the task queue and
// re-confirmed by the next inbound webhook.
type Workflow struct {
	store      Store
	provider   billing.Provider
	reconciler *Reconciler
	enqueuer   *queue.Enqueuer
	notifier   Notifier
	log        *slog.Logger
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithWorkflowLogger sets the logger for the Workflow.
func WithWorkflowLogger(log *slog.Logger) WorkflowOption {
	return func(w *Workflow) {
		if log != nil {
			w.log = log
		}
	}
}

// WithWorkflowNotifier sets the fire-and-forget notification dispatcher.
func WithWorkflowNotifier(n Notifier) WorkflowOption {
	return func(w *Workflow) {
		if n != nil {
			w.notifier = n
		}
	}
}

// NewWorkflow creates a cancellation workflow. Panics if a required
// dependency is nil to fail fast during initialization.
func NewWorkflow(store Store, provider billing.Provider, reconciler *Reconciler, enqueuer *queue.Enqueuer, opts ...WorkflowOption) *Workflow {
	if store == nil {
		panic("membership: Store is required")
	}
	if provider == nil {
		panic("membership: billing.Provider is required")
	}
	if reconciler == nil {
		panic("membership: Reconciler is required")
	}
	if enqueuer == nil {
		panic("membership: queue.Enqueuer is required")
	}

	w := &Workflow{
		store:      store,
		provider:   provider,
		reconciler: reconciler,
		enqueuer:   enqueuer,
		notifier:   NoopNotifier{},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CancelSubscriptionTask is the deferred provider-side cancel. Scheduling a
// cancel-at-period-end twice is a provider no-op, so at-least-once delivery
// is safe.
type CancelSubscriptionTask struct {
	MembershipID    uuid.UUID `json:"membership_id"`
	SubscriptionRef string    `json:"subscription_ref"`
}

// Cancel flags the owner's active membership to end at the close of the
// current period.
//
// The local flag is written and then verified by a re-read before the call
// returns; the store is the source of truth for the UI, so an unverified
// write fails loudly rather than silently reporting success. The provider
// cancel is enqueued fire-and-forget afterwards.
func (w *Workflow) Cancel(ctx context.Context, ownerRef string) (*Membership, error) {
	if ownerRef == "" {
		return nil, ErrUnauthenticated
	}

	owned, err := w.store.ListByOwner(ctx, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships for owner: %w", err)
	}

	var active *Membership
	for _, m := range owned {
		if m.IsActive() {
			active = m
			break
		}
	}
	if active == nil {
		return nil, ErrNoActiveMembership
	}

	active.CancelAtPeriodEnd = true
	active.UpdatedAt = time.Now().UTC()
	if err := w.store.Update(ctx, active); err != nil {
		return nil, fmt.Errorf("failed to flag membership for cancellation: %w", err)
	}

	// Guard against read-your-own-write anomalies in the underlying store.
	verified, err := w.store.GetByID(ctx, active.ID)
	if err != nil {
		return nil, errors.Join(ErrWriteNotVerified, err)
	}
	if !verified.CancelAtPeriodEnd {
		return nil, ErrWriteNotVerified
	}

	if active.SubscriptionRef != "" {
		task := CancelSubscriptionTask{
			MembershipID:    active.ID,
			SubscriptionRef: active.SubscriptionRef,
		}
		if err := w.enqueuer.Enqueue(ctx, task); err != nil {
			// The local flag is durable and user-visible; the provider
			// side converges through the next webhook or sweep.
			w.log.ErrorContext(ctx, "failed to enqueue provider cancellation",
				logger.MembershipID(active.ID),
				logger.SubscriptionRef(active.SubscriptionRef),
				logger.Error(err))
		}
	}

	w.log.InfoContext(ctx, "membership cancellation scheduled",
		logger.MembershipID(active.ID),
		logger.OwnerRef(ownerRef),
		logger.SubscriptionRef(active.SubscriptionRef))
	w.notify(ctx, ownerRef, "membership_cancel_scheduled",
		"Your membership will end at the close of the current period.", verified.ID)

	return verified, nil
}

// Resume clears a scheduled cancellation, provider first and then locally.
func (w *Workflow) Resume(ctx context.Context, callerRef string, membershipID uuid.UUID) error {
	m, err := w.authorize(ctx, callerRef, membershipID)
	if err != nil {
		return err
	}
	if m.SubscriptionRef == "" {
		// Manually created records have nothing to resume at the provider.
		return fmt.Errorf("%w: membership has no provider subscription", ErrInvalidState)
	}

	if err := w.provider.Resume(ctx, m.SubscriptionRef); err != nil {
		w.log.ErrorContext(ctx, "provider resume failed",
			logger.MembershipID(m.ID),
			logger.SubscriptionRef(m.SubscriptionRef),
			logger.Error(err))
		return errors.Join(ErrProviderUnavailable, err)
	}

	m.Status = StatusActive
	m.CancelAtPeriodEnd = false
	m.UpdatedAt = time.Now().UTC()
	if err := w.store.Update(ctx, m); err != nil {
		return fmt.Errorf("failed to resume membership locally: %w", err)
	}

	w.log.InfoContext(ctx, "membership resumed",
		logger.MembershipID(m.ID),
		logger.SubscriptionRef(m.SubscriptionRef))
	w.notify(ctx, m.OwnerRef, "membership_resumed", "Your membership is active again.", m.ID)
	return nil
}

// ChangeTier moves the membership onto a different tier and price.
//
// This is the one workflow that blocks on a provider call before the
// confirming local write. A crash between the two leaves the local record
// stale until the provider's subscription.updated webhook reconciles it; a
// bounded divergence the design accepts.
func (w *Workflow) ChangeTier(ctx context.Context, callerRef string, membershipID uuid.UUID, newType Type, newPriceRef string) error {
	if !newType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, newType)
	}

	m, err := w.authorize(ctx, callerRef, membershipID)
	if err != nil {
		return err
	}
	if m.SubscriptionRef == "" {
		return fmt.Errorf("%w: membership has no provider subscription", ErrInvalidState)
	}

	if err := w.provider.UpdatePrice(ctx, m.SubscriptionRef, newPriceRef); err != nil {
		w.log.ErrorContext(ctx, "provider price update failed",
			logger.MembershipID(m.ID),
			logger.SubscriptionRef(m.SubscriptionRef),
			logger.Error(err))
		return errors.Join(ErrProviderUnavailable, err)
	}

	m.Type = newType
	m.PriceRef = newPriceRef
	m.UpdatedAt = time.Now().UTC()
	if err := w.store.Update(ctx, m); err != nil {
		return fmt.Errorf("failed to update membership tier locally: %w", err)
	}

	w.log.InfoContext(ctx, "membership tier changed",
		logger.MembershipID(m.ID),
		logger.SubscriptionRef(m.SubscriptionRef),
		slog.String("type", string(newType)))
	w.notify(ctx, m.OwnerRef, "membership_tier_changed", "Your membership tier was updated.", m.ID)
	return nil
}

// ConfirmCheckout retrieves a completed checkout session from the provider
// and activates the membership through the standard upsert. This is the
// direct creation path; the first subscription webhook for the same ref is
// absorbed as an in-place refresh.
func (w *Workflow) ConfirmCheckout(ctx context.Context, ownerRef, sessionRef string) (uuid.UUID, error) {
	if ownerRef == "" {
		return uuid.Nil, ErrUnauthenticated
	}

	session, err := w.provider.GetCheckoutSession(ctx, sessionRef)
	if err != nil {
		return uuid.Nil, errors.Join(ErrProviderUnavailable, err)
	}
	if session.OwnerRef != "" && session.OwnerRef != ownerRef {
		return uuid.Nil, ErrUnauthorized
	}

	id, err := w.reconciler.Upsert(ctx, UpsertParams{
		OwnerRef:        ownerRef,
		SubscriptionRef: session.SubscriptionRef,
		Type:            membershipTypeOrDefault(session.MembershipType),
		CustomerRef:     session.CustomerRef,
		PriceRef:        session.PriceRef,
		PeriodStart:     session.PeriodStart,
		PeriodEnd:       session.PeriodEnd,
	})
	if err != nil {
		return uuid.Nil, err
	}

	w.notify(ctx, ownerRef, "membership_activated", "Welcome aboard, your membership is active.", id)
	return id, nil
}

func (w *Workflow) authorize(ctx context.Context, callerRef string, membershipID uuid.UUID) (*Membership, error) {
	if callerRef == "" {
		return nil, ErrUnauthenticated
	}
	m, err := w.store.GetByID(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if m.OwnerRef != callerRef {
		return nil, ErrUnauthorized
	}
	return m, nil
}

func (w *Workflow) notify(ctx context.Context, ownerRef, eventType, message string, relatedID uuid.UUID) {
	if err := w.notifier.Enqueue(ctx, ownerRef, eventType, message, relatedID.String()); err != nil {
		w.log.WarnContext(ctx, "failed to enqueue notification",
			logger.OwnerRef(ownerRef),
			logger.EventType(eventType),
			logger.Error(err))
	}
}
