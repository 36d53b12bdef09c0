package billing

import "context"

// Provider is the boundary to the external subscription-billing system.
// The provider is the source of truth for money movement and canonical
// period bounds; this module only mirrors its state.
//
// All calls are plain network operations outside any store transaction and
// must be safe to retry: cancel/resume/price updates are idempotent on the
// provider side, and inbound webhooks are guarded by the event ledger.
type Provider interface {
	// GetSubscription retrieves the canonical subscription object.
	GetSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error)

	// CancelAtPeriodEnd schedules the subscription to end at the close of
	// the current billing period. A no-op if already scheduled.
	CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error

	// Resume clears a scheduled cancellation or pause.
	Resume(ctx context.Context, subscriptionRef string) error

	// UpdatePrice moves the subscription to a different price.
	UpdatePrice(ctx context.Context, subscriptionRef, priceRef string) error

	// GetCheckoutSession retrieves a completed checkout session with its
	// subscription and line items expanded.
	GetCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSession, error)

	// ParseWebhook verifies the signature and normalizes the payload into
	// the closed event union. Provider-specific field names must not leak
	// past this call.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}
