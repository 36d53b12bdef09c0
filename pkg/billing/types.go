package billing

import "time"

// Subscription is the provider's canonical subscription state, normalized.
// Period bounds are epoch millis; zero means the provider did not report
// them (possible on certain subscription states).
type Subscription struct {
	Ref               string
	CustomerRef       string
	PriceRef          string
	OwnerRef          string // internal owning identity carried in custom data
	Status            string
	PeriodStart       int64
	PeriodEnd         int64
	CancelAtPeriodEnd bool
	StartedAt         int64 // subscription start, falls back to creation time
}

// CheckoutSession is a completed checkout retrieved with its subscription
// and items expanded.
type CheckoutSession struct {
	Ref             string
	SubscriptionRef string
	CustomerRef     string
	PriceRef        string
	OwnerRef        string
	MembershipType  string
	PeriodStart     int64
	PeriodEnd       int64
}

// EventKind is the normalized billing event type. Provider implementations
// map their specific event names onto this closed set; anything outside it
// is dropped at the boundary.
type EventKind string

const (
	EventSubscriptionActivated EventKind = "subscription_activated"
	EventSubscriptionUpdated   EventKind = "subscription_updated"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventSubscriptionResumed   EventKind = "subscription_resumed"
	EventSubscriptionExpired   EventKind = "subscription_expired"
	EventPaymentFailed         EventKind = "payment_failed"
	EventIgnored               EventKind = "ignored"
)

// WebhookEvent is one provider webhook normalized for reconciliation.
// Optional fields are pointers: webhook payloads differ in which fields
// they carry, and the reconciler merges only what is present.
type WebhookEvent struct {
	EventID           string
	Kind              EventKind
	ProviderEvent     string // original provider event name, for the ledger
	OccurredAt        time.Time
	SubscriptionRef   string
	CustomerRef       string
	PriceRef          string
	OwnerRef          string
	MembershipType    string
	Status            string
	PeriodStart       *int64
	PeriodEnd         *int64
	CancelAtPeriodEnd *bool
}
