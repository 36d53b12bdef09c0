package membership

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of membership tiers sold by the gym.
type Type string

const (
	TypeBasic     Type = "basic"
	TypePremium   Type = "premium"
	TypeUnlimited Type = "unlimited"
)

// Valid reports whether t is a known membership tier.
func (t Type) Valid() bool {
	switch t {
	case TypeBasic, TypePremium, TypeUnlimited:
		return true
	}
	return false
}

// Status represents the lifecycle state of a membership.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Membership mirrors one provider subscription for one owning identity.
// Terminal states are cancelled and expired; records are never hard-deleted.
type Membership struct {
	ID                 uuid.UUID `bson:"_id" json:"id"`
	OwnerRef           string    `bson:"owner_ref" json:"owner_ref"`
	Type               Type      `bson:"type" json:"type"`
	Status             Status    `bson:"status" json:"status"`
	CustomerRef        string    `bson:"customer_ref" json:"customer_ref"`
	SubscriptionRef    string    `bson:"subscription_ref,omitempty" json:"subscription_ref,omitempty"`
	PriceRef           string    `bson:"price_ref" json:"price_ref"`
	CurrentPeriodStart int64     `bson:"current_period_start" json:"current_period_start"` // epoch millis
	CurrentPeriodEnd   int64     `bson:"current_period_end" json:"current_period_end"`     // epoch millis
	CancelAtPeriodEnd  bool      `bson:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updated_at"`
}

// IsActive returns true if the membership is currently active.
func (m *Membership) IsActive() bool {
	return m.Status == StatusActive
}

// PeriodValid reports whether both period bounds are set and ordered.
// A membership failing this check is in a repair-needed state and is
// picked up by the period repair sweep.
func (m *Membership) PeriodValid() bool {
	return m.CurrentPeriodStart > 0 && m.CurrentPeriodEnd > m.CurrentPeriodStart
}

// PeriodElapsedAt reports whether the paid period ended before now.
// Repair-needed records are never considered elapsed.
func (m *Membership) PeriodElapsedAt(now time.Time) bool {
	return m.PeriodValid() && m.CurrentPeriodEnd < now.UnixMilli()
}

// EventRecord is an append-only idempotency entry for one inbound provider
// event. Entries are created on first sight and never deleted so the ledger
// doubles as an audit trail and replay guard.
type EventRecord struct {
	EventID     string     `bson:"_id" json:"event_id"`
	EventType   string     `bson:"event_type" json:"event_type"`
	Processed   bool       `bson:"processed" json:"processed"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
}
