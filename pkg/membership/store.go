package membership

import (
	"context"

	"github.com/google/uuid"
)

// Store defines membership persistence. Every mutation is a single atomic
// operation against the underlying document store; multi-record invariants
// (single active per owner) are enforced by the write path and the
// maintenance sweeps, not by the store itself.
type Store interface {
	// GetByID retrieves a membership by its internal id.
	// Returns ErrMembershipNotFound if no membership exists.
	GetByID(ctx context.Context, id uuid.UUID) (*Membership, error)

	// GetBySubscriptionRef retrieves the membership mapped to a provider
	// subscription. Returns ErrMembershipNotFound if unmatched.
	GetBySubscriptionRef(ctx context.Context, subscriptionRef string) (*Membership, error)

	// ListByOwner returns all memberships for an owning identity,
	// newest first.
	ListByOwner(ctx context.Context, ownerRef string) ([]*Membership, error)

	// ListByStatus returns all memberships in the given status.
	ListByStatus(ctx context.Context, status Status) ([]*Membership, error)

	// ListRepairNeeded returns memberships whose period bounds are unset
	// or inverted.
	ListRepairNeeded(ctx context.Context) ([]*Membership, error)

	// ListSubscriptionRefs returns every non-empty subscription ref in the
	// store. Used for diagnostics when a webhook outruns the local upsert.
	ListSubscriptionRefs(ctx context.Context) ([]string, error)

	// Insert creates a new membership record.
	Insert(ctx context.Context, m *Membership) error

	// Update replaces an existing membership record by id.
	// Returns ErrMembershipNotFound if the record disappeared.
	Update(ctx context.Context, m *Membership) error
}

// EventLedger is the append-only idempotency record for inbound provider
// events. Entries are created before any side effect of the event runs and
// are never deleted.
type EventLedger interface {
	// Get retrieves a ledger entry. Returns ErrEventNotFound if the event
	// has not been seen.
	Get(ctx context.Context, eventID string) (*EventRecord, error)

	// Record stores a first-sight entry for an event. Recording an event
	// that is already marked processed returns ErrEventAlreadyProcessed;
	// re-recording a failed event resets its error for another attempt.
	Record(ctx context.Context, eventID, eventType string) error

	// MarkProcessed flags the event as successfully applied.
	MarkProcessed(ctx context.Context, eventID string) error

	// MarkFailed stores the failure reason so operators can re-drive
	// the event.
	MarkFailed(ctx context.Context, eventID string, reason string) error
}
