package membership

import "errors"

var (
	ErrMembershipNotFound       = errors.New("membership not found")
	ErrNoActiveMembership       = errors.New("no active membership for owner")
	ErrDuplicateSubscriptionRef = errors.New("subscription ref already mapped to another membership")

	ErrUnauthenticated = errors.New("caller identity is required")
	ErrUnauthorized    = errors.New("caller does not own this membership")
	ErrInvalidState    = errors.New("operation not valid for current membership state")
	ErrInvalidType     = errors.New("unknown membership type")

	// ErrWriteNotVerified means a local write did not read back as written.
	// Returned instead of silently reporting success on cancel.
	ErrWriteNotVerified = errors.New("membership write did not verify")

	// ErrProviderUnavailable wraps failures of the external billing provider.
	// Local state already written is never rolled back because of it.
	ErrProviderUnavailable = errors.New("billing provider call failed")

	ErrEventAlreadyProcessed = errors.New("webhook event already processed")
	ErrEventNotFound         = errors.New("webhook event not found")
)
