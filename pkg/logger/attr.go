package logger

import "log/slog"

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// MembershipID records the internal membership identifier.
func MembershipID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("membership_id", id)
}

// SubscriptionRef records the provider's subscription identifier.
func SubscriptionRef(ref string) slog.Attr {
	return slog.String("subscription_ref", ref)
}

// OwnerRef records the owning identity.
func OwnerRef(ref string) slog.Attr {
	return slog.String("owner_ref", ref)
}

// EventID records the provider webhook event identifier.
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// EventType records the event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// TaskName records a queue task name.
func TaskName(name string) slog.Attr {
	return slog.String("task_name", name)
}

// Count records a result count for batch sweeps.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}
