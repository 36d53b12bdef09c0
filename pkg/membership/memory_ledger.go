package membership

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger implements EventLedger in memory for tests and local
// development.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*EventRecord
}

// NewMemoryLedger creates an empty in-memory event ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*EventRecord)}
}

func (l *MemoryLedger) Get(ctx context.Context, eventID string) (*EventRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.entries[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *rec
	return &cp, nil
}

func (l *MemoryLedger) Record(ctx context.Context, eventID, eventType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.entries[eventID]; ok {
		if rec.Processed {
			return ErrEventAlreadyProcessed
		}
		// Retrying a previously failed event: clear the error for this
		// attempt, keep the original first-sight timestamp.
		rec.Error = ""
		return nil
	}

	l.entries[eventID] = &EventRecord{
		EventID:   eventID,
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (l *MemoryLedger) MarkProcessed(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.entries[eventID]
	if !ok {
		return ErrEventNotFound
	}
	now := time.Now().UTC()
	rec.Processed = true
	rec.ProcessedAt = &now
	rec.Error = ""
	return nil
}

func (l *MemoryLedger) MarkFailed(ctx context.Context, eventID string, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.entries[eventID]
	if !ok {
		return ErrEventNotFound
	}
	rec.Error = reason
	return nil
}
