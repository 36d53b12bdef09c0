package membership

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore implements Store in memory for tests and local development.
// Mutations hold a single mutex, matching the one-atomic-mutation contract
// of the document-store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*Membership
	bySub   map[string]uuid.UUID
	byOwner map[string][]uuid.UUID
}

// NewMemoryStore creates an empty in-memory membership store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]*Membership),
		bySub:   make(map[string]uuid.UUID),
		byOwner: make(map[string][]uuid.UUID),
	}
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetBySubscriptionRef(ctx context.Context, subscriptionRef string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if subscriptionRef == "" {
		return nil, ErrMembershipNotFound
	}
	id, ok := s.bySub[subscriptionRef]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerRef string) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[ownerRef]
	out := make([]*Membership, 0, len(ids))
	for _, id := range ids {
		cp := *s.byID[id]
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *Membership) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Membership
	for _, m := range s.byID {
		if m.Status == status {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRepairNeeded(ctx context.Context) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Membership
	for _, m := range s.byID {
		if !m.PeriodValid() {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListSubscriptionRefs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.bySub))
	for ref := range s.bySub {
		out = append(out, ref)
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[m.ID]; exists {
		return ErrDuplicateSubscriptionRef
	}
	if m.SubscriptionRef != "" {
		if _, exists := s.bySub[m.SubscriptionRef]; exists {
			return ErrDuplicateSubscriptionRef
		}
	}

	cp := *m
	s.byID[m.ID] = &cp
	s.byOwner[m.OwnerRef] = append(s.byOwner[m.OwnerRef], m.ID)
	if m.SubscriptionRef != "" {
		s.bySub[m.SubscriptionRef] = m.ID
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.byID[m.ID]
	if !exists {
		return ErrMembershipNotFound
	}
	if m.SubscriptionRef != prev.SubscriptionRef {
		if m.SubscriptionRef != "" {
			if other, taken := s.bySub[m.SubscriptionRef]; taken && other != m.ID {
				return ErrDuplicateSubscriptionRef
			}
		}
		delete(s.bySub, prev.SubscriptionRef)
		if m.SubscriptionRef != "" {
			s.bySub[m.SubscriptionRef] = m.ID
		}
	}

	cp := *m
	s.byID[m.ID] = &cp
	return nil
}
