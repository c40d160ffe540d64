package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySubscriptionStore is an in-memory SubscriptionStore for tests and
// local development. It enforces the same one-billable-subscription-per-user
// guarantee a Postgres partial unique index provides.
type MemorySubscriptionStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*Subscription
	byProvider map[string]uuid.UUID
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		byID:       make(map[uuid.UUID]*Subscription),
		byProvider: make(map[string]uuid.UUID),
	}
}

func (m *MemorySubscriptionStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.Status.Billable() {
		for _, existing := range m.byID {
			if existing.UserID == sub.UserID && existing.Status.Billable() {
				return ErrSubscriptionExists
			}
		}
	}

	cp := *sub
	m.byID[sub.ID] = &cp
	if sub.ProviderSubID != "" {
		m.byProvider[sub.ProviderSubID] = sub.ID
	}
	return nil
}

func (m *MemorySubscriptionStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}

	cp := *sub
	m.byID[sub.ID] = &cp
	if sub.ProviderSubID != "" {
		m.byProvider[sub.ProviderSubID] = sub.ID
	}
	return nil
}

func (m *MemorySubscriptionStore) ByID(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.byID[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemorySubscriptionStore) ActiveByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.byID {
		if sub.UserID == userID && sub.Status.Billable() {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemorySubscriptionStore) ByProviderSubID(_ context.Context, providerSubID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byProvider[providerSubID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

// MemoryEventStore is an in-memory ProcessedEventStore for tests.
type MemoryEventStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{seen: make(map[string]time.Time)}
}

func (m *MemoryEventStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires, ok := m.seen[eventID]
	return ok && expires.After(time.Now()), nil
}

func (m *MemoryEventStore) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if expires, ok := m.seen[eventID]; ok && expires.After(now) {
		return false, nil
	}
	m.seen[eventID] = now.Add(ttl)
	return true, nil
}
