package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/plan"
)

type entKey struct {
	sub     uuid.UUID
	feature plan.Feature
}

// MemoryStore is an in-memory Store for tests and local development.
// Increments happen under the store mutex, matching the atomicity the
// Postgres implementation gets from UPDATE ... SET used = used + $1.
type MemoryStore struct {
	mu   sync.RWMutex
	ents map[entKey]*Entitlement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ents: make(map[entKey]*Entitlement)}
}

func (m *MemoryStore) Get(_ context.Context, subscriptionID uuid.UUID, feature plan.Feature) (*Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.ents[entKey{subscriptionID, feature}]
	if !ok {
		return nil, ErrEntitlementNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ListBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entitlement
	for key, e := range m.ents {
		if key.sub == subscriptionID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Replace(_ context.Context, subscriptionID uuid.UUID, entitlements []Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.ents {
		if key.sub == subscriptionID {
			delete(m.ents, key)
		}
	}
	for _, e := range entitlements {
		cp := e
		m.ents[entKey{e.SubscriptionID, e.Feature}] = &cp
	}
	return nil
}

func (m *MemoryStore) IncrementUsed(_ context.Context, subscriptionID uuid.UUID, feature plan.Feature, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.ents[entKey{subscriptionID, feature}]
	if !ok {
		return ErrEntitlementNotFound
	}
	e.Used += delta
	return nil
}

func (m *MemoryStore) ResetMonthly(_ context.Context, subscriptionID uuid.UUID, now, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.ents {
		if key.sub == subscriptionID && e.ResetPeriod == ResetMonthly {
			e.Used = 0
			e.LastResetAt = now
			n := next
			e.NextResetAt = &n
		}
	}
	return nil
}

func (m *MemoryStore) DueForReset(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for key, e := range m.ents {
		if e.ResetPeriod != ResetMonthly || e.NextResetAt == nil || e.NextResetAt.After(now) {
			continue
		}
		if _, ok := seen[key.sub]; ok {
			continue
		}
		seen[key.sub] = struct{}{}
		out = append(out, key.sub)
	}
	return out, nil
}

// MemoryUsageStore is an in-memory append-only usage log for tests.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	records []UsageRecord
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (m *MemoryUsageStore) Append(_ context.Context, rec *UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *MemoryUsageStore) TotalForPeriod(_ context.Context, subscriptionID uuid.UUID, feature plan.Feature, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, rec := range m.records {
		if rec.SubscriptionID == subscriptionID && rec.Feature == feature &&
			!rec.RecordedAt.Before(start) && rec.RecordedAt.Before(end) {
			total += rec.Quantity
		}
	}
	return total, nil
}

func (m *MemoryUsageStore) ListBySubscription(_ context.Context, subscriptionID uuid.UUID, start, end time.Time) ([]UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []UsageRecord
	for _, rec := range m.records {
		if rec.SubscriptionID == subscriptionID &&
			!rec.RecordedAt.Before(start) && rec.RecordedAt.Before(end) {
			out = append(out, rec)
		}
	}
	return out, nil
}
