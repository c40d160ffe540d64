package invoice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*Invoice
	byProvider map[string]uuid.UUID
	seq        int64
}

// NewMemoryStore creates an empty in-memory invoice store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[uuid.UUID]*Invoice),
		byProvider: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Create(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneInvoice(inv)
	s.byID[cp.ID] = cp
	if cp.ProviderInvoiceID != "" {
		s.byProvider[cp.ProviderInvoiceID] = cp.ID
	}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[inv.ID]
	if !ok {
		return ErrInvoiceNotFound
	}
	if old.ProviderInvoiceID != "" && old.ProviderInvoiceID != inv.ProviderInvoiceID {
		delete(s.byProvider, old.ProviderInvoiceID)
	}

	cp := cloneInvoice(inv)
	s.byID[cp.ID] = cp
	if cp.ProviderInvoiceID != "" {
		s.byProvider[cp.ProviderInvoiceID] = cp.ID
	}
	return nil
}

func (s *MemoryStore) ByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.byID[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *MemoryStore) ByProviderID(_ context.Context, providerInvoiceID string) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProvider[providerInvoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return cloneInvoice(s.byID[id]), nil
}

func (s *MemoryStore) LatestOpenBySubscription(_ context.Context, subscriptionID uuid.UUID) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Invoice
	for _, inv := range s.byID {
		if inv.SubscriptionID != subscriptionID || inv.Status != StatusOpen {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, ErrInvoiceNotFound
	}
	return cloneInvoice(latest), nil
}

func (s *MemoryStore) ListBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Invoice
	for _, inv := range s.byID {
		if inv.SubscriptionID == subscriptionID {
			out = append(out, *cloneInvoice(inv))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID) ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Invoice
	for _, inv := range s.byID {
		if inv.UserID == userID {
			out = append(out, *cloneInvoice(inv))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) DueForDunning(_ context.Context, now time.Time) ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Invoice
	for _, inv := range s.byID {
		if !inv.Status.Retryable() || !inv.DunningStatus.InRetry() {
			continue
		}
		if inv.NextDunningAttempt != nil && !inv.NextDunningAttempt.After(now) {
			out = append(out, *cloneInvoice(inv))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) NextSeq(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	return s.seq, nil
}

func cloneInvoice(inv *Invoice) *Invoice {
	cp := *inv
	cp.Overages = append([]OverageLine(nil), inv.Overages...)
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		cp.PaidAt = &t
	}
	if inv.LastDunningAttempt != nil {
		t := *inv.LastDunningAttempt
		cp.LastDunningAttempt = &t
	}
	if inv.NextDunningAttempt != nil {
		t := *inv.NextDunningAttempt
		cp.NextDunningAttempt = &t
	}
	return &cp
}

func sortByCreated(invs []Invoice) {
	sort.Slice(invs, func(i, j int) bool {
		return invs[i].CreatedAt.Before(invs[j].CreatedAt)
	})
}

// MemoryAttemptStore is an in-memory AttemptStore for tests.
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts []PaymentAttempt
}

// NewMemoryAttemptStore creates an empty in-memory attempt log.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{}
}

func (s *MemoryAttemptStore) Append(_ context.Context, attempt *PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, *attempt)
	return nil
}

func (s *MemoryAttemptStore) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PaymentAttempt
	for _, a := range s.attempts {
		if a.InvoiceID == invoiceID {
			out = append(out, a)
		}
	}
	return out, nil
}
