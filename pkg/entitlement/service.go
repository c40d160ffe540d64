package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/billing"
	"github.com/billflowhq/billflow/pkg/plan"
)

// Service defines the public interface for entitlement tracking and usage
// recording.
type Service interface {
	// Check resolves the user's current subscription and reports whether the
	// feature may be used. The read is non-locking; a concurrent increment
	// may race past the limit and is settled as overage at billing time.
	Check(ctx context.Context, userID uuid.UUID, feature plan.Feature) (CheckResult, error)

	// Enforce is the synchronous gate before a metered action. Denials are
	// typed: ErrNoActiveSubscription, ErrFeatureNotGranted, or a
	// *LimitExceededError carrying the usage snapshot.
	Enforce(ctx context.Context, userID uuid.UUID, feature plan.Feature) error

	// Record appends a usage event and atomically increments the matching
	// entitlement counter by the recorded quantity.
	Record(ctx context.Context, userID uuid.UUID, feature plan.Feature, quantity int64, unit string) error

	// Replace provisions a subscription's entitlements from a plan's limit
	// map, dropping any previous rows. In-period counters start at zero.
	Replace(ctx context.Context, subscriptionID uuid.UUID, limits map[plan.Feature]int64) error

	// ListForSubscription returns the subscription's entitlements.
	ListForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Entitlement, error)

	// ResetMonthly zeroes the subscription's monthly counters and advances
	// the reset window. Idempotent within a billing cycle.
	ResetMonthly(ctx context.Context, subscriptionID uuid.UUID) error

	// ResetAllDue sweeps every subscription whose reset window has passed.
	// Per-subscription failures are logged and do not abort the sweep.
	ResetAllDue(ctx context.Context) error

	// AggregateUsage sums recorded usage for a feature within a period.
	AggregateUsage(ctx context.Context, subscriptionID uuid.UUID, feature plan.Feature, start, end time.Time) (int64, error)
}

type service struct {
	store Store
	usage UsageStore
	subs  billing.SubscriptionStore
	log   *slog.Logger
	now   func() time.Time
}

// Option configures the entitlement service.
type Option func(*service)

// WithLogger sets the logger used by the service.
func WithLogger(log *slog.Logger) Option {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an entitlement Service.
// Panics if required dependencies are nil to fail fast during initialization.
func NewService(store Store, usage UsageStore, subs billing.SubscriptionStore, opts ...Option) Service {
	if store == nil {
		panic("entitlement: Store is required")
	}
	if usage == nil {
		panic("entitlement: UsageStore is required")
	}
	if subs == nil {
		panic("entitlement: SubscriptionStore is required")
	}

	s := &service{
		store: store,
		usage: usage,
		subs:  subs,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Check(ctx context.Context, userID uuid.UUID, feature plan.Feature) (CheckResult, error) {
	sub, err := s.subs.ActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return CheckResult{}, nil
		}
		return CheckResult{}, err
	}

	ent, err := s.store.Get(ctx, sub.ID, feature)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return CheckResult{}, nil
		}
		return CheckResult{}, err
	}

	res := CheckResult{
		Granted: true,
		Limit:   ent.Limit,
		Used:    ent.Used,
	}
	if ent.Unlimited() {
		res.Allowed = true
	} else {
		res.Allowed = ent.Used < ent.Limit
	}
	return res, nil
}

func (s *service) Enforce(ctx context.Context, userID uuid.UUID, feature plan.Feature) error {
	sub, err := s.subs.ActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return ErrNoActiveSubscription
		}
		return err
	}

	ent, err := s.store.Get(ctx, sub.ID, feature)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return ErrFeatureNotGranted
		}
		return err
	}

	if ent.Unlimited() || ent.Used < ent.Limit {
		return nil
	}

	return &LimitExceededError{Feature: feature, Used: ent.Used, Limit: ent.Limit}
}

func (s *service) Record(ctx context.Context, userID uuid.UUID, feature plan.Feature, quantity int64, unit string) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	sub, err := s.subs.ActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return ErrNoActiveSubscription
		}
		return err
	}

	// The entitlement must exist before any usage counts against it;
	// recording against an ungranted feature is a caller bug, not overage.
	if _, err := s.store.Get(ctx, sub.ID, feature); err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return ErrFeatureNotGranted
		}
		return err
	}

	rec := &UsageRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         userID,
		Feature:        feature,
		Quantity:       quantity,
		Unit:           unit,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		RecordedAt:     s.now().UTC(),
	}
	if err := s.usage.Append(ctx, rec); err != nil {
		return err
	}

	return s.store.IncrementUsed(ctx, sub.ID, feature, quantity)
}

func (s *service) Replace(ctx context.Context, subscriptionID uuid.UUID, limits map[plan.Feature]int64) error {
	now := s.now().UTC()
	next := now.AddDate(0, 1, 0)

	ents := make([]Entitlement, 0, len(limits))
	for feature, limit := range limits {
		e := Entitlement{
			SubscriptionID: subscriptionID,
			Feature:        feature,
			Limit:          limit,
			Used:           0,
			ResetPeriod:    ResetMonthly,
			LastResetAt:    now,
			NextResetAt:    &next,
		}
		ents = append(ents, e)
	}

	return s.store.Replace(ctx, subscriptionID, ents)
}

func (s *service) ListForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Entitlement, error) {
	return s.store.ListBySubscription(ctx, subscriptionID)
}

func (s *service) ResetMonthly(ctx context.Context, subscriptionID uuid.UUID) error {
	now := s.now().UTC()
	return s.store.ResetMonthly(ctx, subscriptionID, now, now.AddDate(0, 1, 0))
}

func (s *service) ResetAllDue(ctx context.Context) error {
	due, err := s.store.DueForReset(ctx, s.now().UTC())
	if err != nil {
		return err
	}

	for _, subID := range due {
		if err := s.ResetMonthly(ctx, subID); err != nil {
			// One subscription must not block the rest of the sweep.
			s.log.ErrorContext(ctx, "failed to reset entitlement usage",
				slog.String("subscription_id", subID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *service) AggregateUsage(ctx context.Context, subscriptionID uuid.UUID, feature plan.Feature, start, end time.Time) (int64, error) {
	return s.usage.TotalForPeriod(ctx, subscriptionID, feature, start, end)
}
