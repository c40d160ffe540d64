package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/plan"
)

// Store defines the persistence interface for entitlements.
type Store interface {
	// Get returns the entitlement for a feature on a subscription.
	// Returns ErrEntitlementNotFound when the feature is not granted.
	Get(ctx context.Context, subscriptionID uuid.UUID, feature plan.Feature) (*Entitlement, error)

	// ListBySubscription returns all entitlements for a subscription.
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Entitlement, error)

	// Replace atomically swaps a subscription's entitlement rows for the
	// given set. Used on provisioning and plan changes.
	Replace(ctx context.Context, subscriptionID uuid.UUID, entitlements []Entitlement) error

	// IncrementUsed adds delta to the used counter with an atomic in-place
	// update (used = used + delta). Implementations must not read the row
	// first; that pattern loses updates under concurrent writers.
	IncrementUsed(ctx context.Context, subscriptionID uuid.UUID, feature plan.Feature, delta int64) error

	// ResetMonthly zeroes used for the subscription's monthly entitlements
	// and advances the reset window.
	ResetMonthly(ctx context.Context, subscriptionID uuid.UUID, now, next time.Time) error

	// DueForReset returns subscription IDs holding monthly entitlements whose
	// next reset time has passed.
	DueForReset(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// UsageStore defines the persistence interface for the append-only usage log.
type UsageStore interface {
	Append(ctx context.Context, rec *UsageRecord) error

	// TotalForPeriod sums recorded quantities for a feature within a period.
	TotalForPeriod(ctx context.Context, subscriptionID uuid.UUID, feature plan.Feature, start, end time.Time) (int64, error)

	// ListBySubscription returns usage events recorded within a period.
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, start, end time.Time) ([]UsageRecord, error)
}
