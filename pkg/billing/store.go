package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore defines the narrow persistence interface for subscriptions.
//
// Implementations must back the one-billable-subscription-per-user invariant
// with a storage-level uniqueness guarantee (e.g. a partial unique index over
// user_id for trialing/active rows) and map its violation to
// ErrSubscriptionExists. The application-level check in Subscribe exists only
// to produce friendly errors; it is not race-free on its own.
type SubscriptionStore interface {
	// Create persists a new subscription.
	// Returns ErrSubscriptionExists when the user already holds a billable one.
	Create(ctx context.Context, sub *Subscription) error

	// Update persists changes to an existing subscription.
	Update(ctx context.Context, sub *Subscription) error

	// ByID returns a subscription by its ID.
	// Returns ErrSubscriptionNotFound when missing.
	ByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// ActiveByUser returns the user's trialing or active subscription.
	// Returns ErrSubscriptionNotFound when the user has none.
	ActiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// ByProviderSubID resolves a subscription via its gateway reference.
	ByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error)
}

// ProcessedEventStore tracks webhook event IDs that have already been applied
// so replayed deliveries no-op. MarkProcessed must be atomic: it returns true
// exactly once per event ID within the retention window. Events are marked
// only after their handler succeeds; a failed delivery stays unmarked so the
// processor's redelivery gets applied.
type ProcessedEventStore interface {
	// IsProcessed reports whether the event has already been applied.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (first bool, err error)
}
