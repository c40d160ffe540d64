package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billflowhq/billflow/pkg/billing"
	"github.com/billflowhq/billflow/pkg/pg"
)

// SubscriptionRepository implements billing.SubscriptionStore on PostgreSQL.
// The one-billable-subscription-per-user invariant is enforced by a partial
// unique index over user_id for trialing/active rows.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a SubscriptionRepository.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

const subscriptionColumns = `id, user_id, plan_name, status,
	current_period_start, current_period_end, trial_start, trial_end,
	cancel_at_period_end, cancel_at, canceled_at,
	provider_customer_id, provider_sub_id, created_at, updated_at`

func (r *SubscriptionRepository) Create(ctx context.Context, sub *billing.Subscription) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, sub.UserID, sub.PlanName, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CancelAt, sub.CanceledAt,
		sub.ProviderCustomerID, sub.ProviderSubID, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return billing.ErrSubscriptionExists
		}
		return err
	}
	return nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, sub *billing.Subscription) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subscriptions SET
			plan_name = $2, status = $3,
			current_period_start = $4, current_period_end = $5,
			trial_start = $6, trial_end = $7,
			cancel_at_period_end = $8, cancel_at = $9, canceled_at = $10,
			provider_customer_id = $11, provider_sub_id = $12, updated_at = $13
		WHERE id = $1`,
		sub.ID, sub.PlanName, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CancelAt, sub.CanceledAt,
		sub.ProviderCustomerID, sub.ProviderSubID, sub.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

func (r *SubscriptionRepository) ByID(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (r *SubscriptionRepository) ActiveByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status IN ('trialing', 'active')`, userID)
	return scanSubscription(row)
}

func (r *SubscriptionRepository) ByProviderSubID(ctx context.Context, providerSubID string) (*billing.Subscription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE provider_sub_id = $1 AND provider_sub_id <> ''`, providerSubID)
	return scanSubscription(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanName, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialStart, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CancelAt, &sub.CanceledAt,
		&sub.ProviderCustomerID, &sub.ProviderSubID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}
