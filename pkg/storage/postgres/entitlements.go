package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billflowhq/billflow/pkg/entitlement"
	"github.com/billflowhq/billflow/pkg/pg"
	"github.com/billflowhq/billflow/pkg/plan"
)

// EntitlementRepository implements entitlement.Store on PostgreSQL.
type EntitlementRepository struct {
	pool *pgxpool.Pool
}

// NewEntitlementRepository creates an EntitlementRepository.
func NewEntitlementRepository(pool *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{pool: pool}
}

const entitlementColumns = `subscription_id, feature, usage_limit, used,
	reset_period, last_reset_at, next_reset_at`

func (r *EntitlementRepository) Get(ctx context.Context, subscriptionID uuid.UUID, feature plan.Feature) (*entitlement.Entitlement, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entitlementColumns+` FROM entitlements
		WHERE subscription_id = $1 AND feature = $2`, subscriptionID, feature)

	var e entitlement.Entitlement
	err := row.Scan(&e.SubscriptionID, &e.Feature, &e.Limit, &e.Used,
		&e.ResetPeriod, &e.LastResetAt, &e.NextResetAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, entitlement.ErrEntitlementNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *EntitlementRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]entitlement.Entitlement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entitlementColumns+` FROM entitlements
		WHERE subscription_id = $1 ORDER BY feature`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entitlement.Entitlement
	for rows.Next() {
		var e entitlement.Entitlement
		if err := rows.Scan(&e.SubscriptionID, &e.Feature, &e.Limit, &e.Used,
			&e.ResetPeriod, &e.LastResetAt, &e.NextResetAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Replace swaps the subscription's entitlement rows inside one transaction so
// readers never observe a partial set.
func (r *EntitlementRepository) Replace(ctx context.Context, subscriptionID uuid.UUID, entitlements []entitlement.Entitlement) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM entitlements WHERE subscription_id = $1`, subscriptionID); err != nil {
			return err
		}
		for _, e := range entitlements {
			_, err := tx.Exec(ctx, `
				INSERT INTO entitlements (`+entitlementColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				subscriptionID, e.Feature, e.Limit, e.Used,
				e.ResetPeriod, e.LastResetAt, e.NextResetAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// IncrementUsed relies on the database to serialize the add. No prior read,
// so concurrent increments all land.
func (r *EntitlementRepository) IncrementUsed(ctx context.Context, subscriptionID uuid.UUID, feature plan.Feature, delta int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE entitlements SET used = used + $3
		WHERE subscription_id = $1 AND feature = $2`, subscriptionID, feature, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrEntitlementNotFound
	}
	return nil
}

func (r *EntitlementRepository) ResetMonthly(ctx context.Context, subscriptionID uuid.UUID, now, next time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE entitlements SET used = 0, last_reset_at = $2, next_reset_at = $3
		WHERE subscription_id = $1 AND reset_period = 'monthly'`, subscriptionID, now, next)
	return err
}

func (r *EntitlementRepository) DueForReset(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT subscription_id FROM entitlements
		WHERE reset_period = 'monthly' AND next_reset_at IS NOT NULL AND next_reset_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
