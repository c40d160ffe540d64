package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billflowhq/billflow/pkg/entitlement"
	"github.com/billflowhq/billflow/pkg/plan"
)

// UsageRepository implements entitlement.UsageStore on PostgreSQL.
// Rows are append-only; nothing updates or deletes them.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository creates a UsageRepository.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

func (r *UsageRepository) Append(ctx context.Context, rec *entitlement.UsageRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_records (id, subscription_id, user_id, feature,
			quantity, unit, period_start, period_end, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.SubscriptionID, rec.UserID, rec.Feature,
		rec.Quantity, rec.Unit, rec.PeriodStart, rec.PeriodEnd, rec.RecordedAt)
	return err
}

func (r *UsageRepository) TotalForPeriod(ctx context.Context, subscriptionID uuid.UUID, feature plan.Feature, start, end time.Time) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM usage_records
		WHERE subscription_id = $1 AND feature = $2
		  AND recorded_at >= $3 AND recorded_at < $4`,
		subscriptionID, feature, start, end).Scan(&total)
	return total, err
}

func (r *UsageRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, start, end time.Time) ([]entitlement.UsageRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subscription_id, user_id, feature, quantity, unit,
			period_start, period_end, recorded_at
		FROM usage_records
		WHERE subscription_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at`, subscriptionID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entitlement.UsageRecord
	for rows.Next() {
		var rec entitlement.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.SubscriptionID, &rec.UserID, &rec.Feature,
			&rec.Quantity, &rec.Unit, &rec.PeriodStart, &rec.PeriodEnd, &rec.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
