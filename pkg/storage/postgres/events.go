package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedEventRepository implements billing.ProcessedEventStore on
// PostgreSQL. Alternative to the Redis-backed store for deployments without
// Redis.
type ProcessedEventRepository struct {
	pool *pgxpool.Pool
}

// NewProcessedEventRepository creates a ProcessedEventRepository.
func NewProcessedEventRepository(pool *pgxpool.Pool) *ProcessedEventRepository {
	return &ProcessedEventRepository{pool: pool}
}

// IsProcessed reports whether the event is recorded and still within its
// retention window.
func (r *ProcessedEventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_events
			WHERE event_id = $1 AND expires_at >= now()
		)`, eventID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// MarkProcessed records the event ID, returning true only for the first call
// within the retention window. Expired rows are purged opportunistically so
// the table does not grow without bound.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if _, err := r.pool.Exec(ctx, `DELETE FROM processed_events WHERE expires_at < now()`); err != nil {
		return false, err
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, time.Now().Add(ttl))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
