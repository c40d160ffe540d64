package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billflowhq/billflow/pkg/invoice"
)

// AttemptRepository implements invoice.AttemptStore on PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates an AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) Append(ctx context.Context, attempt *invoice.PaymentAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_attempts (id, invoice_id, amount, status,
			error_code, error_message, provider_payment_id, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		attempt.ID, attempt.InvoiceID, attempt.Amount, attempt.Status,
		attempt.ErrorCode, attempt.ErrorMessage, attempt.ProviderPaymentID, attempt.AttemptedAt)
	return err
}

func (r *AttemptRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]invoice.PaymentAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, amount, status, error_code, error_message,
			provider_payment_id, attempted_at
		FROM payment_attempts
		WHERE invoice_id = $1 ORDER BY attempted_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invoice.PaymentAttempt
	for rows.Next() {
		var a invoice.PaymentAttempt
		if err := rows.Scan(&a.ID, &a.InvoiceID, &a.Amount, &a.Status,
			&a.ErrorCode, &a.ErrorMessage, &a.ProviderPaymentID, &a.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
