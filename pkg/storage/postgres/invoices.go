package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billflowhq/billflow/pkg/invoice"
	"github.com/billflowhq/billflow/pkg/pg"
)

// InvoiceRepository implements invoice.Store on PostgreSQL. Invoice numbers
// draw from a database sequence so concurrent creation cannot collide.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository creates an InvoiceRepository.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

const invoiceColumns = `id, subscription_id, user_id, number,
	amount, tax, total, currency, overages, status,
	period_start, period_end, due_date, paid_at,
	provider_invoice_id, provider_payment_id,
	dunning_status, dunning_attempts, last_dunning_attempt, next_dunning_attempt,
	created_at, updated_at`

func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	overages, err := json.Marshal(inv.Overages)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22)`,
		inv.ID, inv.SubscriptionID, inv.UserID, inv.Number,
		inv.Amount, inv.Tax, inv.Total, inv.Currency, overages, inv.Status,
		inv.PeriodStart, inv.PeriodEnd, inv.DueDate, inv.PaidAt,
		inv.ProviderInvoiceID, inv.ProviderPaymentID,
		inv.DunningStatus, inv.DunningAttempts, inv.LastDunningAttempt, inv.NextDunningAttempt,
		inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r *InvoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	overages, err := json.Marshal(inv.Overages)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices SET
			amount = $2, tax = $3, total = $4, overages = $5, status = $6,
			due_date = $7, paid_at = $8,
			provider_invoice_id = $9, provider_payment_id = $10,
			dunning_status = $11, dunning_attempts = $12,
			last_dunning_attempt = $13, next_dunning_attempt = $14,
			updated_at = $15
		WHERE id = $1`,
		inv.ID, inv.Amount, inv.Tax, inv.Total, overages, inv.Status,
		inv.DueDate, inv.PaidAt,
		inv.ProviderInvoiceID, inv.ProviderPaymentID,
		inv.DunningStatus, inv.DunningAttempts,
		inv.LastDunningAttempt, inv.NextDunningAttempt,
		inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return invoice.ErrInvoiceNotFound
	}
	return nil
}

func (r *InvoiceRepository) ByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

func (r *InvoiceRepository) ByProviderID(ctx context.Context, providerInvoiceID string) (*invoice.Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE provider_invoice_id = $1 AND provider_invoice_id <> ''`, providerInvoiceID)
	return scanInvoice(row)
}

func (r *InvoiceRepository) LatestOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*invoice.Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE subscription_id = $1 AND status = 'open'
		ORDER BY created_at DESC LIMIT 1`, subscriptionID)
	return scanInvoice(row)
}

func (r *InvoiceRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE subscription_id = $1 ORDER BY created_at`, subscriptionID)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *InvoiceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *InvoiceRepository) DueForDunning(ctx context.Context, now time.Time) ([]invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status IN ('open', 'uncollectible')
		  AND dunning_status LIKE 'retry_%'
		  AND next_dunning_attempt IS NOT NULL
		  AND next_dunning_attempt <= $1
		ORDER BY next_dunning_attempt`, now)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *InvoiceRepository) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq)
	return seq, err
}

func scanInvoice(row rowScanner) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	var overages []byte
	err := row.Scan(
		&inv.ID, &inv.SubscriptionID, &inv.UserID, &inv.Number,
		&inv.Amount, &inv.Tax, &inv.Total, &inv.Currency, &overages, &inv.Status,
		&inv.PeriodStart, &inv.PeriodEnd, &inv.DueDate, &inv.PaidAt,
		&inv.ProviderInvoiceID, &inv.ProviderPaymentID,
		&inv.DunningStatus, &inv.DunningAttempts, &inv.LastDunningAttempt, &inv.NextDunningAttempt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, invoice.ErrInvoiceNotFound
		}
		return nil, err
	}
	if len(overages) > 0 {
		if err := json.Unmarshal(overages, &inv.Overages); err != nil {
			return nil, err
		}
	}
	return &inv, nil
}

func collectInvoices(rows pgx.Rows) ([]invoice.Invoice, error) {
	defer rows.Close()

	var out []invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}
