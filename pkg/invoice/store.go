package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence interface for invoices.
type Store interface {
	Create(ctx context.Context, inv *Invoice) error
	Update(ctx context.Context, inv *Invoice) error

	// ByID returns an invoice by ID. Returns ErrInvoiceNotFound when missing.
	ByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// ByProviderID resolves an invoice via its gateway reference.
	ByProviderID(ctx context.Context, providerInvoiceID string) (*Invoice, error)

	// LatestOpenBySubscription returns the most recently created open invoice
	// for a subscription. Used to link gateway payment events that arrive
	// before the invoice carries its provider reference.
	LatestOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*Invoice, error)

	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Invoice, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Invoice, error)

	// DueForDunning returns invoices on the retry schedule whose next attempt
	// time has passed.
	DueForDunning(ctx context.Context, now time.Time) ([]Invoice, error)

	// NextSeq returns the next value of the invoice number sequence.
	// Must be race-free under concurrent invoice creation: a database
	// sequence, not a count of existing rows.
	NextSeq(ctx context.Context) (int64, error)
}

// AttemptStore defines the persistence interface for the append-only payment
// attempt log.
type AttemptStore interface {
	Append(ctx context.Context, attempt *PaymentAttempt) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]PaymentAttempt, error)
}

// DunningStarter schedules payment recovery for a failed invoice.
// Satisfied by the dunning scheduler; declared here so the invoice service
// does not depend on the dunning package.
type DunningStarter interface {
	Initiate(ctx context.Context, invoiceID uuid.UUID) error
}
