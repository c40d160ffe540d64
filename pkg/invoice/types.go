package invoice

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/plan"
)

// Status represents the current state of an invoice.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusOpen          Status = "open"
	StatusPaid          Status = "paid"
	StatusUncollectible Status = "uncollectible"
	StatusVoid          Status = "void"
)

// DunningStatus tracks where an invoice sits in the payment-recovery schedule.
type DunningStatus string

const (
	DunningNone   DunningStatus = "none"
	DunningFailed DunningStatus = "failed"
)

// DunningRetry returns the dunning status for the n-th retry (retry_1, retry_2, ...).
func DunningRetry(n int) DunningStatus {
	return DunningStatus(fmt.Sprintf("retry_%d", n))
}

// InRetry reports whether the invoice is on the retry schedule.
func (d DunningStatus) InRetry() bool {
	return d != DunningNone && d != DunningFailed && d != ""
}

// Retryable reports whether payment collection may still be attempted.
// Paid is terminal and void invoices are never collected; uncollectible
// invoices stay retryable for manual recovery.
func (s Status) Retryable() bool {
	return s == StatusOpen || s == StatusUncollectible
}

// OverageLine is one feature's over-limit usage priced into the invoice.
type OverageLine struct {
	Feature  plan.Feature `json:"feature"`
	Quantity int64        `json:"quantity"`  // units over the limit
	Rate     int64        `json:"rate"`      // minor units per excess unit
	Amount   int64        `json:"amount"`    // Quantity * Rate
}

// Invoice bills one subscription period: the plan price plus any overage.
// Paid invoices are immutable.
type Invoice struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	Number         string // human-readable, INV-{yyyymm}-{seq}
	Amount         int64  // plan price + overage, minor units
	Tax            int64  // flat 0; tax computation is out of scope
	Total          int64  // Amount + Tax
	Currency       string
	Overages       []OverageLine
	Status         Status
	PeriodStart    time.Time
	PeriodEnd      time.Time
	DueDate        time.Time
	PaidAt         *time.Time

	ProviderInvoiceID string // payment gateway's invoice/transaction reference
	ProviderPaymentID string // set when paid

	DunningStatus      DunningStatus
	DunningAttempts    int
	LastDunningAttempt *time.Time
	NextDunningAttempt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPaid reports whether the invoice has been collected.
func (i *Invoice) IsPaid() bool {
	return i.Status == StatusPaid
}

// AttemptStatus is the outcome of a single payment attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// PaymentAttempt is an append-only log entry for one payment try.
type PaymentAttempt struct {
	ID                uuid.UUID
	InvoiceID         uuid.UUID
	Amount            int64
	Status            AttemptStatus
	ErrorCode         string
	ErrorMessage      string
	ProviderPaymentID string
	AttemptedAt       time.Time
}
