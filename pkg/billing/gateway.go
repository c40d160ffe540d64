package billing

import (
	"context"

	"github.com/google/uuid"
)

// PaymentGateway defines the collaborator contract with the external payment
// processor. Implementations use the processor's official SDK and normalize
// failures into *GatewayError so the engine stays processor-agnostic.
//
// Gateway calls are the only network-bound operations in the engine; callers
// must not hold in-process locks across them and should pass a context with
// a bounded timeout.
type PaymentGateway interface {
	// CreateCustomer registers the user with the processor and returns the
	// processor's customer reference.
	CreateCustomer(ctx context.Context, userID uuid.UUID, email, name string) (customerID string, err error)

	// CreateSubscription creates the remote subscription and returns the
	// processor's subscription reference.
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (providerSubID string, err error)

	// UpdateSubscription swaps the remote subscription's price.
	// Prorate controls whether the change is billed prorated immediately.
	UpdateSubscription(ctx context.Context, providerSubID, newPriceID string, prorate bool) error

	// CancelSubscription cancels the remote subscription, either at the end
	// of the current billing period or immediately.
	CancelSubscription(ctx context.Context, providerSubID string, atPeriodEnd bool) error

	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	// RetryInvoicePayment re-attempts collection of a failed invoice.
	// A declined payment is reported through the result, not the error;
	// errors are reserved for transport/processor failures.
	RetryInvoicePayment(ctx context.Context, providerInvoiceID string) (PaymentResult, error)

	// ParseWebhook verifies the signature and normalizes the event.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// CreateSubscriptionRequest carries the data needed to create a remote subscription.
type CreateSubscriptionRequest struct {
	CustomerID      string // processor's customer reference
	UserID          uuid.UUID
	PriceID         string // processor's price reference for the plan
	TrialDays       int
	PaymentMethodID string // optional
}

// PaymentResult is the outcome of a payment collection attempt.
type PaymentResult struct {
	Paid         bool
	PaymentID    string // processor's payment reference when paid
	ErrorCode    string
	ErrorMessage string
}

// EventType represents the normalized billing event type.
// Each gateway implementation maps its processor-specific events to these.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventInvoicePaid         EventType = "invoice_paid"
	EventInvoicePaymentFail  EventType = "invoice_payment_failed"
	EventTrialWillEnd        EventType = "trial_will_end"
)

// WebhookEvent represents a normalized webhook event from the payment gateway.
type WebhookEvent struct {
	ID             string    // processor's event ID, used for replay dedup
	Type           EventType // normalized event type
	ProviderEvent  string    // original processor event name
	SubscriptionID string    // processor's subscription reference
	InvoiceID      string    // processor's invoice/transaction reference
	PaymentID      string    // processor's payment reference
	CustomerID     string    // our user ID carried in processor metadata
	Status         string    // processor-reported subscription status
	PriceID        string    // processor's price reference
	ErrorCode      string
	ErrorMessage   string
	Raw            map[string]any
}
