package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/billing"
	"github.com/billflowhq/billflow/pkg/entitlement"
	"github.com/billflowhq/billflow/pkg/plan"
)

// Service defines the public interface for invoice generation and payment
// outcome handling.
type Service interface {
	// Create generates an invoice for a subscription period: the plan price
	// plus overage for every entitlement whose usage exceeded its limit.
	Create(ctx context.Context, subscriptionID uuid.UUID, periodStart, periodEnd time.Time) (*Invoice, error)

	// HandlePaymentSuccess finalizes a collected invoice. Idempotent:
	// re-applying it to a paid invoice is a no-op and appends nothing.
	HandlePaymentSuccess(ctx context.Context, invoiceID uuid.UUID, providerPaymentID string) error

	// HandlePaymentFailed records a failed attempt, flags the subscription
	// past due, and hands the invoice to the dunning scheduler.
	HandlePaymentFailed(ctx context.Context, invoiceID uuid.UUID, errorCode, errorMessage string) error

	// RetryPayment re-attempts collection through the gateway.
	// Returns ErrInvoiceAlreadyPaid for paid invoices. A declined or failed
	// attempt is not an error here; it re-enters dunning.
	RetryPayment(ctx context.Context, invoiceID uuid.UUID) error

	Get(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error)
	ListForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Invoice, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Invoice, error)
	ListAttempts(ctx context.Context, invoiceID uuid.UUID) ([]PaymentAttempt, error)

	// RenderDocument produces the downloadable invoice document.
	RenderDocument(ctx context.Context, invoiceID uuid.UUID) ([]byte, error)

	// SetDunning wires the dunning scheduler. Called once during process
	// wiring, after both services exist.
	SetDunning(d DunningStarter)

	// billing.InvoiceEventHandler, driven by gateway webhooks.
	PaymentSucceeded(ctx context.Context, providerSubID, providerInvoiceID, providerPaymentID string) error
	PaymentFailed(ctx context.Context, providerSubID, providerInvoiceID, errCode, errMsg string) error
}

type service struct {
	invoices Store
	attempts AttemptStore
	subs     billing.SubscriptionStore
	ents     entitlement.Store
	plans    *plan.Registry
	gateway  billing.PaymentGateway
	dunning  DunningStarter

	overageBilling bool
	dueIn          time.Duration
	log            *slog.Logger
	now            func() time.Time
}

// Option configures the invoice service.
type Option func(*service)

// WithLogger sets the logger used by the service.
func WithLogger(log *slog.Logger) Option {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithoutOverageBilling bills the flat plan price only.
func WithoutOverageBilling() Option {
	return func(s *service) { s.overageBilling = false }
}

// WithDueIn sets how long after issuing an invoice falls due.
func WithDueIn(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.dueIn = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an invoice Service.
// Panics if required dependencies are nil to fail fast during initialization.
// The dunning scheduler is wired afterwards via SetDunning because the two
// services reference each other.
func NewService(invoices Store, attempts AttemptStore, subs billing.SubscriptionStore, ents entitlement.Store, plans *plan.Registry, gateway billing.PaymentGateway, opts ...Option) Service {
	if invoices == nil {
		panic("invoice: Store is required")
	}
	if attempts == nil {
		panic("invoice: AttemptStore is required")
	}
	if subs == nil {
		panic("invoice: SubscriptionStore is required")
	}
	if ents == nil {
		panic("invoice: entitlement Store is required")
	}
	if plans == nil {
		panic("invoice: plan registry is required")
	}
	if gateway == nil {
		panic("invoice: PaymentGateway is required")
	}

	s := &service{
		invoices:       invoices,
		attempts:       attempts,
		subs:           subs,
		ents:           ents,
		plans:          plans,
		gateway:        gateway,
		overageBilling: true,
		dueIn:          7 * 24 * time.Hour,
		log:            slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) SetDunning(d DunningStarter) {
	s.dunning = d
}

func (s *service) Create(ctx context.Context, subscriptionID uuid.UUID, periodStart, periodEnd time.Time) (*Invoice, error) {
	if !periodEnd.After(periodStart) {
		return nil, ErrInvalidPeriod
	}

	sub, err := s.subs.ByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	p, err := s.plans.ByName(sub.PlanName)
	if err != nil {
		return nil, err
	}

	amount := p.Price.Amount
	var overages []OverageLine
	if s.overageBilling {
		ents, err := s.ents.ListBySubscription(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		for _, e := range ents {
			over := e.Overage()
			if over == 0 {
				continue
			}
			rate := p.OverageRateFor(e.Feature)
			line := OverageLine{
				Feature:  e.Feature,
				Quantity: over,
				Rate:     rate,
				Amount:   over * rate,
			}
			overages = append(overages, line)
			amount += line.Amount
		}
	}

	seq, err := s.invoices.NextSeq(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	inv := &Invoice{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		UserID:         sub.UserID,
		Number:         fmt.Sprintf("INV-%s-%06d", now.Format("200601"), seq),
		Amount:         amount,
		Tax:            0,
		Total:          amount,
		Currency:       p.Price.Currency,
		Overages:       overages,
		Status:         StatusOpen,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		DueDate:        now.Add(s.dueIn),
		DunningStatus:  DunningNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "invoice created",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("number", inv.Number),
		slog.String("subscription_id", subscriptionID.String()),
		slog.Int64("total", inv.Total))

	return inv, nil
}

func (s *service) HandlePaymentSuccess(ctx context.Context, invoiceID uuid.UUID, providerPaymentID string) error {
	inv, err := s.invoices.ByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.IsPaid() {
		return nil
	}

	now := s.now().UTC()
	inv.Status = StatusPaid
	inv.PaidAt = &now
	inv.ProviderPaymentID = providerPaymentID
	inv.DunningStatus = DunningNone
	inv.DunningAttempts = 0
	inv.NextDunningAttempt = nil
	inv.UpdatedAt = now

	if err := s.invoices.Update(ctx, inv); err != nil {
		return err
	}

	if err := s.attempts.Append(ctx, &PaymentAttempt{
		ID:                uuid.New(),
		InvoiceID:         inv.ID,
		Amount:            inv.Total,
		Status:            AttemptSucceeded,
		ProviderPaymentID: providerPaymentID,
		AttemptedAt:       now,
	}); err != nil {
		return err
	}

	// Payment recovery reactivates a past-due subscription.
	if err := s.transitionSubscription(ctx, inv.SubscriptionID, billing.StatusActive); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "invoice paid",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("number", inv.Number))

	return nil
}

func (s *service) HandlePaymentFailed(ctx context.Context, invoiceID uuid.UUID, errorCode, errorMessage string) error {
	inv, err := s.invoices.ByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.IsPaid() {
		// Out-of-order delivery: a failure reported after successful
		// collection changes nothing.
		s.log.DebugContext(ctx, "ignoring payment failure for paid invoice",
			slog.String("invoice_id", inv.ID.String()))
		return nil
	}

	now := s.now().UTC()
	if err := s.attempts.Append(ctx, &PaymentAttempt{
		ID:           uuid.New(),
		InvoiceID:    inv.ID,
		Amount:       inv.Total,
		Status:       AttemptFailed,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		AttemptedAt:  now,
	}); err != nil {
		return err
	}

	if err := s.transitionSubscription(ctx, inv.SubscriptionID, billing.StatusPastDue); err != nil {
		return err
	}

	s.log.WarnContext(ctx, "invoice payment failed",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("error_code", errorCode))

	if s.dunning == nil {
		s.log.WarnContext(ctx, "no dunning scheduler wired, invoice will not be retried",
			slog.String("invoice_id", inv.ID.String()))
		return nil
	}
	return s.dunning.Initiate(ctx, inv.ID)
}

func (s *service) RetryPayment(ctx context.Context, invoiceID uuid.UUID) error {
	inv, err := s.invoices.ByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.IsPaid() {
		return ErrInvoiceAlreadyPaid
	}
	if inv.ProviderInvoiceID == "" {
		return ErrNoProviderReference
	}

	result, err := s.gateway.RetryInvoicePayment(ctx, inv.ProviderInvoiceID)
	if err != nil {
		// A gateway failure during retry is an expected outcome that feeds
		// the dunning schedule, not a fatal error.
		s.log.WarnContext(ctx, "payment retry failed at gateway",
			slog.String("invoice_id", inv.ID.String()),
			slog.String("error", err.Error()))
		return s.HandlePaymentFailed(ctx, inv.ID, "gateway_error", err.Error())
	}

	if result.Paid {
		return s.HandlePaymentSuccess(ctx, inv.ID, result.PaymentID)
	}
	return s.HandlePaymentFailed(ctx, inv.ID, result.ErrorCode, result.ErrorMessage)
}

func (s *service) Get(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	return s.invoices.ByID(ctx, invoiceID)
}

func (s *service) ListForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Invoice, error) {
	return s.invoices.ListBySubscription(ctx, subscriptionID)
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]Invoice, error) {
	return s.invoices.ListByUser(ctx, userID)
}

func (s *service) ListAttempts(ctx context.Context, invoiceID uuid.UUID) ([]PaymentAttempt, error) {
	return s.attempts.ListByInvoice(ctx, invoiceID)
}

// PaymentSucceeded implements billing.InvoiceEventHandler.
func (s *service) PaymentSucceeded(ctx context.Context, providerSubID, providerInvoiceID, providerPaymentID string) error {
	inv, err := s.resolveProviderInvoice(ctx, providerSubID, providerInvoiceID)
	if err != nil {
		return err
	}
	return s.HandlePaymentSuccess(ctx, inv.ID, providerPaymentID)
}

// PaymentFailed implements billing.InvoiceEventHandler.
func (s *service) PaymentFailed(ctx context.Context, providerSubID, providerInvoiceID, errCode, errMsg string) error {
	inv, err := s.resolveProviderInvoice(ctx, providerSubID, providerInvoiceID)
	if err != nil {
		return err
	}
	return s.HandlePaymentFailed(ctx, inv.ID, errCode, errMsg)
}

// resolveProviderInvoice maps a gateway invoice reference to the local
// invoice. First payment events for a period arrive before the local invoice
// knows its provider reference, so unresolved references fall back to the
// subscription's latest open invoice, which is then linked.
func (s *service) resolveProviderInvoice(ctx context.Context, providerSubID, providerInvoiceID string) (*Invoice, error) {
	inv, err := s.invoices.ByProviderID(ctx, providerInvoiceID)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, err
	}

	sub, err := s.subs.ByProviderSubID(ctx, providerSubID)
	if err != nil {
		return nil, err
	}
	inv, err = s.invoices.LatestOpenBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	inv.ProviderInvoiceID = providerInvoiceID
	inv.UpdatedAt = s.now().UTC()
	if err := s.invoices.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// transitionSubscription applies a status change if the subscription state
// machine allows it. Disallowed transitions no-op, keeping the payment
// handlers idempotent under webhook replays.
func (s *service) transitionSubscription(ctx context.Context, subscriptionID uuid.UUID, to billing.Status) error {
	sub, err := s.subs.ByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == to || !billing.CanTransition(sub.Status, to) {
		return nil
	}

	now := s.now().UTC()
	sub.Status = to
	sub.UpdatedAt = now
	if to == billing.StatusCanceled && sub.CanceledAt == nil {
		sub.CanceledAt = &now
	}
	return s.subs.Update(ctx, sub)
}
