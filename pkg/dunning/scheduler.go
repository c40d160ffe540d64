package dunning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/billing"
	"github.com/billflowhq/billflow/pkg/invoice"
	"github.com/billflowhq/billflow/pkg/job"
)

// PaymentRetrier re-attempts collection of an open invoice.
// Satisfied by the invoice service.
type PaymentRetrier interface {
	RetryPayment(ctx context.Context, invoiceID uuid.UUID) error
}

// Notifier informs the customer about payment recovery events. Optional.
type Notifier interface {
	// RetryScheduled fires after a failed payment when another attempt is
	// planned.
	RetryScheduled(ctx context.Context, inv *invoice.Invoice, attempt int, nextAt time.Time) error

	// RecoveryFailed fires when the retry budget is exhausted and the
	// subscription has been suspended.
	RecoveryFailed(ctx context.Context, inv *invoice.Invoice) error
}

// RetryTask is the queued payload for one scheduled payment retry.
type RetryTask struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	Attempt   int       `json:"attempt"`
}

// Scheduler drives the payment recovery state machine: it books retries for
// failed invoices, bounds them by the configured budget, and suspends the
// subscription when the budget runs out.
type Scheduler struct {
	invoices invoice.Store
	subs     billing.SubscriptionStore
	retrier  PaymentRetrier
	enqueuer *job.Enqueuer
	notifier Notifier

	maxRetries    int
	retryInterval time.Duration
	log           *slog.Logger
	now           func() time.Time
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithNotifier wires customer notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithLogger sets the scheduler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a dunning Scheduler.
// Panics if required dependencies are nil to fail fast during initialization.
// The enqueuer may be nil; retries then rely on the periodic sweep alone.
func NewScheduler(invoices invoice.Store, subs billing.SubscriptionStore, retrier PaymentRetrier, enqueuer *job.Enqueuer, cfg Config, opts ...Option) *Scheduler {
	if invoices == nil {
		panic("dunning: invoice store is required")
	}
	if subs == nil {
		panic("dunning: subscription store is required")
	}
	if retrier == nil {
		panic("dunning: payment retrier is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 24 * time.Hour
	}

	s := &Scheduler{
		invoices:      invoices,
		subs:          subs,
		retrier:       retrier,
		enqueuer:      enqueuer,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		log:           slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate advances the recovery state machine after a failed payment: it
// books the next retry, or finalizes the invoice as uncollectible when the
// budget is spent. Implements invoice.DunningStarter.
func (s *Scheduler) Initiate(ctx context.Context, invoiceID uuid.UUID) error {
	inv, err := s.invoices.ByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != invoice.StatusOpen {
		// Paid, voided, or already written off. Nothing to recover.
		return nil
	}

	attempt := inv.DunningAttempts + 1
	if attempt > s.maxRetries {
		return s.finalize(ctx, inv)
	}

	now := s.now().UTC()
	nextAt := now.Add(s.retryInterval)

	inv.DunningStatus = invoice.DunningRetry(attempt)
	inv.DunningAttempts = attempt
	inv.LastDunningAttempt = &now
	inv.NextDunningAttempt = &nextAt
	inv.UpdatedAt = now
	if err := s.invoices.Update(ctx, inv); err != nil {
		return err
	}

	if s.enqueuer != nil {
		err := s.enqueuer.Enqueue(ctx, RetryTask{InvoiceID: inv.ID, Attempt: attempt},
			job.WithRunAt(nextAt),
			job.WithKey(fmt.Sprintf("dunning:%s:%d", inv.ID, attempt)))
		if err != nil && !errors.Is(err, job.ErrDuplicateJob) {
			return err
		}
	}

	s.log.InfoContext(ctx, "payment retry scheduled",
		slog.String("invoice_id", inv.ID.String()),
		slog.Int("attempt", attempt),
		slog.Int("max_retries", s.maxRetries),
		slog.Time("next_at", nextAt))

	if s.notifier != nil {
		if err := s.notifier.RetryScheduled(ctx, inv, attempt, nextAt); err != nil {
			s.log.WarnContext(ctx, "failed to send retry notification",
				slog.String("invoice_id", inv.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// finalize writes the invoice off and suspends the subscription.
func (s *Scheduler) finalize(ctx context.Context, inv *invoice.Invoice) error {
	now := s.now().UTC()
	inv.Status = invoice.StatusUncollectible
	inv.DunningStatus = invoice.DunningFailed
	inv.NextDunningAttempt = nil
	inv.UpdatedAt = now
	if err := s.invoices.Update(ctx, inv); err != nil {
		return err
	}

	sub, err := s.subs.ByID(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	if billing.CanTransition(sub.Status, billing.StatusUnpaid) {
		sub.Status = billing.StatusUnpaid
		sub.UpdatedAt = now
		if err := s.subs.Update(ctx, sub); err != nil {
			return err
		}
	}

	s.log.WarnContext(ctx, "payment recovery exhausted, subscription suspended",
		slog.String("invoice_id", inv.ID.String()),
		slog.String("subscription_id", inv.SubscriptionID.String()),
		slog.Int("attempts", inv.DunningAttempts))

	if s.notifier != nil {
		if err := s.notifier.RecoveryFailed(ctx, inv); err != nil {
			s.log.WarnContext(ctx, "failed to send recovery failure notification",
				slog.String("invoice_id", inv.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Retry executes one scheduled payment retry.
// An already-paid invoice is a success, not an error, so stale queued retries
// drain quietly.
func (s *Scheduler) Retry(ctx context.Context, task RetryTask) error {
	inv, err := s.invoices.ByID(ctx, task.InvoiceID)
	if err != nil {
		if errors.Is(err, invoice.ErrInvoiceNotFound) {
			return nil
		}
		return err
	}
	if inv.Status != invoice.StatusOpen {
		return nil
	}
	if inv.DunningAttempts != task.Attempt {
		// A later attempt superseded this one.
		return nil
	}

	if err := s.retrier.RetryPayment(ctx, task.InvoiceID); err != nil {
		if errors.Is(err, invoice.ErrInvoiceAlreadyPaid) {
			return nil
		}
		return err
	}
	return nil
}

// ProcessDue retries every invoice whose scheduled attempt time has passed.
// Safety net for retries whose queued job was lost; also the sole driver when
// no enqueuer is wired. Failures are isolated per invoice.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	due, err := s.invoices.DueForDunning(ctx, s.now().UTC())
	if err != nil {
		return err
	}

	for i := range due {
		inv := &due[i]
		if err := s.retrier.RetryPayment(ctx, inv.ID); err != nil && !errors.Is(err, invoice.ErrInvoiceAlreadyPaid) {
			s.log.ErrorContext(ctx, "failed to retry due invoice",
				slog.String("invoice_id", inv.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// RetryHandler returns the queue handler that executes scheduled retries.
func (s *Scheduler) RetryHandler() job.Handler {
	return job.NewHandler(func(ctx context.Context, task RetryTask) error {
		return s.Retry(ctx, task)
	})
}

// SweepHandler returns the periodic handler for the due-invoice sweep.
// Register it under SweepJobName with an hourly schedule.
func (s *Scheduler) SweepHandler() job.Handler {
	return job.NewPeriodicHandler(SweepJobName, s.ProcessDue)
}

// SweepJobName is the periodic job name for the due-invoice sweep.
const SweepJobName = "dunning.sweep"
