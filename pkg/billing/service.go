package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/plan"
)

// Service defines the public interface for subscription lifecycle management.
type Service interface {
	// Subscribe creates a subscription to the named plan for a user who has
	// no billable subscription yet. The remote gateway objects are created
	// first; a local persistence failure triggers remote cleanup so no
	// orphaned gateway subscription keeps charging the customer.
	Subscribe(ctx context.Context, userID uuid.UUID, planName, email, paymentMethodID string) (*Subscription, error)

	// ChangePlan moves the subscription to a new plan. Upgrades are billed
	// prorated; downgrades apply non-prorated. Entitlements are replaced
	// wholesale from the new plan's limits.
	ChangePlan(ctx context.Context, subscriptionID uuid.UUID, newPlanName string) (*Subscription, error)

	// Cancel cancels a subscription, either at the end of the current period
	// or immediately.
	Cancel(ctx context.Context, subscriptionID uuid.UUID, atPeriodEnd bool) (*Subscription, error)

	// HandleTrialExpiry transitions an expired trial into the paid period.
	// Safe to re-trigger; non-trialing subscriptions are left untouched.
	HandleTrialExpiry(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error)

	// CurrentForUser returns the user's trialing or active subscription.
	CurrentForUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// MarkPastDue flags the subscription after a failed invoice payment.
	MarkPastDue(ctx context.Context, subscriptionID uuid.UUID) error

	// Reactivate returns a past-due subscription to active after payment
	// recovery.
	Reactivate(ctx context.Context, subscriptionID uuid.UUID) error

	// MarkUnpaid finalizes a subscription whose dunning retries are
	// exhausted. Unpaid is terminal.
	MarkUnpaid(ctx context.Context, subscriptionID uuid.UUID) error

	// HandleWebhook verifies, dedupes, and applies a gateway webhook event.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// EntitlementProvisioner replaces a subscription's entitlements from a plan's
// limit map. Satisfied by the entitlement service.
type EntitlementProvisioner interface {
	Replace(ctx context.Context, subscriptionID uuid.UUID, limits map[plan.Feature]int64) error
}

// InvoiceEventHandler receives payment outcomes reported by gateway webhooks.
// The provider subscription reference is passed alongside the invoice
// reference because a first payment event may arrive before the local invoice
// has been linked to its provider counterpart. Satisfied by the invoice
// service.
type InvoiceEventHandler interface {
	PaymentSucceeded(ctx context.Context, providerSubID, providerInvoiceID, providerPaymentID string) error
	PaymentFailed(ctx context.Context, providerSubID, providerInvoiceID, errCode, errMsg string) error
}

type service struct {
	plans        *plan.Registry
	gateway      PaymentGateway
	store        SubscriptionStore
	entitlements EntitlementProvisioner

	invoiceEvents  InvoiceEventHandler
	events         ProcessedEventStore
	eventTTL       time.Duration
	gatewayTimeout time.Duration
	log            *slog.Logger
	now            func() time.Time
}

// NewService creates a subscription Service.
// Panics if required dependencies are nil to fail fast during initialization.
func NewService(plans *plan.Registry, gateway PaymentGateway, store SubscriptionStore, entitlements EntitlementProvisioner, opts ...ServiceOption) Service {
	if plans == nil {
		panic("billing: plan registry is required")
	}
	if gateway == nil {
		panic("billing: PaymentGateway is required")
	}
	if store == nil {
		panic("billing: SubscriptionStore is required")
	}
	if entitlements == nil {
		panic("billing: EntitlementProvisioner is required")
	}

	s := &service{
		plans:          plans,
		gateway:        gateway,
		store:          store,
		entitlements:   entitlements,
		eventTTL:       72 * time.Hour,
		gatewayTimeout: 30 * time.Second,
		log:            slog.Default(),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// gatewayCtx bounds gateway calls so a slow processor cannot stall handlers.
func (s *service) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.gatewayTimeout)
}

func (s *service) Subscribe(ctx context.Context, userID uuid.UUID, planName, email, paymentMethodID string) (*Subscription, error) {
	if userID == uuid.Nil {
		return nil, errors.Join(ErrInvalidInput, errors.New("user ID is required"))
	}
	if email == "" {
		return nil, errors.Join(ErrInvalidInput, errors.New("email is required"))
	}

	p, err := s.plans.ByName(planName)
	if err != nil {
		return nil, err
	}

	// Friendly duplicate check; the storage layer's unique index is the
	// authoritative guard against the check-then-insert race.
	if _, err := s.store.ActiveByUser(ctx, userID); err == nil {
		return nil, ErrSubscriptionExists
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	gctx, cancel := s.gatewayCtx(ctx)
	defer cancel()

	customerID, err := s.gateway.CreateCustomer(gctx, userID, email, "")
	if err != nil {
		return nil, err
	}

	if paymentMethodID != "" {
		if err := s.gateway.AttachPaymentMethod(gctx, customerID, paymentMethodID); err != nil {
			return nil, err
		}
		if err := s.gateway.SetDefaultPaymentMethod(gctx, customerID, paymentMethodID); err != nil {
			return nil, err
		}
	}

	providerSubID, err := s.gateway.CreateSubscription(gctx, CreateSubscriptionRequest{
		CustomerID:      customerID,
		UserID:          userID,
		PriceID:         p.PriceID,
		TrialDays:       p.TrialDays,
		PaymentMethodID: paymentMethodID,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanName:           p.Name,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   p.PeriodEnd(now),
		ProviderCustomerID: customerID,
		ProviderSubID:      providerSubID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if p.HasTrial() {
		trialEnd := p.TrialEndsAt(now)
		sub.Status = StatusTrialing
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	}

	if err := s.store.Create(ctx, sub); err != nil {
		// Remote subscription exists but the local write failed. Cancel the
		// remote object so the customer is not charged for a subscription
		// we have no record of.
		s.cleanupRemote(providerSubID)
		return nil, err
	}

	if err := s.entitlements.Replace(ctx, sub.ID, p.Limits); err != nil {
		// A subscription without entitlements would bill the user while
		// denying every feature. Roll back both sides: cancel the gateway
		// object and retire the local row so the user can retry.
		s.cleanupRemote(providerSubID)
		sub.Status = StatusCanceled
		sub.CanceledAt = &now
		sub.UpdatedAt = s.now().UTC()
		if uerr := s.store.Update(ctx, sub); uerr != nil {
			s.log.ErrorContext(ctx, "failed to retire subscription after provisioning failure",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", uerr.Error()))
		}
		return nil, fmt.Errorf("failed to provision entitlements for subscription %s: %w", sub.ID, err)
	}

	s.log.InfoContext(ctx, "subscription created",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("user_id", userID.String()),
		slog.String("plan", p.Name),
		slog.String("status", string(sub.Status)))

	return sub, nil
}

// cleanupRemote cancels an orphaned gateway subscription after a local
// persistence failure. Best effort: a failure here is logged for manual
// reconciliation, not returned.
func (s *service) cleanupRemote(providerSubID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.gatewayTimeout)
	defer cancel()

	if err := s.gateway.CancelSubscription(ctx, providerSubID, false); err != nil {
		s.log.Error("failed to clean up orphaned gateway subscription",
			slog.String("provider_subscription_id", providerSubID),
			slog.String("error", err.Error()))
	}
}

func (s *service) ChangePlan(ctx context.Context, subscriptionID uuid.UUID, newPlanName string) (*Subscription, error) {
	sub, err := s.store.ByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, ErrSubscriptionTerminal
	}
	if sub.PlanName == newPlanName {
		return nil, ErrSamePlan
	}

	newPlan, err := s.plans.ByName(newPlanName)
	if err != nil {
		return nil, err
	}
	currentPlan, err := s.plans.ByName(sub.PlanName)
	if err != nil {
		return nil, err
	}

	// Upgrades are prorated immediately; downgrades take effect without
	// mid-period credit.
	change := plan.ComparePlans(currentPlan, newPlan)
	prorate := change.Upgrade()

	gctx, cancel := s.gatewayCtx(ctx)
	defer cancel()
	if err := s.gateway.UpdateSubscription(gctx, sub.ProviderSubID, newPlan.PriceID, prorate); err != nil {
		return nil, err
	}

	sub.PlanName = newPlan.Name
	sub.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	// Entitlements are replaced wholesale from the new plan's limits, which
	// resets in-period usage counters to zero. Mirrors the current product
	// behavior; revisit if mid-cycle usage should carry over.
	if err := s.entitlements.Replace(ctx, sub.ID, newPlan.Limits); err != nil {
		return nil, fmt.Errorf("failed to replace entitlements for subscription %s: %w", sub.ID, err)
	}

	s.log.InfoContext(ctx, "subscription plan changed",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("plan", newPlan.Name),
		slog.Bool("prorated", prorate))

	return sub, nil
}

func (s *service) Cancel(ctx context.Context, subscriptionID uuid.UUID, atPeriodEnd bool) (*Subscription, error) {
	sub, err := s.store.ByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, ErrSubscriptionTerminal
	}

	gctx, cancel := s.gatewayCtx(ctx)
	defer cancel()
	if err := s.gateway.CancelSubscription(gctx, sub.ProviderSubID, atPeriodEnd); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sub.CanceledAt = &now
	if atPeriodEnd {
		// Access continues until the period ends; the gateway fires the
		// terminal subscription_deleted event at that point.
		sub.CancelAtPeriodEnd = true
		periodEnd := sub.CurrentPeriodEnd
		sub.CancelAt = &periodEnd
	} else {
		sub.Status = StatusCanceled
		sub.CancelAt = &now
	}
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription canceled",
		slog.String("subscription_id", sub.ID.String()),
		slog.Bool("at_period_end", atPeriodEnd))

	return sub, nil
}

func (s *service) HandleTrialExpiry(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.ByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusTrialing {
		return sub, nil
	}

	now := s.now().UTC()
	if !sub.IsTrialExpiredAt(now) {
		return sub, nil
	}

	p, err := s.plans.ByName(sub.PlanName)
	if err != nil {
		return nil, err
	}

	// The paid period starts where the trial ended, not at processing time,
	// so delayed expiry jobs don't shift the billing anchor.
	start := *sub.TrialEnd
	sub.Status = StatusActive
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = p.PeriodEnd(start)
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "trial expired, subscription activated",
		slog.String("subscription_id", sub.ID.String()))

	return sub, nil
}

func (s *service) CurrentForUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.ActiveByUser(ctx, userID)
}

func (s *service) MarkPastDue(ctx context.Context, subscriptionID uuid.UUID) error {
	return s.transition(ctx, subscriptionID, StatusPastDue)
}

func (s *service) Reactivate(ctx context.Context, subscriptionID uuid.UUID) error {
	return s.transition(ctx, subscriptionID, StatusActive)
}

func (s *service) MarkUnpaid(ctx context.Context, subscriptionID uuid.UUID) error {
	return s.transition(ctx, subscriptionID, StatusUnpaid)
}

// transition applies a status change if the state machine allows it.
// Already-in-target is a no-op, which makes the payment handlers idempotent
// under webhook replays.
func (s *service) transition(ctx context.Context, subscriptionID uuid.UUID, to Status) error {
	sub, err := s.store.ByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	return s.applyTransition(ctx, sub, to)
}

func (s *service) applyTransition(ctx context.Context, sub *Subscription, to Status) error {
	if sub.Status == to {
		return nil
	}
	if !CanTransition(sub.Status, to) {
		s.log.DebugContext(ctx, "ignoring disallowed subscription transition",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("from", string(sub.Status)),
			slog.String("to", string(to)))
		return nil
	}

	now := s.now().UTC()
	sub.Status = to
	sub.UpdatedAt = now
	if to == StatusCanceled && sub.CanceledAt == nil {
		sub.CanceledAt = &now
	}

	return s.store.Update(ctx, sub)
}
