package billing

import (
	"context"
	"log/slog"
)

// HandleWebhook processes an incoming payment gateway webhook.
//
// Delivery guarantees from processors are at-least-once and unordered, so the
// handler is defensive on both axes: exact duplicates are dropped via the
// processed-event store, and replayed or out-of-order transitions no-op
// through the state machine check. Events that reference a subscription we
// have not provisioned yet return an error so the processor redelivers them
// later, after provisioning completes.
func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	if s.events != nil && event.ID != "" {
		done, err := s.events.IsProcessed(ctx, event.ID)
		if err != nil {
			// Dedup is best effort; the status checks below keep replays
			// harmless when the store is unavailable.
			s.log.WarnContext(ctx, "webhook dedup store unavailable",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()))
		} else if done {
			s.log.DebugContext(ctx, "skipping already processed webhook event",
				slog.String("event_id", event.ID),
				slog.String("event_type", string(event.Type)))
			return nil
		}
	}

	if err := s.dispatchWebhook(ctx, event); err != nil {
		// Leave the event unmarked so the processor's redelivery is applied
		// instead of being dropped as a duplicate.
		return err
	}

	if s.events != nil && event.ID != "" {
		if _, err := s.events.MarkProcessed(ctx, event.ID, s.eventTTL); err != nil {
			s.log.WarnContext(ctx, "failed to record processed webhook event",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *service) dispatchWebhook(ctx context.Context, event *WebhookEvent) error {
	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.syncSubscription(ctx, event)

	case EventSubscriptionDeleted:
		sub, err := s.store.ByProviderSubID(ctx, event.SubscriptionID)
		if err != nil {
			return err
		}
		return s.applyTransition(ctx, sub, StatusCanceled)

	case EventInvoicePaid:
		if s.invoiceEvents == nil {
			s.log.WarnContext(ctx, "invoice event received but no handler wired",
				slog.String("event_id", event.ID))
			return nil
		}
		return s.invoiceEvents.PaymentSucceeded(ctx, event.SubscriptionID, event.InvoiceID, event.PaymentID)

	case EventInvoicePaymentFail:
		if s.invoiceEvents == nil {
			s.log.WarnContext(ctx, "invoice event received but no handler wired",
				slog.String("event_id", event.ID))
			return nil
		}
		return s.invoiceEvents.PaymentFailed(ctx, event.SubscriptionID, event.InvoiceID, event.ErrorCode, event.ErrorMessage)

	case EventTrialWillEnd:
		// Notification-only: actual expiry handling runs through
		// HandleTrialExpiry when the trial window closes.
		s.log.InfoContext(ctx, "trial ending soon",
			slog.String("provider_subscription_id", event.SubscriptionID))
		return nil

	default:
		s.log.DebugContext(ctx, "ignoring unhandled webhook event",
			slog.String("provider_event", event.ProviderEvent))
		return nil
	}
}

// syncSubscription reconciles gateway-reported subscription state into the
// local record.
func (s *service) syncSubscription(ctx context.Context, event *WebhookEvent) error {
	sub, err := s.store.ByProviderSubID(ctx, event.SubscriptionID)
	if err != nil {
		// Local provisioning has not completed yet. Surfacing the error makes
		// the processor redeliver the event once the record exists.
		return err
	}

	if event.PriceID != "" {
		if p, err := s.plans.ByPriceID(event.PriceID); err == nil && p.Name != sub.PlanName {
			sub.PlanName = p.Name
			sub.UpdatedAt = s.now().UTC()
			if err := s.store.Update(ctx, sub); err != nil {
				return err
			}
		}
	}

	target, ok := statusFromProvider(event.Status)
	if !ok {
		s.log.DebugContext(ctx, "unknown provider subscription status",
			slog.String("status", event.Status))
		return nil
	}

	return s.applyTransition(ctx, sub, target)
}

// statusFromProvider maps processor-reported statuses onto the local set.
func statusFromProvider(status string) (Status, bool) {
	switch status {
	case "trialing":
		return StatusTrialing, true
	case "active":
		return StatusActive, true
	case "past_due":
		return StatusPastDue, true
	case "unpaid", "paused":
		return StatusUnpaid, true
	case "canceled", "cancelled":
		return StatusCanceled, true
	default:
		return "", false
	}
}
