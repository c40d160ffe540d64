package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle payment gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleGateway implements PaymentGateway for Paddle.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleGateway creates a new Paddle payment gateway.
func NewPaddleGateway(config PaddleConfig) (*PaddleGateway, error) {
	if config.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

// CreateCustomer registers the user as a Paddle customer.
// The user ID travels in custom data so webhook events can be mapped back.
func (g *PaddleGateway) CreateCustomer(ctx context.Context, userID uuid.UUID, email, name string) (string, error) {
	req := &paddle.CreateCustomerRequest{
		Email: email,
		CustomData: paddle.CustomData{
			"user_id": userID.String(),
		},
	}
	if name != "" {
		req.Name = paddle.PtrTo(name)
	}

	customer, err := g.client.CustomersClient.CreateCustomer(ctx, req)
	if err != nil {
		return "", gatewayErr("create_customer", err)
	}
	return customer.ID, nil
}

// CreateSubscription starts the remote subscription by creating a catalog
// transaction for the plan's price. Paddle derives the subscription (and any
// trial) from the price configuration; the transaction ID is returned as the
// provider reference until the subscription.created webhook supplies the
// final sub_ identifier.
func (g *PaddleGateway) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (string, error) {
	if req.PriceID == "" {
		return "", errors.Join(ErrInvalidInput, errors.New("price ID is required"))
	}
	if req.CustomerID == "" {
		return "", errors.Join(ErrInvalidInput, errors.New("customer ID is required"))
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transaction, err := g.client.TransactionsClient.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(req.CustomerID),
		CustomData: paddle.CustomData{
			"user_id": req.UserID.String(),
		},
	})
	if err != nil {
		return "", gatewayErr("create_subscription", err)
	}

	return transaction.ID, nil
}

// UpdateSubscription swaps the remote subscription's price.
func (g *PaddleGateway) UpdateSubscription(ctx context.Context, providerSubID, newPriceID string, prorate bool) error {
	mode := paddle.ProrationBillingModeFullNextBillingPeriod
	if prorate {
		mode = paddle.ProrationBillingModeProratedImmediately
	}

	item := paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
		PriceID:  newPriceID,
		Quantity: 1,
	})

	_, err := g.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       providerSubID,
		Items:                paddle.NewPatchField([]paddle.UpdateSubscriptionItems{*item}),
		ProrationBillingMode: paddle.NewPatchField(mode),
	})
	if err != nil {
		return gatewayErr("update_subscription", err)
	}
	return nil
}

// CancelSubscription cancels the remote subscription.
func (g *PaddleGateway) CancelSubscription(ctx context.Context, providerSubID string, atPeriodEnd bool) error {
	effective := paddle.EffectiveFromImmediately
	if atPeriodEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}

	_, err := g.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: providerSubID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return gatewayErr("cancel_subscription", err)
	}
	return nil
}

// AttachPaymentMethod is a no-op for Paddle: payment methods are collected
// through the hosted checkout and managed in the customer portal, never
// attached server-side.
func (g *PaddleGateway) AttachPaymentMethod(_ context.Context, _, _ string) error {
	return nil
}

// SetDefaultPaymentMethod is a no-op for Paddle, see AttachPaymentMethod.
func (g *PaddleGateway) SetDefaultPaymentMethod(_ context.Context, _, _ string) error {
	return nil
}

// RetryInvoicePayment reports the current collection state of the
// transaction. Paddle owns the card-level retry machinery, so a "retry" from
// the engine's side is a reconciliation pull: completed means paid, anything
// else feeds the dunning schedule.
func (g *PaddleGateway) RetryInvoicePayment(ctx context.Context, providerInvoiceID string) (PaymentResult, error) {
	transaction, err := g.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: providerInvoiceID,
	})
	if err != nil {
		return PaymentResult{}, gatewayErr("retry_invoice_payment", err)
	}

	switch transaction.Status {
	case paddle.TransactionStatusCompleted, paddle.TransactionStatusPaid:
		return PaymentResult{Paid: true, PaymentID: transaction.ID}, nil
	default:
		return PaymentResult{
			Paid:         false,
			ErrorCode:    "payment_not_collected",
			ErrorMessage: fmt.Sprintf("transaction in status %s", transaction.Status),
		}, nil
	}
}

// ParseWebhook validates and normalizes an incoming Paddle webhook.
func (g *PaddleGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	// The verifier works on an http.Request, so wrap the raw payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := g.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var paddleEvent struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &WebhookEvent{
		ID:            paddleEvent.EventID,
		Type:          mapPaddleEventType(paddleEvent.EventType),
		ProviderEvent: paddleEvent.EventType,
		Raw:           paddleEvent.Data,
	}

	if status, ok := paddleEvent.Data["status"].(string); ok {
		event.Status = status
	}
	if customData, ok := paddleEvent.Data["custom_data"].(map[string]any); ok {
		if userID, ok := customData["user_id"].(string); ok {
			event.CustomerID = userID
		}
	}

	switch {
	case strings.HasPrefix(paddleEvent.EventType, "subscription."):
		if subID, ok := paddleEvent.Data["id"].(string); ok {
			event.SubscriptionID = subID
		}
		if items, ok := paddleEvent.Data["items"].([]any); ok && len(items) > 0 {
			if item, ok := items[0].(map[string]any); ok {
				if price, ok := item["price"].(map[string]any); ok {
					if priceID, ok := price["id"].(string); ok {
						event.PriceID = priceID
					}
				}
			}
		}

	case strings.HasPrefix(paddleEvent.EventType, "transaction."):
		if txnID, ok := paddleEvent.Data["id"].(string); ok {
			event.InvoiceID = txnID
			event.PaymentID = txnID
		}
		if subID, ok := paddleEvent.Data["subscription_id"].(string); ok {
			event.SubscriptionID = subID
		}
		// Collection failures carry the processor decline in the payments list.
		if payments, ok := paddleEvent.Data["payments"].([]any); ok && len(payments) > 0 {
			if payment, ok := payments[0].(map[string]any); ok {
				if code, ok := payment["error_code"].(string); ok {
					event.ErrorCode = code
				}
			}
		}
	}

	return event, nil
}

// mapPaddleEventType maps Paddle event types to the normalized EventType set.
func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.resumed", "subscription.past_due":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	case "subscription.trialing":
		return EventTrialWillEnd
	case "transaction.completed", "transaction.payment_succeeded":
		return EventInvoicePaid
	case "transaction.payment_failed":
		return EventInvoicePaymentFail
	default:
		// Pass unmapped events through for the handler's default branch
		return EventType(paddleEvent)
	}
}

// gatewayErr normalizes SDK failures into *GatewayError, lifting Paddle's
// error code when available.
func gatewayErr(op string, err error) error {
	gwErr := newGatewayError(op, err)

	var pErr *paddleerr.Error
	if errors.As(err, &pErr) {
		gwErr.Code = string(pErr.Code)
		gwErr.Message = pErr.Detail
	}
	return gwErr
}
