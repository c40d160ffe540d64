package billing_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/billflowhq/billflow/pkg/billing"
)

type invoiceEventRecorder struct {
	succeeded []string
	failed    []string
}

func (r *invoiceEventRecorder) PaymentSucceeded(_ context.Context, _, providerInvoiceID, _ string) error {
	r.succeeded = append(r.succeeded, providerInvoiceID)
	return nil
}

func (r *invoiceEventRecorder) PaymentFailed(_ context.Context, _, providerInvoiceID, _, _ string) error {
	r.failed = append(r.failed, providerInvoiceID)
	return nil
}

func seedProviderSub(t *testing.T, store *billing.MemorySubscriptionStore, status billing.Status) *billing.Subscription {
	t.Helper()
	sub := &billing.Subscription{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		PlanName:      "starter",
		Status:        status,
		ProviderSubID: "sub_123",
	}
	require.NoError(t, store.Create(context.Background(), sub))
	return sub
}

func webhookGateway(event *billing.WebhookEvent) *mockGateway {
	gateway := new(mockGateway)
	gateway.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(event, nil)
	return gateway
}

func TestService_HandleWebhook(t *testing.T) {
	t.Parallel()

	t.Run("subscription updated syncs status and plan", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemorySubscriptionStore()
		sub := seedProviderSub(t, store, billing.StatusActive)

		gateway := webhookGateway(&billing.WebhookEvent{
			ID:             "evt_1",
			Type:           billing.EventSubscriptionUpdated,
			SubscriptionID: "sub_123",
			Status:         "past_due",
			PriceID:        "pri_pro",
		})

		svc := billing.NewService(testPlans(t), gateway, store, newFakeProvisioner())

		require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))

		got, err := store.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		assert.Equal(t, "pro", got.PlanName)
	})

	t.Run("subscription deleted cancels locally", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemorySubscriptionStore()
		sub := seedProviderSub(t, store, billing.StatusActive)

		gateway := webhookGateway(&billing.WebhookEvent{
			ID:             "evt_2",
			Type:           billing.EventSubscriptionDeleted,
			SubscriptionID: "sub_123",
		})

		svc := billing.NewService(testPlans(t), gateway, store, newFakeProvisioner())

		require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))

		got, err := store.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, got.Status)
		assert.NotNil(t, got.CanceledAt)
	})

	t.Run("unknown provider subscription returns error for redelivery", func(t *testing.T) {
		t.Parallel()

		gateway := webhookGateway(&billing.WebhookEvent{
			ID:             "evt_3",
			Type:           billing.EventSubscriptionUpdated,
			SubscriptionID: "sub_unknown",
			Status:         "active",
		})

		svc := billing.NewService(testPlans(t), gateway, billing.NewMemorySubscriptionStore(), newFakeProvisioner())

		err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("duplicate event is processed once", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemorySubscriptionStore()
		sub := seedProviderSub(t, store, billing.StatusActive)

		gateway := webhookGateway(&billing.WebhookEvent{
			ID:             "evt_4",
			Type:           billing.EventSubscriptionUpdated,
			SubscriptionID: "sub_123",
			Status:         "past_due",
		})

		svc := billing.NewService(testPlans(t), gateway, store, newFakeProvisioner(),
			billing.WithEventDedup(billing.NewMemoryEventStore(), 0))

		require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))

		// Recover manually, then replay the same event: dedup must drop it.
		got, err := store.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		got.Status = billing.StatusActive
		require.NoError(t, store.Update(context.Background(), got))

		require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))

		got, err = store.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
	})

	t.Run("failed delivery stays eligible for redelivery", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemorySubscriptionStore()

		gateway := webhookGateway(&billing.WebhookEvent{
			ID:             "evt_9",
			Type:           billing.EventSubscriptionUpdated,
			SubscriptionID: "sub_123",
			Status:         "past_due",
		})

		svc := billing.NewService(testPlans(t), gateway, store, newFakeProvisioner(),
			billing.WithEventDedup(billing.NewMemoryEventStore(), 0))

		// The event arrives before local provisioning has completed.
		err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
		require.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

		// Provisioning completes, then the processor redelivers the same
		// event ID. The failed delivery must not count as processed.
		sub := seedProviderSub(t, store, billing.StatusActive)

		require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))

		got, err := store.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, got.Status)
	})

	t.Run("invoice paid routes to the invoice handler", func(t *testing.T) {
		t.Parallel()

		recorder := &invoiceEventRecorder{}
		gateway := webhookGateway(&billing.WebhookEvent{
			ID:             "evt_5",
			Type:           billing.EventInvoicePaid,
			SubscriptionID: "sub_123",
			InvoiceID:      "txn_1",
			PaymentID:      "pay_1",
		})

		svc := billing.NewService(testPlans(t), gateway, billing.NewMemorySubscriptionStore(), newFakeProvisioner(),
			billing.WithInvoiceEvents(recorder))

		require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
		assert.Equal(t, []string{"txn_1"}, recorder.succeeded)
		assert.Empty(t, recorder.failed)
	})

	t.Run("invoice payment failure routes to the invoice handler", func(t *testing.T) {
		t.Parallel()

		recorder := &invoiceEventRecorder{}
		gateway := webhookGateway(&billing.WebhookEvent{
			ID:             "evt_6",
			Type:           billing.EventInvoicePaymentFail,
			SubscriptionID: "sub_123",
			InvoiceID:      "txn_2",
			ErrorCode:      "card_declined",
		})

		svc := billing.NewService(testPlans(t), gateway, billing.NewMemorySubscriptionStore(), newFakeProvisioner(),
			billing.WithInvoiceEvents(recorder))

		require.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
		assert.Equal(t, []string{"txn_2"}, recorder.failed)
	})

	t.Run("invoice events without a handler are skipped", func(t *testing.T) {
		t.Parallel()

		gateway := webhookGateway(&billing.WebhookEvent{
			ID:        "evt_7",
			Type:      billing.EventInvoicePaid,
			InvoiceID: "txn_3",
		})

		svc := billing.NewService(testPlans(t), gateway, billing.NewMemorySubscriptionStore(), newFakeProvisioner())

		assert.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
	})

	t.Run("trial ending notification is acknowledged", func(t *testing.T) {
		t.Parallel()

		gateway := webhookGateway(&billing.WebhookEvent{
			ID:             "evt_8",
			Type:           billing.EventTrialWillEnd,
			SubscriptionID: "sub_123",
		})

		svc := billing.NewService(testPlans(t), gateway, billing.NewMemorySubscriptionStore(), newFakeProvisioner())

		assert.NoError(t, svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"))
	})
}
