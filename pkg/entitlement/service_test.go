package entitlement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billflowhq/billflow/pkg/billing"
	"github.com/billflowhq/billflow/pkg/entitlement"
	"github.com/billflowhq/billflow/pkg/plan"
)

type fixture struct {
	svc   entitlement.Service
	store *entitlement.MemoryStore
	usage *entitlement.MemoryUsageStore
	subs  *billing.MemorySubscriptionStore
}

func newFixture(t *testing.T, opts ...entitlement.Option) *fixture {
	t.Helper()
	store := entitlement.NewMemoryStore()
	usage := entitlement.NewMemoryUsageStore()
	subs := billing.NewMemorySubscriptionStore()
	return &fixture{
		svc:   entitlement.NewService(store, usage, subs, opts...),
		store: store,
		usage: usage,
		subs:  subs,
	}
}

func (f *fixture) seedSubscription(t *testing.T, userID uuid.UUID) *billing.Subscription {
	t.Helper()
	sub := &billing.Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanName:           "starter",
		Status:             billing.StatusActive,
		CurrentPeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.subs.Create(context.Background(), sub))
	return sub
}

func (f *fixture) grant(t *testing.T, subID uuid.UUID, limits map[plan.Feature]int64) {
	t.Helper()
	require.NoError(t, f.svc.Replace(context.Background(), subID, limits))
}

func TestService_Check(t *testing.T) {
	t.Parallel()

	t.Run("no subscription yields zero result", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		res, err := f.svc.Check(context.Background(), uuid.New(), plan.FeatureCampaigns)
		require.NoError(t, err)
		assert.False(t, res.Granted)
		assert.False(t, res.Allowed)
	})

	t.Run("ungranted feature yields zero result", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureCampaigns: 10})

		res, err := f.svc.Check(context.Background(), userID, plan.FeatureAPICalls)
		require.NoError(t, err)
		assert.False(t, res.Granted)
	})

	t.Run("under limit is allowed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureCampaigns: 10})

		require.NoError(t, f.svc.Record(context.Background(), userID, plan.FeatureCampaigns, 9, "campaigns"))

		res, err := f.svc.Check(context.Background(), userID, plan.FeatureCampaigns)
		require.NoError(t, err)
		assert.True(t, res.Granted)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(9), res.Used)
		assert.Equal(t, int64(10), res.Limit)
	})

	t.Run("at limit is denied", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureCampaigns: 10})

		require.NoError(t, f.svc.Record(context.Background(), userID, plan.FeatureCampaigns, 10, "campaigns"))

		res, err := f.svc.Check(context.Background(), userID, plan.FeatureCampaigns)
		require.NoError(t, err)
		assert.True(t, res.Granted)
		assert.False(t, res.Allowed)
	})

	t.Run("unlimited is always allowed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureAPICalls: plan.Unlimited})

		require.NoError(t, f.svc.Record(context.Background(), userID, plan.FeatureAPICalls, 1_000_000, "calls"))

		res, err := f.svc.Check(context.Background(), userID, plan.FeatureAPICalls)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})
}

func TestService_Enforce(t *testing.T) {
	t.Parallel()

	t.Run("denials are typed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()

		err := f.svc.Enforce(context.Background(), userID, plan.FeatureCampaigns)
		assert.ErrorIs(t, err, entitlement.ErrNoActiveSubscription)

		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureCampaigns: 1})

		err = f.svc.Enforce(context.Background(), userID, plan.FeatureAPICalls)
		assert.ErrorIs(t, err, entitlement.ErrFeatureNotGranted)

		require.NoError(t, f.svc.Record(context.Background(), userID, plan.FeatureCampaigns, 1, "campaigns"))

		err = f.svc.Enforce(context.Background(), userID, plan.FeatureCampaigns)
		assert.ErrorIs(t, err, entitlement.ErrLimitExceeded)

		var limitErr *entitlement.LimitExceededError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, plan.FeatureCampaigns, limitErr.Feature)
		assert.Equal(t, int64(1), limitErr.Used)
		assert.Equal(t, int64(1), limitErr.Limit)
	})

	t.Run("allows under limit and unlimited", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{
			plan.FeatureCampaigns: 5,
			plan.FeatureAPICalls:  plan.Unlimited,
		})

		assert.NoError(t, f.svc.Enforce(context.Background(), userID, plan.FeatureCampaigns))
		assert.NoError(t, f.svc.Enforce(context.Background(), userID, plan.FeatureAPICalls))
	})
}

func TestService_Record(t *testing.T) {
	t.Parallel()

	t.Run("appends usage and increments the counter", func(t *testing.T) {
		t.Parallel()

		recordedAt := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
		f := newFixture(t, entitlement.WithClock(func() time.Time { return recordedAt }))
		userID := uuid.New()
		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureEmails: 100})

		require.NoError(t, f.svc.Record(context.Background(), userID, plan.FeatureEmails, 3, "emails"))
		require.NoError(t, f.svc.Record(context.Background(), userID, plan.FeatureEmails, 4, "emails"))

		ents, err := f.svc.ListForSubscription(context.Background(), sub.ID)
		require.NoError(t, err)
		require.Len(t, ents, 1)
		assert.Equal(t, int64(7), ents[0].Used)

		total, err := f.svc.AggregateUsage(context.Background(), sub.ID, plan.FeatureEmails,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		require.NoError(t, err)
		assert.Equal(t, int64(7), total)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		err := f.svc.Record(context.Background(), uuid.New(), plan.FeatureEmails, 0, "emails")
		assert.ErrorIs(t, err, entitlement.ErrInvalidQuantity)

		err = f.svc.Record(context.Background(), uuid.New(), plan.FeatureEmails, -5, "emails")
		assert.ErrorIs(t, err, entitlement.ErrInvalidQuantity)
	})

	t.Run("rejects ungranted feature", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureCampaigns: 10})

		err := f.svc.Record(context.Background(), userID, plan.FeatureStorageGB, 1, "gb")
		assert.ErrorIs(t, err, entitlement.ErrFeatureNotGranted)
	})

	t.Run("rejects without subscription", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		err := f.svc.Record(context.Background(), uuid.New(), plan.FeatureEmails, 1, "emails")
		assert.ErrorIs(t, err, entitlement.ErrNoActiveSubscription)
	})

	t.Run("concurrent increments sum correctly", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		sub := f.seedSubscription(t, userID)
		f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureAPICalls: plan.Unlimited})

		const workers = 20
		const perWorker = 25

		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range perWorker {
					_ = f.svc.Record(context.Background(), userID, plan.FeatureAPICalls, 1, "calls")
				}
			}()
		}
		wg.Wait()

		ents, err := f.svc.ListForSubscription(context.Background(), sub.ID)
		require.NoError(t, err)
		require.Len(t, ents, 1)
		assert.Equal(t, int64(workers*perWorker), ents[0].Used)
	})
}

func TestService_Replace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	sub := f.seedSubscription(t, userID)

	f.grant(t, sub.ID, map[plan.Feature]int64{plan.FeatureCampaigns: 10})
	require.NoError(t, f.svc.Record(context.Background(), userID, plan.FeatureCampaigns, 8, "campaigns"))

	// Plan change replaces the grants wholesale and zeroes counters.
	f.grant(t, sub.ID, map[plan.Feature]int64{
		plan.FeatureCampaigns: 50,
		plan.FeatureAPICalls:  10_000,
	})

	ents, err := f.svc.ListForSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	for _, e := range ents {
		assert.Zero(t, e.Used)
	}

	res, err := f.svc.Check(context.Background(), userID, plan.FeatureCampaigns)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Limit)
	assert.Zero(t, res.Used)
}

func TestService_ResetAllDue(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start
	f := newFixture(t, entitlement.WithClock(func() time.Time { return now }))

	dueUser, freshUser := uuid.New(), uuid.New()
	dueSub := f.seedSubscription(t, dueUser)
	freshSub := f.seedSubscription(t, freshUser)

	f.grant(t, dueSub.ID, map[plan.Feature]int64{plan.FeatureEmails: 100})
	require.NoError(t, f.svc.Record(context.Background(), dueUser, plan.FeatureEmails, 42, "emails"))

	// The second subscription's window opens a month later.
	now = start.AddDate(0, 0, 15)
	f.grant(t, freshSub.ID, map[plan.Feature]int64{plan.FeatureEmails: 100})
	require.NoError(t, f.svc.Record(context.Background(), freshUser, plan.FeatureEmails, 7, "emails"))

	// Sweep after the first window closes but before the second.
	now = start.AddDate(0, 1, 1)
	require.NoError(t, f.svc.ResetAllDue(context.Background()))

	dueEnts, err := f.svc.ListForSubscription(context.Background(), dueSub.ID)
	require.NoError(t, err)
	require.Len(t, dueEnts, 1)
	assert.Zero(t, dueEnts[0].Used)

	freshEnts, err := f.svc.ListForSubscription(context.Background(), freshSub.ID)
	require.NoError(t, err)
	require.Len(t, freshEnts, 1)
	assert.Equal(t, int64(7), freshEnts[0].Used)
}

func TestEntitlement_Overage(t *testing.T) {
	t.Parallel()

	over := entitlement.Entitlement{Limit: 10, Used: 14}
	assert.Equal(t, int64(4), over.Overage())

	under := entitlement.Entitlement{Limit: 10, Used: 3}
	assert.Zero(t, under.Overage())

	unlimited := entitlement.Entitlement{Limit: plan.Unlimited, Used: 1_000}
	assert.Zero(t, unlimited.Overage())
	assert.True(t, unlimited.Unlimited())
}
