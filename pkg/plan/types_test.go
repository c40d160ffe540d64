package plan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/billflowhq/billflow/pkg/plan"
)

func TestPlan_TrialEndsAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	p := plan.Plan{TrialDays: 14}
	assert.Equal(t, start.AddDate(0, 0, 14), p.TrialEndsAt(start))

	noTrial := plan.Plan{}
	assert.Equal(t, start, noTrial.TrialEndsAt(start))
	assert.False(t, noTrial.HasTrial())
	assert.True(t, p.HasTrial())
}

func TestPlan_PeriodEnd(t *testing.T) {
	t.Parallel()

	from := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	monthly := plan.Plan{Period: plan.BillingPeriodMonthly}
	// AddDate normalizes Jan 31 + 1 month to Mar 3 (or Mar 2 in leap years).
	assert.Equal(t, from.AddDate(0, 1, 0), monthly.PeriodEnd(from))

	yearly := plan.Plan{Period: plan.BillingPeriodYearly}
	assert.Equal(t, from.AddDate(1, 0, 0), yearly.PeriodEnd(from))
}

func TestPlan_LimitFor(t *testing.T) {
	t.Parallel()

	p := plan.Plan{
		Limits: map[plan.Feature]int64{
			plan.FeatureCampaigns: 10,
			plan.FeatureContacts:  plan.Unlimited,
		},
	}

	limit, ok := p.LimitFor(plan.FeatureCampaigns)
	assert.True(t, ok)
	assert.Equal(t, int64(10), limit)

	limit, ok = p.LimitFor(plan.FeatureContacts)
	assert.True(t, ok)
	assert.Equal(t, plan.Unlimited, limit)

	_, ok = p.LimitFor(plan.FeatureStorageGB)
	assert.False(t, ok)
}

func TestPlan_OverageRateFor(t *testing.T) {
	t.Parallel()

	p := plan.Plan{
		OverageRates: map[plan.Feature]int64{plan.FeatureCampaigns: 250},
	}

	assert.Equal(t, int64(250), p.OverageRateFor(plan.FeatureCampaigns))
	// Falls back to the built-in default when the plan has no rate.
	assert.Equal(t, int64(1), p.OverageRateFor(plan.FeatureAPICalls))
}
