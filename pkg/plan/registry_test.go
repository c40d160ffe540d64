package plan_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billflowhq/billflow/pkg/plan"
)

func testCatalog() plan.StaticSource {
	return plan.StaticSource{
		"STARTER": {
			Name:    "STARTER",
			PriceID: "pri_starter",
			Price:   plan.Money{Amount: 1900, Currency: "USD"},
			Period:  plan.BillingPeriodMonthly,
			Limits: map[plan.Feature]int64{
				plan.FeatureCampaigns: 3,
				plan.FeatureAPICalls:  1000,
			},
		},
		"PROFESSIONAL": {
			Name:      "PROFESSIONAL",
			PriceID:   "pri_professional",
			Price:     plan.Money{Amount: 4900, Currency: "USD"},
			Period:    plan.BillingPeriodMonthly,
			TrialDays: 14,
			Limits: map[plan.Feature]int64{
				plan.FeatureCampaigns: 10,
				plan.FeatureContacts:  plan.Unlimited,
			},
			OverageRates: map[plan.Feature]int64{
				plan.FeatureCampaigns: 250,
			},
		},
	}
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	t.Run("loads and validates catalog", func(t *testing.T) {
		t.Parallel()

		reg, err := plan.NewRegistry(context.Background(), testCatalog())
		require.NoError(t, err)
		require.NotNil(t, reg)
		assert.Len(t, reg.All(), 2)
	})

	t.Run("rejects empty catalog", func(t *testing.T) {
		t.Parallel()

		_, err := plan.NewRegistry(context.Background(), plan.StaticSource{})
		require.Error(t, err)
		assert.ErrorIs(t, err, plan.ErrNoPlansConfigured)
	})

	t.Run("rejects name mismatch", func(t *testing.T) {
		t.Parallel()

		src := plan.StaticSource{
			"FREE": {Name: "NOT_FREE", Period: plan.BillingPeriodNone},
		}
		_, err := plan.NewRegistry(context.Background(), src)
		assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	})

	t.Run("rejects negative trial days", func(t *testing.T) {
		t.Parallel()

		src := plan.StaticSource{
			"FREE": {Name: "FREE", Period: plan.BillingPeriodNone, TrialDays: -1},
		}
		_, err := plan.NewRegistry(context.Background(), src)
		assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	})

	t.Run("rejects unknown billing period", func(t *testing.T) {
		t.Parallel()

		src := plan.StaticSource{
			"FREE": {Name: "FREE", Period: "weekly"},
		}
		_, err := plan.NewRegistry(context.Background(), src)
		assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	})

	t.Run("rejects limit below unlimited sentinel", func(t *testing.T) {
		t.Parallel()

		src := plan.StaticSource{
			"FREE": {
				Name:   "FREE",
				Period: plan.BillingPeriodNone,
				Limits: map[plan.Feature]int64{plan.FeatureCampaigns: -2},
			},
		}
		_, err := plan.NewRegistry(context.Background(), src)
		assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	})
}

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()

	reg, err := plan.NewRegistry(context.Background(), testCatalog())
	require.NoError(t, err)

	t.Run("by name", func(t *testing.T) {
		t.Parallel()

		p, err := reg.ByName("PROFESSIONAL")
		require.NoError(t, err)
		assert.Equal(t, "pri_professional", p.PriceID)
		assert.Equal(t, 14, p.TrialDays)
	})

	t.Run("by name not found", func(t *testing.T) {
		t.Parallel()

		_, err := reg.ByName("ENTERPRISE")
		assert.ErrorIs(t, err, plan.ErrPlanNotFound)
	})

	t.Run("by price ID", func(t *testing.T) {
		t.Parallel()

		p, err := reg.ByPriceID("pri_starter")
		require.NoError(t, err)
		assert.Equal(t, "STARTER", p.Name)
	})

	t.Run("by price ID not found", func(t *testing.T) {
		t.Parallel()

		_, err := reg.ByPriceID("pri_unknown")
		assert.ErrorIs(t, err, plan.ErrPlanNotFound)
	})

	t.Run("all returns a copy", func(t *testing.T) {
		t.Parallel()

		all := reg.All()
		delete(all, "STARTER")

		_, err := reg.ByName("STARTER")
		assert.NoError(t, err)
	})
}

func TestYAMLSource(t *testing.T) {
	t.Parallel()

	t.Run("loads catalog file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "plans.yaml")
		content := `plans:
  - name: FREE
    period: none
    price: {amount: 0, currency: USD}
    limits:
      campaigns: 1
  - name: PROFESSIONAL
    price_id: pri_professional
    period: monthly
    trial_days: 14
    price: {amount: 4900, currency: USD}
    limits:
      campaigns: 10
      contacts: -1
    overage_rates:
      campaigns: 250
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		reg, err := plan.NewRegistry(context.Background(), plan.NewYAMLSource(path))
		require.NoError(t, err)

		p, err := reg.ByName("PROFESSIONAL")
		require.NoError(t, err)
		assert.Equal(t, int64(4900), p.Price.Amount)
		assert.Equal(t, int64(plan.Unlimited), p.Limits[plan.FeatureContacts])
		assert.Equal(t, int64(250), p.OverageRateFor(plan.FeatureCampaigns))
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := plan.NewYAMLSource("/nonexistent/plans.yaml").Load(context.Background())
		assert.ErrorIs(t, err, plan.ErrCatalogFileMissing)
	})

	t.Run("duplicate plan names", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "plans.yaml")
		content := `plans:
  - name: FREE
    period: none
  - name: FREE
    period: none
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		_, err := plan.NewYAMLSource(path).Load(context.Background())
		assert.ErrorIs(t, err, plan.ErrDuplicatePlanName)
	})
}
