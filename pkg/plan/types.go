package plan

import "time"

// Feature is a metered feature name, e.g. "campaigns" or "api_calls".
type Feature string

const (
	FeatureCampaigns   Feature = "campaigns"
	FeatureContacts    Feature = "contacts"
	FeatureAPICalls    Feature = "api_calls"
	FeatureTeamMembers Feature = "team_members"
	FeatureStorageGB   Feature = "storage_gb"
	FeatureEmails      Feature = "emails"
)

const (
	// Unlimited indicates no limit for a feature (-1 chosen for SQL compatibility)
	Unlimited int64 = -1
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount"`
	Currency string `yaml:"currency"` // ISO 4217 currency code
}

// BillingPeriod represents the billing frequency for a subscription plan.
type BillingPeriod string

const (
	BillingPeriodNone    BillingPeriod = "none" // Free plans with no billing
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// Plan describes a subscription plan: its price, billing period, trial length,
// per-feature usage limits, and per-feature overage rates.
// Plans are immutable per version; the engine never writes them.
type Plan struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	PriceID      string            `yaml:"price_id"` // payment provider's price ID
	Price        Money             `yaml:"price"`
	Period       BillingPeriod     `yaml:"period"`
	TrialDays    int               `yaml:"trial_days"`
	Limits       map[Feature]int64 `yaml:"limits"`        // -1 represents unlimited
	OverageRates map[Feature]int64 `yaml:"overage_rates"` // minor units per excess unit
	Public       bool              `yaml:"public"`        // available for self-service signup
}

// defaultOverageRates is the built-in per-unit overage pricing used when a
// plan does not configure a rate for a feature.
var defaultOverageRates = map[Feature]int64{
	FeatureCampaigns:   100, // $1.00 per campaign over limit
	FeatureContacts:    1,
	FeatureAPICalls:    1,
	FeatureTeamMembers: 500,
	FeatureStorageGB:   50,
	FeatureEmails:      1,
}

// HasTrial reports whether the plan grants a trial period.
func (p Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// TrialEndsAt calculates when the trial period ends.
// Returns startedAt unchanged if no trial is available.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// PeriodEnd returns the end of a billing period starting at from.
func (p Plan) PeriodEnd(from time.Time) time.Time {
	switch p.Period {
	case BillingPeriodYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// LimitFor returns the usage limit for a feature.
// The second return value is false when the plan does not grant the feature.
func (p Plan) LimitFor(f Feature) (int64, bool) {
	limit, ok := p.Limits[f]
	return limit, ok
}

// OverageRateFor returns the per-unit overage rate in minor currency units.
// Plan-configured rates take precedence over the built-in defaults.
func (p Plan) OverageRateFor(f Feature) int64 {
	if rate, ok := p.OverageRates[f]; ok {
		return rate
	}
	return defaultOverageRates[f]
}
