package plan

import (
	"context"
	"errors"
	"fmt"
)

// Source defines how plans are loaded into the registry.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Registry is an immutable, validated view over the loaded plan catalog.
type Registry struct {
	plans map[string]Plan
}

// NewRegistry loads plans from the source and validates them.
// Loading happens once at construction; the registry never reloads.
func NewRegistry(ctx context.Context, src Source) (*Registry, error) {
	if src == nil {
		panic("plan: Source is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if len(plans) == 0 {
		return nil, errors.Join(ErrFailedToLoadPlans, ErrNoPlansConfigured)
	}

	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	return &Registry{plans: plans}, nil
}

// ByName returns the plan with the given name.
func (r *Registry) ByName(name string) (Plan, error) {
	p, ok := r.plans[name]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// ByPriceID returns the plan mapped to a payment provider price ID.
func (r *Registry) ByPriceID(priceID string) (Plan, error) {
	for _, p := range r.plans {
		if p.PriceID != "" && p.PriceID == priceID {
			return p, nil
		}
	}
	return Plan{}, ErrPlanNotFound
}

// All returns a copy of the plan catalog.
func (r *Registry) All() map[string]Plan {
	out := make(map[string]Plan, len(r.plans))
	for name, p := range r.plans {
		out[name] = p
	}
	return out
}

// validatePlans ensures plan configurations are internally consistent.
// Catches common configuration errors early to prevent runtime issues.
func validatePlans(plans map[string]Plan) error {
	for name, p := range plans {
		if p.Name != name {
			return errors.Join(ErrInvalidPlan,
				fmt.Errorf("plan name mismatch: map key %s != plan.Name %s", name, p.Name))
		}
		if p.TrialDays < 0 {
			return errors.Join(ErrInvalidPlan,
				fmt.Errorf("plan %s has negative trial days: %d", name, p.TrialDays))
		}
		if p.Price.Amount < 0 {
			return errors.Join(ErrInvalidPlan,
				fmt.Errorf("plan %s has negative price: %d", name, p.Price.Amount))
		}
		switch p.Period {
		case BillingPeriodNone, BillingPeriodMonthly, BillingPeriodYearly:
		default:
			return errors.Join(ErrInvalidPlan,
				fmt.Errorf("plan %s has unknown billing period %q", name, p.Period))
		}
		for feature, limit := range p.Limits {
			if limit < Unlimited {
				return errors.Join(ErrInvalidPlan,
					fmt.Errorf("plan %s has invalid limit %d for feature %s", name, limit, feature))
			}
		}
		for feature, rate := range p.OverageRates {
			if rate < 0 {
				return errors.Join(ErrInvalidPlan,
					fmt.Errorf("plan %s has negative overage rate for feature %s", name, feature))
			}
		}
	}
	return nil
}
