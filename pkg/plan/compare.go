package plan

// Change describes the difference between two plans, used to decide
// upgrade/downgrade handling when a subscription switches plan.
type Change struct {
	From       Plan
	To         Plan
	PriceDelta int64 // minor units; positive for upgrades

	// Tightened lists features whose limit shrinks under the new plan
	// (including features the new plan drops entirely).
	Tightened []Feature
}

// Upgrade reports whether the change moves to a more expensive plan.
func (c Change) Upgrade() bool {
	return c.PriceDelta > 0
}

// ComparePlans diffs two plans. A feature counts as tightened when its new
// limit is lower than the old one, treating Unlimited as larger than any
// finite limit and a missing grant as zero.
func ComparePlans(from, to Plan) Change {
	c := Change{
		From:       from,
		To:         to,
		PriceDelta: to.Price.Amount - from.Price.Amount,
	}
	for feature, oldLimit := range from.Limits {
		newLimit, granted := to.Limits[feature]
		if !granted {
			newLimit = 0
		}
		if oldLimit == Unlimited && newLimit != Unlimited {
			c.Tightened = append(c.Tightened, feature)
			continue
		}
		if newLimit != Unlimited && newLimit < oldLimit {
			c.Tightened = append(c.Tightened, feature)
		}
	}
	return c
}
