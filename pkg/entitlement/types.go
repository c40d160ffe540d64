package entitlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/plan"
)

// ResetPeriod controls when an entitlement's usage counter rolls back to zero.
type ResetPeriod string

const (
	ResetMonthly ResetPeriod = "monthly"
	ResetNever   ResetPeriod = "never"
)

// Entitlement is a per-subscription, per-feature usage allowance.
//
// The used counter is monotonic within a reset period and incremented with an
// atomic in-place add, never read-modify-write. Because checks read without
// locking, used may transiently exceed the limit under concurrent increments;
// overshoot is billed as overage at period end rather than prevented.
type Entitlement struct {
	SubscriptionID uuid.UUID
	Feature        plan.Feature
	Limit          int64 // plan.Unlimited for no limit
	Used           int64
	ResetPeriod    ResetPeriod
	LastResetAt    time.Time
	NextResetAt    *time.Time // nil when the counter never resets
}

// Unlimited reports whether the entitlement has no usage cap.
func (e Entitlement) Unlimited() bool {
	return e.Limit == plan.Unlimited
}

// Overage returns the usage above the limit, zero for unlimited entitlements.
func (e Entitlement) Overage() int64 {
	if e.Unlimited() || e.Used <= e.Limit {
		return 0
	}
	return e.Used - e.Limit
}

// UsageRecord is an append-only usage event. Records are never mutated;
// retention policy is the only thing that removes them.
type UsageRecord struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	Feature        plan.Feature
	Quantity       int64
	Unit           string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	RecordedAt     time.Time
}

// CheckResult is the outcome of an entitlement check.
type CheckResult struct {
	Allowed bool
	Granted bool  // feature exists on the subscription's plan
	Limit   int64 // plan.Unlimited when uncapped
	Used    int64
}
