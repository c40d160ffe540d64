package entitlement

import (
	"errors"
	"fmt"

	"github.com/billflowhq/billflow/pkg/plan"
)

var (
	ErrEntitlementNotFound  = errors.New("entitlement not found")
	ErrFeatureNotGranted    = errors.New("feature not granted by plan")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrLimitExceeded        = errors.New("entitlement limit exceeded")
	ErrInvalidQuantity      = errors.New("usage quantity must be positive")
)

// LimitExceededError carries the usage snapshot that caused the denial.
// Unwraps to ErrLimitExceeded for errors.Is matching.
type LimitExceededError struct {
	Feature plan.Feature
	Used    int64
	Limit   int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded for %s: %d of %d used", e.Feature, e.Used, e.Limit)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}
