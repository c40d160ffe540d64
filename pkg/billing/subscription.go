package billing

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a subscription.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusUnpaid   Status = "unpaid"
	StatusCanceled Status = "canceled"
)

// Billable reports whether the subscription grants access to the product.
// Only trialing and active subscriptions count toward the
// one-subscription-per-user invariant.
func (s Status) Billable() bool {
	return s == StatusActive || s == StatusTrialing
}

// Terminal reports whether no further automatic transition occurs from s.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusUnpaid
}

// validTransitions encodes the subscription state machine.
// Webhook handlers consult it so replayed or out-of-order events no-op
// instead of double-applying a transition.
var validTransitions = map[Status][]Status{
	StatusTrialing: {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:   {StatusPastDue, StatusCanceled},
	StatusPastDue:  {StatusActive, StatusUnpaid, StatusCanceled},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Subscription represents a user's subscription to a plan.
// Records are never physically deleted; lifecycle is expressed through
// status transitions.
type Subscription struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	PlanName           string
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CancelAt           *time.Time
	CanceledAt         *time.Time
	ProviderCustomerID string // payment gateway customer reference
	ProviderSubID      string // payment gateway subscription reference
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsTrialing returns true if the subscription is in trial status.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// IsActive returns true if the subscription is active (paid).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsTrialExpiredAt reports whether the trial window has ended at the given time.
func (s *Subscription) IsTrialExpiredAt(now time.Time) bool {
	if s.TrialEnd == nil {
		return false
	}
	return now.After(*s.TrialEnd)
}

// TrialDaysRemainingAt returns the number of days remaining in the trial at a
// given time. Returns 0 if not in trial or the trial has expired.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.IsTrialing() || s.TrialEnd == nil {
		return 0
	}

	remaining := s.TrialEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}

	// Round up partial days to be user-friendly
	days := remaining.Hours() / 24
	return int(days + 0.5)
}
