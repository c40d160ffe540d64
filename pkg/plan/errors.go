package plan

import "errors"

var (
	ErrPlanNotFound       = errors.New("plan not found")
	ErrInvalidPlan        = errors.New("invalid plan configuration")
	ErrFailedToLoadPlans  = errors.New("failed to load plans")
	ErrNoPlansConfigured  = errors.New("no plans configured")
	ErrDuplicatePlanName  = errors.New("duplicate plan name")
	ErrCatalogFileMissing = errors.New("plan catalog file not found")
)
