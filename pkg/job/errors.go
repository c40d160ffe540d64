package job

import "errors"

var (
	ErrStoreNil        = errors.New("job store cannot be nil")
	ErrPayloadNil      = errors.New("payload cannot be nil")
	ErrDuplicateJob    = errors.New("pending job with the same key already exists")
	ErrHandlerNotFound = errors.New("no handler registered for job name")
	ErrNoHandlers      = errors.New("no job handlers registered")
	ErrNoJobToClaim    = errors.New("no job available to claim")

	ErrJobAlreadyRegistered   = errors.New("periodic job already registered")
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered jobs")
)
