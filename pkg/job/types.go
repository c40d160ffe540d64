package job

import (
	"time"

	"github.com/google/uuid"
)

// DefaultQueue is the queue name used when no queue is specified.
const DefaultQueue = "default"

// Type distinguishes one-shot jobs from scheduler-created periodic runs.
type Type string

const (
	TypeOneTime  Type = "one-time"
	TypePeriodic Type = "periodic"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is a unit of deferred work.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Queue       string     `json:"queue"`
	Type        Type       `json:"type"`
	Name        string     `json:"name"`
	Key         string     `json:"key,omitempty"` // idempotency key, unique among pending jobs
	Payload     []byte     `json:"payload,omitempty"`
	Status      Status     `json:"status"`
	RetryCount  int8       `json:"retry_count"`
	MaxRetries  int8       `json:"max_retries"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DeadJob is a job that exhausted its retries, parked for manual inspection.
type DeadJob struct {
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"job_id"`
	Queue      string    `json:"queue"`
	Type       Type      `json:"type"`
	Name       string    `json:"name"`
	Payload    []byte    `json:"payload,omitempty"`
	Error      string    `json:"error"`
	RetryCount int8      `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
	CreatedAt  time.Time `json:"created_at"`
}
