package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerStore is the persistence surface the enqueuer needs.
type EnqueuerStore interface {
	// CreateJob persists a new pending job. Returns ErrDuplicateJob when the
	// job carries a non-empty Key and a pending job with the same key exists.
	CreateJob(ctx context.Context, j *Job) error
}

// Enqueuer adds jobs to the queue.
type Enqueuer struct {
	store        EnqueuerStore
	defaultQueue string
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithDefaultQueue sets the queue used when Enqueue gets no WithQueue option.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(e *Enqueuer) {
		if queue != "" {
			e.defaultQueue = queue
		}
	}
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(store EnqueuerStore, opts ...EnqueuerOption) (*Enqueuer, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	e := &Enqueuer{store: store, defaultQueue: DefaultQueue}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Enqueue adds a job. The payload is JSON-marshaled; its type name becomes the
// job name unless WithName overrides it.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) error {
	if payload == nil {
		return ErrPayloadNil
	}

	options := &enqueueOptions{
		queue:      e.defaultQueue,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(options)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	name := options.name
	if name == "" {
		name = qualifiedStructName(payload)
	}

	scheduledAt := time.Now()
	if options.runAt != nil {
		scheduledAt = *options.runAt
	} else if options.delay > 0 {
		scheduledAt = scheduledAt.Add(options.delay)
	}

	j := &Job{
		ID:          uuid.New(),
		Queue:       options.queue,
		Type:        TypeOneTime,
		Name:        name,
		Key:         options.key,
		Payload:     body,
		Status:      StatusPending,
		MaxRetries:  options.maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}

	if err := e.store.CreateJob(ctx, j); err != nil {
		return fmt.Errorf("failed to create job %q in queue %q: %w", j.Name, j.Queue, err)
	}
	return nil
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue      string
	name       string
	key        string
	maxRetries int8
	delay      time.Duration
	runAt      *time.Time
}

// WithQueue routes the job to a specific queue.
func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithName overrides the job name derived from the payload type.
func WithName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithKey sets an idempotency key. A second enqueue with the same key while
// the first job is still pending returns ErrDuplicateJob.
func WithKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.key = key
	}
}

// WithMaxRetries sets the retry budget (0-10).
// Capped at 10 to prevent infinite retry loops on persistent failures.
func WithMaxRetries(maxRetries int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}

// WithDelay defers the job by a duration from now.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithRunAt schedules the job for a specific time.
func WithRunAt(runAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.runAt = &runAt
	}
}
