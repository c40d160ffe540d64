package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchedulerStore is the persistence surface the scheduler needs.
type SchedulerStore interface {
	CreateJob(ctx context.Context, j *Job) error

	// PendingJobByName returns a pending job with the given name, or
	// ErrNoJobToClaim when none exists. Prevents duplicate periodic runs when
	// multiple scheduler instances overlap.
	PendingJobByName(ctx context.Context, name string) (*Job, error)
}

// Scheduler creates periodic job runs according to registered schedules.
type Scheduler struct {
	store    SchedulerStore
	jobs     map[string]*periodicJob
	mu       sync.RWMutex
	interval time.Duration
	log      *slog.Logger
}

type periodicJob struct {
	name            string
	schedule        Schedule
	queue           string
	maxRetries      int8
	lastScheduledAt *time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets how often the scheduler checks for due jobs.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// NewScheduler creates a Scheduler.
func NewScheduler(store SchedulerStore, opts ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	s := &Scheduler{
		store:    store,
		jobs:     make(map[string]*periodicJob),
		interval: 30 * time.Second,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PeriodicOption configures one registered periodic job.
type PeriodicOption func(*periodicJob)

// WithPeriodicQueue routes the periodic job to a specific queue.
func WithPeriodicQueue(queue string) PeriodicOption {
	return func(p *periodicJob) {
		if queue != "" {
			p.queue = queue
		}
	}
}

// WithPeriodicMaxRetries sets the retry budget for each periodic run (0-10).
func WithPeriodicMaxRetries(maxRetries int8) PeriodicOption {
	return func(p *periodicJob) {
		if maxRetries >= 0 && maxRetries <= 10 {
			p.maxRetries = maxRetries
		}
	}
}

// AddPeriodic registers a periodic job under a unique name.
func (s *Scheduler) AddPeriodic(name string, schedule Schedule, opts ...PeriodicOption) error {
	p := &periodicJob{
		name:       name,
		schedule:   schedule,
		queue:      DefaultQueue,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return ErrJobAlreadyRegistered
	}
	s.jobs[name] = p

	s.log.Info("registered periodic job",
		slog.String("job_name", name),
		slog.String("schedule", schedule.String()))

	return nil
}

// Start runs the scheduling loop until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	count := len(s.jobs)
	s.mu.RUnlock()

	if count == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.check(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	s.mu.RLock()
	jobs := make([]*periodicJob, 0, len(s.jobs))
	for _, p := range s.jobs {
		jobs = append(jobs, p)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, p := range jobs {
		if err := s.scheduleIfDue(ctx, p, now); err != nil {
			s.log.Error("failed to schedule periodic job",
				slog.String("job_name", p.name),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) scheduleIfDue(ctx context.Context, p *periodicJob, now time.Time) error {
	var nextRun time.Time
	if p.lastScheduledAt == nil {
		nextRun = p.schedule.Next(now)
	} else {
		nextRun = p.schedule.Next(*p.lastScheduledAt)
		if nextRun.After(now) {
			return nil
		}
	}

	// Another scheduler instance may have created the run already.
	if existing, err := s.store.PendingJobByName(ctx, p.name); err == nil && existing != nil {
		s.markScheduled(p.name, existing.ScheduledAt)
		return nil
	}

	j := &Job{
		ID:          uuid.New(),
		Queue:       p.queue,
		Type:        TypePeriodic,
		Name:        p.name,
		Status:      StatusPending,
		MaxRetries:  p.maxRetries,
		ScheduledAt: nextRun,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return fmt.Errorf("failed to create periodic job: %w", err)
	}

	s.markScheduled(p.name, nextRun)
	s.log.Info("created periodic job run",
		slog.String("job_name", p.name),
		slog.Time("scheduled_for", nextRun))

	return nil
}

func (s *Scheduler) markScheduled(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.jobs[name]; ok {
		p.lastScheduledAt = &at
	}
}
