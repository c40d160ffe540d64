package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerStore is the persistence surface the worker needs.
type WorkerStore interface {
	// ClaimJob atomically claims the next due pending job from the given
	// queues, locking it for lockDuration. Returns ErrNoJobToClaim when
	// nothing is due.
	ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Job, error)

	// CompleteJob marks a processing job as completed.
	CompleteJob(ctx context.Context, jobID uuid.UUID) error

	// FailJob records the error, increments the retry count, and either
	// reschedules the job with backoff or marks it failed.
	FailJob(ctx context.Context, jobID uuid.UUID, errorMsg string) error

	// MoveToDeadLetter parks a job that exhausted its retries.
	MoveToDeadLetter(ctx context.Context, jobID uuid.UUID) error
}

// Worker pulls jobs from the queue and dispatches them to registered handlers.
type Worker struct {
	store    WorkerStore
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex

	pullInterval time.Duration
	lockTimeout  time.Duration
	log          *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueues sets which queues the worker pulls from.
func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

// WithPullInterval sets how often the worker polls for due jobs.
func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pullInterval = d
		}
	}
}

// WithLockTimeout sets how long a claimed job stays locked. It also bounds
// handler execution time.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockTimeout = d
		}
	}
}

// WithConcurrency sets the maximum number of jobs processed at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.sem = make(chan struct{}, n)
		}
	}
}

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWorker creates a worker. Handlers are registered before Start.
func NewWorker(store WorkerStore, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	w := &Worker{
		store:        store,
		handlers:     make(map[string]Handler),
		queues:       []string{DefaultQueue},
		workerID:     uuid.New(),
		sem:          make(chan struct{}, 1),
		pullInterval: 5 * time.Second,
		lockTimeout:  5 * time.Minute,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Register adds handlers. The last handler registered for a name wins.
func (w *Worker) Register(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start begins processing jobs in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)
	go w.run()

	w.log.Info("job worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("concurrency", cap(w.sem)))

	return nil
}

// Stop shuts the worker down, waiting for in-flight jobs to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.log.Info("job worker stopped", slog.String("worker_id", w.workerID.String()))
	return nil
}

// Run returns a function suitable for errgroup: it starts the worker, blocks
// until the context is canceled, then stops it.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				// stopMu prevents adding to the WaitGroup after Stop began waiting.
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()

					if err := w.pullAndProcess(); err != nil && !errors.Is(err, ErrHandlerNotFound) {
						w.log.Error("failed to process job",
							slog.String("worker_id", w.workerID.String()),
							slog.String("error", err.Error()))
					}
				}()
			default:
				// All slots busy, skip this tick.
			}
		}
	}
}

func (w *Worker) pullAndProcess() error {
	j, err := w.store.ClaimJob(w.ctx, w.workerID, w.queues, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoJobToClaim) {
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}
	return w.process(j)
}

func (w *Worker) process(j *Job) (retErr error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.log.Error("job handler panicked",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Any("panic", r))
			_ = w.onFailure(j, retErr)
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[j.Name]
	w.mu.RUnlock()

	if !ok {
		return w.onMissingHandler(j)
	}

	// Detached from the worker lifecycle so graceful shutdown lets running
	// jobs finish; bounded by the lock timeout instead.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	if err := handler.Handle(ctx, j.Payload); err != nil {
		return w.onFailure(j, err)
	}

	if err := w.store.CompleteJob(w.ctx, j.ID); err != nil {
		return fmt.Errorf("failed to mark job %s as completed: %w", j.ID, err)
	}

	w.log.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// onMissingHandler parks the job immediately: retries cannot succeed without
// a handler, and the dead-letter queue lets operators requeue once the
// handler ships.
func (w *Worker) onMissingHandler(j *Job) error {
	w.log.Error("no handler registered for job",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name))

	if err := w.store.FailJob(w.ctx, j.ID, "no handler registered for job name: "+j.Name); err != nil {
		return fmt.Errorf("failed to mark job %s as failed: %w", j.ID, err)
	}
	if err := w.store.MoveToDeadLetter(w.ctx, j.ID); err != nil {
		return fmt.Errorf("failed to move job %s to dead letter queue: %w", j.ID, err)
	}
	return ErrHandlerNotFound
}

func (w *Worker) onFailure(j *Job, execErr error) error {
	w.log.Error("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retry_count", int(j.RetryCount)),
		slog.Int("max_retries", int(j.MaxRetries)),
		slog.String("error", execErr.Error()))

	if err := w.store.FailJob(w.ctx, j.ID, execErr.Error()); err != nil {
		return fmt.Errorf("failed to mark job %s as failed: %w", j.ID, err)
	}

	if j.RetryCount >= j.MaxRetries {
		if err := w.store.MoveToDeadLetter(w.ctx, j.ID); err != nil {
			return fmt.Errorf("failed to move job %s to dead letter queue: %w", j.ID, err)
		}
		w.log.Warn("job moved to dead letter queue",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name))
	}
	return nil
}
