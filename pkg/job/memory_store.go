package job

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements all job store interfaces in memory. Intended for
// tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	dead map[uuid.UUID]*DeadJob

	byStatus map[Status][]uuid.UUID

	lockTicker *time.Ticker
	done       chan struct{}
}

// NewMemoryStore creates an in-memory job store with background lock
// expiration, so jobs claimed by a crashed worker become claimable again.
func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		jobs:     make(map[uuid.UUID]*Job),
		dead:     make(map[uuid.UUID]*DeadJob),
		byStatus: make(map[Status][]uuid.UUID),
		done:     make(chan struct{}),
	}

	ms.lockTicker = time.NewTicker(time.Second)
	go ms.expireLoop()

	return ms
}

// Close stops the lock expiration goroutine.
func (ms *MemoryStore) Close() error {
	close(ms.done)
	ms.lockTicker.Stop()
	return nil
}

// CreateJob implements EnqueuerStore and SchedulerStore.
func (ms *MemoryStore) CreateJob(_ context.Context, j *Job) error {
	if j == nil {
		return errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[j.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", j.ID)
	}

	if j.Key != "" {
		for _, id := range ms.byStatus[StatusPending] {
			if ms.jobs[id].Key == j.Key {
				return ErrDuplicateJob
			}
		}
	}

	cp := *j
	ms.jobs[j.ID] = &cp
	ms.byStatus[j.Status] = append(ms.byStatus[j.Status], j.ID)
	return nil
}

// PendingJobByName implements SchedulerStore.
func (ms *MemoryStore) PendingJobByName(_ context.Context, name string) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, id := range ms.byStatus[StatusPending] {
		if j := ms.jobs[id]; j.Name == name {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrNoJobToClaim
}

// ClaimJob implements WorkerStore. The oldest due job wins.
func (ms *MemoryStore) ClaimJob(_ context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var best *Job
	for _, id := range ms.byStatus[StatusPending] {
		j := ms.jobs[id]
		if !slices.Contains(queues, j.Queue) {
			continue
		}
		if j.ScheduledAt.After(now) {
			continue
		}
		if j.LockedUntil != nil && j.LockedUntil.After(now) {
			continue
		}
		if best == nil || j.ScheduledAt.Before(best.ScheduledAt) {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNoJobToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = StatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	ms.removeFromStatusIndex(best.ID, StatusPending)
	ms.byStatus[StatusProcessing] = append(ms.byStatus[StatusProcessing], best.ID)

	cp := *best
	return &cp, nil
}

// CompleteJob implements WorkerStore.
func (ms *MemoryStore) CompleteJob(_ context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, exists := ms.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not found", jobID)
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("job %s is not in processing state", jobID)
	}

	now := time.Now()
	j.Status = StatusCompleted
	j.ProcessedAt = &now
	j.LockedUntil = nil
	j.LockedBy = nil

	ms.removeFromStatusIndex(jobID, StatusProcessing)
	ms.byStatus[StatusCompleted] = append(ms.byStatus[StatusCompleted], jobID)
	return nil
}

// FailJob implements WorkerStore. Jobs with retries left are rescheduled
// with linear backoff (30s, 60s, 90s...).
func (ms *MemoryStore) FailJob(_ context.Context, jobID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, exists := ms.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not found", jobID)
	}
	if j.Status != StatusProcessing {
		return fmt.Errorf("job %s is not in processing state", jobID)
	}

	j.RetryCount++
	j.Error = &errorMsg
	j.LockedUntil = nil
	j.LockedBy = nil

	ms.removeFromStatusIndex(jobID, StatusProcessing)
	if j.RetryCount >= j.MaxRetries {
		j.Status = StatusFailed
		ms.byStatus[StatusFailed] = append(ms.byStatus[StatusFailed], jobID)
	} else {
		j.Status = StatusPending
		j.ScheduledAt = time.Now().Add(time.Duration(j.RetryCount) * 30 * time.Second)
		ms.byStatus[StatusPending] = append(ms.byStatus[StatusPending], jobID)
	}
	return nil
}

// MoveToDeadLetter implements WorkerStore.
func (ms *MemoryStore) MoveToDeadLetter(_ context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, exists := ms.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not found", jobID)
	}

	entry := &DeadJob{
		ID:         uuid.New(),
		JobID:      j.ID,
		Queue:      j.Queue,
		Type:       j.Type,
		Name:       j.Name,
		Payload:    j.Payload,
		RetryCount: j.RetryCount,
		FailedAt:   time.Now(),
		CreatedAt:  time.Now(),
	}
	if j.Error != nil {
		entry.Error = *j.Error
	}
	ms.dead[entry.ID] = entry

	ms.removeFromStatusIndex(jobID, j.Status)
	delete(ms.jobs, jobID)
	return nil
}

// DeadJobs returns the dead-letter queue contents.
func (ms *MemoryStore) DeadJobs() []DeadJob {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]DeadJob, 0, len(ms.dead))
	for _, d := range ms.dead {
		out = append(out, *d)
	}
	return out
}

func (ms *MemoryStore) removeFromStatusIndex(jobID uuid.UUID, status Status) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == jobID
	})
}

func (ms *MemoryStore) expireLoop() {
	for {
		select {
		case <-ms.lockTicker.C:
			ms.expireLocks()
		case <-ms.done:
			return
		}
	}
}

// expireLocks resets processing jobs whose lock has lapsed back to pending,
// preserving their retry count.
func (ms *MemoryStore) expireLocks() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	for _, jobID := range ms.byStatus[StatusProcessing] {
		j := ms.jobs[jobID]
		if j.LockedUntil != nil && j.LockedUntil.Before(now) {
			j.Status = StatusPending
			j.LockedUntil = nil
			j.LockedBy = nil

			ms.removeFromStatusIndex(jobID, StatusProcessing)
			ms.byStatus[StatusPending] = append(ms.byStatus[StatusPending], jobID)
		}
	}
}
