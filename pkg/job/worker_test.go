package job_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billflowhq/billflow/pkg/job"
)

type workerPayload struct {
	N int `json:"n"`
}

func newTestWorker(t *testing.T, store *job.MemoryStore) *job.Worker {
	t.Helper()
	w, err := job.NewWorker(store,
		job.WithPullInterval(10*time.Millisecond),
		job.WithConcurrency(2))
	require.NoError(t, err)
	return w
}

func TestWorker_ProcessesJobs(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	enqueuer, err := job.NewEnqueuer(store)
	require.NoError(t, err)

	var processed atomic.Int64
	w := newTestWorker(t, store)
	w.Register(job.NewHandler(func(_ context.Context, p workerPayload) error {
		processed.Add(int64(p.N))
		return nil
	}))

	require.NoError(t, enqueuer.Enqueue(context.Background(), workerPayload{N: 2}))
	require.NoError(t, enqueuer.Enqueue(context.Background(), workerPayload{N: 3}))

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		return processed.Load() == 5
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWorker_FailedJobGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	enqueuer, err := job.NewEnqueuer(store)
	require.NoError(t, err)

	var attempts atomic.Int64
	w := newTestWorker(t, store)
	w.Register(job.NewHandler(func(context.Context, workerPayload) error {
		attempts.Add(1)
		return errors.New("always fails")
	}))

	require.NoError(t, enqueuer.Enqueue(context.Background(), workerPayload{}, job.WithMaxRetries(0)))

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		return len(store.DeadJobs()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, int64(1), attempts.Load())
	assert.Equal(t, "always fails", store.DeadJobs()[0].Error)
}

func TestWorker_MissingHandlerIsParked(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.CreateJob(context.Background(), pendingJob("unknown.job", time.Now().Add(-time.Minute))))

	w := newTestWorker(t, store)
	w.Register(job.NewHandler(func(context.Context, workerPayload) error { return nil }))

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		return len(store.DeadJobs()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, store.DeadJobs()[0].Error, "no handler registered")
}

func TestWorker_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	enqueuer, err := job.NewEnqueuer(store)
	require.NoError(t, err)

	w := newTestWorker(t, store)
	w.Register(job.NewHandler(func(context.Context, workerPayload) error {
		panic("handler bug")
	}))

	require.NoError(t, enqueuer.Enqueue(context.Background(), workerPayload{}, job.WithMaxRetries(0)))

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		return len(store.DeadJobs()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, store.DeadJobs()[0].Error, "panic in handler")
}

func TestWorker_StartValidation(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	_, err := job.NewWorker(nil)
	assert.ErrorIs(t, err, job.ErrStoreNil)

	w, err := job.NewWorker(store)
	require.NoError(t, err)

	// No handlers registered yet.
	assert.ErrorIs(t, w.Start(context.Background()), job.ErrNoHandlers)

	w.Register(job.NewHandler(func(context.Context, workerPayload) error { return nil }))
	require.NoError(t, w.Start(context.Background()))

	// Double start is rejected.
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())

	// Stop without start is rejected.
	assert.Error(t, w.Stop())
}

func TestWorker_StopWaitsForInflightJobs(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	enqueuer, err := job.NewEnqueuer(store)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	w := newTestWorker(t, store)
	w.Register(job.NewHandler(func(context.Context, workerPayload) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}))

	require.NoError(t, enqueuer.Enqueue(context.Background(), workerPayload{}))
	require.NoError(t, w.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	stopDone := make(chan struct{})
	go func() {
		_ = w.Stop()
		close(stopDone)
	}()

	// Stop must block while the handler runs.
	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight job finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned")
	}
	assert.True(t, finished.Load())
}

func TestWorker_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	enqueuer, err := job.NewEnqueuer(store)
	require.NoError(t, err)

	var inFlight, peak atomic.Int64
	w, err := job.NewWorker(store,
		job.WithPullInterval(5*time.Millisecond),
		job.WithConcurrency(2))
	require.NoError(t, err)

	w.Register(job.NewHandler(func(context.Context, workerPayload) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	}))

	for range 6 {
		require.NoError(t, enqueuer.Enqueue(context.Background(), workerPayload{}))
	}

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		_, err := store.PendingJobByName(context.Background(), "job_test.workerPayload")
		return errors.Is(err, job.ErrNoJobToClaim) && inFlight.Load() == 0
	}, 10*time.Second, 20*time.Millisecond)

	assert.LessOrEqual(t, peak.Load(), int64(2))
}
