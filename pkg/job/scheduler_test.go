package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billflowhq/billflow/pkg/job"
)

func TestScheduler_AddPeriodic(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	s, err := job.NewScheduler(store)
	require.NoError(t, err)

	require.NoError(t, s.AddPeriodic("sweep", job.Hourly()))

	err = s.AddPeriodic("sweep", job.Daily())
	assert.ErrorIs(t, err, job.ErrJobAlreadyRegistered)

	_, err = job.NewScheduler(nil)
	assert.ErrorIs(t, err, job.ErrStoreNil)
}

func TestScheduler_StartRequiresJobs(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	s, err := job.NewScheduler(store)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(context.Background()), job.ErrSchedulerNotConfigured)
}

func TestScheduler_CreatesPeriodicRuns(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	s, err := job.NewScheduler(store, job.WithCheckInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, s.AddPeriodic("sweep", job.Every(time.Millisecond),
		job.WithPeriodicQueue("maintenance"),
		job.WithPeriodicMaxRetries(1)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := store.PendingJobByName(context.Background(), "sweep")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.PendingJobByName(context.Background(), "sweep")
	require.NoError(t, err)
	assert.Equal(t, job.TypePeriodic, got.Type)
	assert.Equal(t, "maintenance", got.Queue)
	assert.Equal(t, int8(1), got.MaxRetries)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never shut down")
	}
}

func TestScheduler_SkipsWhenRunAlreadyPending(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	s, err := job.NewScheduler(store, job.WithCheckInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, s.AddPeriodic("sweep", job.Every(time.Millisecond)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := store.PendingJobByName(context.Background(), "sweep")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// Let several check cycles pass; the pending run must keep the scheduler
	// from stacking duplicates.
	time.Sleep(100 * time.Millisecond)

	cancel()

	count := 0
	for {
		// Claim drains due pending runs one at a time.
		_, err := store.ClaimJob(context.Background(), uuid.New(), []string{job.DefaultQueue}, time.Minute)
		if errors.Is(err, job.ErrNoJobToClaim) {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 1, count)
}
