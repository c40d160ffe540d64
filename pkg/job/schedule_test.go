package job_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/billflowhq/billflow/pkg/job"
)

func TestIntervalSchedules(t *testing.T) {
	t.Parallel()

	from := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, from.Add(15*time.Minute), job.Every(15*time.Minute).Next(from))
	assert.Equal(t, from.Add(time.Hour), job.Hourly().Next(from))
}

func TestDailySchedules(t *testing.T) {
	t.Parallel()

	from := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

	// Midnight has passed, so the next run is tomorrow.
	assert.Equal(t, time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC), job.Daily().Next(from))

	// Today's slot is still ahead.
	assert.Equal(t, time.Date(2025, 3, 15, 14, 0, 0, 0, time.UTC), job.DailyAt(14, 0).Next(from))

	// Today's slot has passed.
	assert.Equal(t, time.Date(2025, 3, 16, 9, 0, 0, 0, time.UTC), job.DailyAt(9, 0).Next(from))
}

func TestMonthlySchedule(t *testing.T) {
	t.Parallel()

	t.Run("this month when the day is ahead", func(t *testing.T) {
		t.Parallel()

		from := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), job.Monthly(20).Next(from))
	})

	t.Run("next month when the day has passed", func(t *testing.T) {
		t.Parallel()

		from := time.Date(2025, 3, 25, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC), job.Monthly(20).Next(from))
	})

	t.Run("day 31 clamps to shorter months", func(t *testing.T) {
		t.Parallel()

		from := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), job.Monthly(31).Next(from))

		// February in a non-leap year.
		from = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), job.Monthly(31).Next(from))
	})

	t.Run("december rolls into january", func(t *testing.T) {
		t.Parallel()

		from := time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), job.Monthly(20).Next(from))
	})
}
