package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billflowhq/billflow/pkg/billing"
)

func TestRedisEventStore_MarkProcessed(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := billing.NewRedisEventStore(client)
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	// Replay of the same event is reported as already seen.
	first, err = store.MarkProcessed(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, first)

	// Different events don't collide.
	first, err = store.MarkProcessed(ctx, "evt_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	_, err = store.MarkProcessed(ctx, "", time.Hour)
	assert.Error(t, err)
}

func TestRedisEventStore_IsProcessed(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := billing.NewRedisEventStore(client)
	ctx := context.Background()

	done, err := store.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, done)

	// IsProcessed is a pure read: it must not claim the event ID.
	_, err = store.MarkProcessed(ctx, "evt_1", time.Hour)
	require.NoError(t, err)

	done, err = store.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, done)

	mr.FastForward(2 * time.Hour)

	done, err = store.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = store.IsProcessed(ctx, "")
	assert.Error(t, err)
}

func TestRedisEventStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := billing.NewRedisEventStore(client)
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "evt_ttl", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	mr.FastForward(2 * time.Minute)

	// Once the redelivery window passes, the event ID is forgotten.
	first, err = store.MarkProcessed(ctx, "evt_ttl", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
}
