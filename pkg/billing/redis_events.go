package billing

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEventStore implements ProcessedEventStore on Redis.
// SET NX makes MarkProcessed atomic across multiple webhook consumers, and
// the TTL keeps the key space bounded to the gateway's redelivery window.
type RedisEventStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisEventStore creates a Redis-backed processed-event store.
func NewRedisEventStore(client redis.UniversalClient) *RedisEventStore {
	if client == nil {
		panic("billing: redis client is required")
	}
	return &RedisEventStore{
		client:    client,
		keyPrefix: "billing:webhook_event:",
	}
}

func (s *RedisEventStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event ID is required")
	}

	n, err := s.client.Exists(ctx, s.keyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisEventStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return false, errors.New("event ID is required")
	}

	first, err := s.client.SetNX(ctx, s.keyPrefix+eventID, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return first, nil
}
