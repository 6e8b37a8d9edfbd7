package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore returns a SnapshotStore backed by Redis. The snapshot
// expires after ttl; zero means no expiry.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) SnapshotStore {
	return &redisStore{rdb: rdb, ttl: ttl}
}

func (s *redisStore) key() string { return "assistant:snapshot:" + lastQueryKey }

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *redisStore) SaveLastQuery(ctx context.Context, text string) error {
	return s.rdb.Set(ctx, s.key(), text, s.ttl).Err()
}

func (s *redisStore) LastQuery(ctx context.Context) (string, error) {
	value, err := s.rdb.Get(ctx, s.key()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}
