package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SecondaryStorage is an optional key-value tier in front of the adapter.
// When configured it is authoritative for session reads and deletions and
// provides the atomic check-and-insert used by replay guards.
type SecondaryStorage interface {
	// Get returns nil, nil when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetIfNotExists inserts atomically; false means the key already existed.
	// First use wins under concurrent attempts on the identical key.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

type redisSecondaryStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSecondaryStorage wraps a go-redis client as [SecondaryStorage].
func NewRedisSecondaryStorage(client redis.UniversalClient, prefix string) SecondaryStorage {
	if prefix == "" {
		prefix = "ac"
	}
	return &redisSecondaryStorage{client: client, prefix: prefix}
}

func (s *redisSecondaryStorage) key(key string) string {
	return s.prefix + ":" + key
}

func (s *redisSecondaryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecondaryUnavailable, err)
	}
	return data, nil
}

func (s *redisSecondaryStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSecondaryUnavailable, err)
	}
	return nil
}

func (s *redisSecondaryStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSecondaryUnavailable, err)
	}
	return nil
}

func (s *redisSecondaryStorage) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSecondaryUnavailable, err)
	}
	return ok, nil
}
