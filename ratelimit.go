package authcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitEntry is the counter state for one (path, key) pair.
type RateLimitEntry struct {
	Count       int   `json:"count"`
	LastRequest int64 `json:"lastRequest"` // unix milliseconds
}

// RateLimitStorage is the pluggable counter store: anything that can get and
// set an entry with a TTL works (memory, Redis, a database table).
type RateLimitStorage interface {
	Get(ctx context.Context, key string) (*RateLimitEntry, error)
	Set(ctx context.Context, key string, entry RateLimitEntry, ttl time.Duration) error
}

// rateLimiter enforces a sliding-window counter per (path, key).
type rateLimiter struct {
	storage RateLimitStorage
	window  time.Duration
	max     int
	rules   map[string]RateLimitRule
}

func newRateLimiter(cfg RateLimitConfig, storage RateLimitStorage) *rateLimiter {
	if storage == nil {
		storage = NewMemoryRateLimitStorage()
	}
	return &rateLimiter{
		storage: storage,
		window:  cfg.Window,
		max:     cfg.Max,
		rules:   cfg.Rules,
	}
}

// Allow records a hit and reports whether the request is within budget.
// The returned duration is the wait until the window resets when denied.
func (l *rateLimiter) Allow(ctx context.Context, path, key string) (bool, time.Duration, error) {
	window, max := l.window, l.max
	if rule, ok := l.rules[path]; ok {
		window, max = rule.Window, rule.Max
	}

	storageKey := path + ":" + key
	now := time.Now()

	entry, err := l.storage.Get(ctx, storageKey)
	if err != nil {
		return false, 0, err
	}

	if entry == nil || now.UnixMilli()-entry.LastRequest > window.Milliseconds() {
		entry = &RateLimitEntry{Count: 1, LastRequest: now.UnixMilli()}
	} else {
		entry.Count++
	}

	if entry.Count > max {
		retryAfter := window - now.Sub(time.UnixMilli(entry.LastRequest))
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	if err := l.storage.Set(ctx, storageKey, *entry, window); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}

/*
====================================
MEMORY STORAGE
====================================
*/

type memoryRateLimitStorage struct {
	mu      sync.Mutex
	entries map[string]memoryRateLimitEntry
}

type memoryRateLimitEntry struct {
	entry     RateLimitEntry
	expiresAt time.Time
}

// NewMemoryRateLimitStorage returns the built-in in-process counter store.
// Suitable for single-instance deployments; multi-instance deployments
// should use Redis or a shared table.
func NewMemoryRateLimitStorage() RateLimitStorage {
	return &memoryRateLimitStorage{entries: make(map[string]memoryRateLimitEntry)}
}

func (s *memoryRateLimitStorage) Get(ctx context.Context, key string) (*RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	out := e.entry
	return &out, nil
}

func (s *memoryRateLimitStorage) Set(ctx context.Context, key string, entry RateLimitEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryRateLimitEntry{entry: entry, expiresAt: time.Now().Add(ttl)}

	// Opportunistic sweep to bound memory between windows.
	if len(s.entries) > 4096 {
		now := time.Now()
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
			}
		}
	}
	return nil
}

/*
====================================
REDIS STORAGE
====================================
*/

type redisRateLimitStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimitStorage returns a Redis-backed counter store shared
// across instances.
func NewRedisRateLimitStorage(client redis.UniversalClient, prefix string) RateLimitStorage {
	if prefix == "" {
		prefix = "arl"
	}
	return &redisRateLimitStorage{client: client, prefix: prefix}
}

func (s *redisRateLimitStorage) key(key string) string {
	return s.prefix + ":" + key
}

func (s *redisRateLimitStorage) Get(ctx context.Context, key string) (*RateLimitEntry, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecondaryUnavailable, err)
	}

	var entry RateLimitEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Treat a corrupt counter as absent rather than failing the request.
		return nil, nil
	}
	return &entry, nil
}

func (s *redisRateLimitStorage) Set(ctx context.Context, key string, entry RateLimitEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSecondaryUnavailable, err)
	}
	return nil
}

// rateLimitKey derives the counter key for a request: the client IP, falling
// back to a global bucket when no IP can be determined.
func rateLimitKey(ip string) string {
	if ip == "" {
		return "global"
	}
	return "ip:" + ip
}
