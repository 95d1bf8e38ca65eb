// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/submaker/submaker/internal/metrics"
)

// RedisStore is the shared, cross-instance storage adapter.
type RedisStore struct {
	client    *redis.Client
	isolation string
	logger    zerolog.Logger

	// setsSinceCapCheck makes the size cap a lazy check: SCAN-summing on
	// every write would dominate latency.
	setsSinceCapCheck atomic.Int64
	capExceeded       atomic.Bool
}

const capCheckEvery = 256

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, isolation string, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", addr).
		Int("db", db).
		Str("isolation", isolation).
		Msg("connected to Redis store")

	return &RedisStore{client: client, isolation: isolation, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an existing client, for tests.
func NewRedisStoreFromClient(client *redis.Client, isolation string, logger zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, isolation: isolation, logger: logger}
}

// Client exposes the underlying connection for components that need raw
// Redis commands (the login coordinator's lock).
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) fullKey(ct CacheType, key string) string {
	return s.isolation + ":" + string(ct) + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, ct CacheType, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.fullKey(ct, key)).Bytes()
	if err == redis.Nil {
		metrics.RecordStoreOperation("redis", "get", "miss")
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreOperation("redis", "get", "error")
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	metrics.RecordStoreOperation("redis", "get", "hit")
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, ct CacheType, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ct.DefaultTTL()
	}
	if s.capExceeded.Load() {
		if size, err := s.Size(ctx, ct); err == nil && size < RedisSizeCap {
			s.capExceeded.Store(false)
		} else {
			metrics.RecordStoreOperation("redis", "set", "cap")
			return fmt.Errorf("%w: %s", ErrTypeFull, ct)
		}
	}
	if err := s.client.Set(ctx, s.fullKey(ct, key), value, ttl).Err(); err != nil {
		metrics.RecordStoreOperation("redis", "set", "error")
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	metrics.RecordStoreOperation("redis", "set", "ok")

	if s.setsSinceCapCheck.Add(1)%capCheckEvery == 0 {
		if size, err := s.Size(ctx, ct); err == nil && size >= RedisSizeCap {
			s.logger.Warn().
				Str("cache_type", string(ct)).
				Int64("size", size).
				Msg("cache type exceeded size cap, rejecting writes until it shrinks")
			s.capExceeded.Store(true)
		}
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, ct CacheType, key string) error {
	if err := s.client.Del(ctx, s.fullKey(ct, key)).Err(); err != nil {
		metrics.RecordStoreOperation("redis", "delete", "error")
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	metrics.RecordStoreOperation("redis", "delete", "ok")
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, ct CacheType, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.fullKey(ct, key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) List(ctx context.Context, ct CacheType, prefix string) ([]string, error) {
	match := s.fullKey(ct, prefix) + "*"
	strip := len(s.fullKey(ct, ""))

	var out []string
	iter := s.client.Scan(ctx, 0, match, 512).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		if len(full) > strip {
			out = append(out, full[strip:])
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", match, err)
	}
	return out, nil
}

func (s *RedisStore) Size(ctx context.Context, ct CacheType) (int64, error) {
	match := s.fullKey(ct, "") + "*"
	var total int64
	iter := s.client.Scan(ctx, 0, match, 512).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.StrLen(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis size scan: %w", err)
	}
	return total, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
