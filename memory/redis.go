package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisShared implements Shared on Redis, letting multiple processes see
// the same state. Values round-trip through JSON, so numbers come back as
// float64 and structs as maps.
type RedisShared struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all store keys (default: "agora:shared:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisShared connects to Redis and verifies the connection.
func NewRedisShared(cfg RedisConfig) (*RedisShared, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisSharedFromClient(client, cfg.Prefix), nil
}

// NewRedisSharedFromClient wraps an existing client. This is useful for
// testing with miniredis.
func NewRedisSharedFromClient(client *redis.Client, prefix string) *RedisShared {
	if prefix == "" {
		prefix = "agora:shared:"
	}
	return &RedisShared{client: client, prefix: prefix}
}

// Key helpers
func (s *RedisShared) kvKey(key string) string { return s.prefix + "kv:" + key }
func (s *RedisShared) keysKey() string         { return s.prefix + "keys" }
func (s *RedisShared) historyKey() string      { return s.prefix + "history" }

func (s *RedisShared) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *RedisShared) Set(ctx context.Context, key string, value any) error {
	if err := s.guard(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	change, err := json.Marshal(Change{Key: key, Value: value, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.kvKey(key), data, 0)
	pipe.SAdd(ctx, s.keysKey(), key)
	pipe.RPush(ctx, s.historyKey(), change)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisShared) Get(ctx context.Context, key string) (any, bool, error) {
	if err := s.guard(); err != nil {
		return nil, false, err
	}

	data, err := s.client.Get(ctx, s.kvKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("unmarshal value: %w", err)
	}
	return value, true, nil
}

func (s *RedisShared) Update(ctx context.Context, values map[string]any) error {
	if err := s.guard(); err != nil {
		return err
	}

	now := time.Now().UTC()
	pipe := s.client.Pipeline()
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal value for %s: %w", key, err)
		}
		change, err := json.Marshal(Change{Key: key, Value: value, Timestamp: now})
		if err != nil {
			return fmt.Errorf("marshal change for %s: %w", key, err)
		}
		pipe.Set(ctx, s.kvKey(key), data, 0)
		pipe.SAdd(ctx, s.keysKey(), key)
		pipe.RPush(ctx, s.historyKey(), change)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

func (s *RedisShared) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}

	removed, err := s.client.Del(ctx, s.kvKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	if err := s.client.SRem(ctx, s.keysKey(), key).Err(); err != nil {
		return false, fmt.Errorf("delete %s from index: %w", key, err)
	}
	return removed > 0, nil
}

func (s *RedisShared) Keys(ctx context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	keys, err := s.client.SMembers(ctx, s.keysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	// Redis sets are unordered
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisShared) History(ctx context.Context, key string) ([]Change, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	data, err := s.client.LRange(ctx, s.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	changes := make([]Change, 0, len(data))
	for _, d := range data {
		var c Change
		if err := json.Unmarshal([]byte(d), &c); err != nil {
			return nil, fmt.Errorf("unmarshal change: %w", err)
		}
		if key != "" && c.Key != key {
			continue
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisShared) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisShared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
