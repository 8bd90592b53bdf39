package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Default configuration values for the Redis ring connection pools.
const (
	DefaultPoolSize      = 10
	DefaultMinIdleConns  = 3
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
	DefaultWriteTimeout  = 3 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 100 * time.Millisecond
	DefaultMaxRetryDelay = 500 * time.Millisecond
)

// RedisConfig holds the configuration for the Redis-backed counter store.
type RedisConfig struct {
	// Addrs is the list of shard addresses (host:port). Keys are spread
	// across shards by client-side consistent hashing.
	Addrs []string
	// Password is the Redis password (empty for no auth).
	Password string
	// DB is the Redis database number.
	DB int

	// PoolSize is the maximum number of connections per shard.
	PoolSize int
	// MinIdleConns is the minimum number of idle connections per shard.
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration
	// ReadTimeout is the timeout for read operations. Together with
	// WriteTimeout this bounds the latency of every store call.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration

	// MaxRetries is the maximum number of retries for failed commands.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// MaxRetryDelay is the maximum delay between retries.
	MaxRetryDelay time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults for a
// single local shard.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addrs:         []string{"localhost:6379"},
		Password:      "",
		DB:            0,
		PoolSize:      DefaultPoolSize,
		MinIdleConns:  DefaultMinIdleConns,
		DialTimeout:   DefaultDialTimeout,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// RedisStore implements Store on top of a sharded Redis deployment using a
// ring client. INCR gives atomic increment (auto-creating at 1), SET NX
// gives add-if-absent, EXPIRE gives touch, and batched reads are pipelined
// so each key routes to its own shard.
type RedisStore struct {
	ring   *redis.Ring
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore creates a Redis-backed counter store and validates
// connectivity with a PING across the ring.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis: at least one shard address is required")
	}

	addrs := make(map[string]string, len(cfg.Addrs))
	for i, addr := range cfg.Addrs {
		addrs[fmt.Sprintf("shard%d", i)] = addr
	}

	ring := redis.NewRing(&redis.RingOptions{
		Addrs:           addrs,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.RetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	})

	// Validate connectivity before handing the store out.
	if err := ring.Ping(ctx).Err(); err != nil {
		_ = ring.Close()
		return nil, fmt.Errorf("redis: failed to connect to %v: %w", cfg.Addrs, err)
	}

	log.WithFields(log.Fields{
		"shards":    len(cfg.Addrs),
		"pool_size": cfg.PoolSize,
	}).Info("redis: counter store connected")

	return &RedisStore{ring: ring}, nil
}

// Increment atomically increments the counter at key. Redis INCR creates
// missing keys at 0 first, so a returned value of 1 signals first creation.
func (rs *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return 0, ErrStoreClosed
	}

	count, err := rs.ring.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: increment failed for key %q: %w", key, err)
	}

	return count, nil
}

// AddIfAbsent creates key only if it does not exist, with the given TTL.
func (rs *RedisStore) AddIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return false, ErrStoreClosed
	}

	created, err := rs.ring.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: add-if-absent failed for key %q: %w", key, err)
	}

	return created, nil
}

// Touch refreshes the TTL on key without altering the stored value. A key
// that expired between the caller's write and the touch is ignored.
func (rs *RedisStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.ring.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis: touch failed for key %q: %w", key, err)
	}

	return nil
}

// Set unconditionally writes value at key with the given TTL.
func (rs *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.ring.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set failed for key %q: %w", key, err)
	}

	return nil
}

// Get returns the raw value at key and whether it exists.
func (rs *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return "", false, ErrStoreClosed
	}

	value, err := rs.ring.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get failed for key %q: %w", key, err)
	}

	return value, true, nil
}

// GetMulti fetches keys with one pipelined GET per key, letting the ring
// route each command to its shard. Missing keys and per-shard failures are
// simply absent from the result; GetMulti only fails outright when every
// key errored.
func (rs *RedisStore) GetMulti(ctx context.Context, keys []string) (map[string]string, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return nil, ErrStoreClosed
	}

	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	cmds := make(map[string]*redis.StringCmd, len(keys))

	// The pipeline error aggregates per-command errors (including misses),
	// so each command is inspected individually instead.
	_, _ = rs.ring.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			cmds[key] = pipe.Get(ctx, key)
		}
		return nil
	})

	values := make(map[string]string, len(keys))
	var failed int
	var lastErr error

	for key, cmd := range cmds {
		value, err := cmd.Result()
		switch {
		case err == redis.Nil:
			// Absent keys contribute nothing.
		case err != nil:
			failed++
			lastErr = err
		default:
			values[key] = value
		}
	}

	if failed == len(keys) {
		return nil, fmt.Errorf("redis: get-multi failed for all %d keys: %w", failed, lastErr)
	}

	return values, nil
}

// Ping checks connectivity across the ring shards.
func (rs *RedisStore) Ping(ctx context.Context) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.ring.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}

	return nil
}

// Close gracefully shuts down the ring connections.
func (rs *RedisStore) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return nil
	}

	rs.closed = true
	log.Info("redis: closing counter store")

	return rs.ring.Close()
}
