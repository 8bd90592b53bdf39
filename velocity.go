// Package velocity is a distributed, bucketed sliding-window counting layer
// over a sharded key-value store. It answers "record one occurrence of X
// now" and "how many times has X occurred in the last N seconds" for
// velocity checks inside a rule-evaluation pipeline.
//
// Every operation fails open: a client whose store never initialized, or
// whose store is failing, returns caller-supplied defaults (or zero counts)
// instead of errors. The evaluation pipeline must never stall on this layer.
package velocity

import (
	"context"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/velostore/velocity/counter"
	"github.com/velostore/velocity/store"
)

// Option configures a Client.
type Option func(*Client)

// WithMetrics sets the metrics sink passed down to the counter.
func WithMetrics(sink counter.MetricsSink) Option {
	return func(c *Client) {
		if sink != nil {
			c.metrics = sink
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client bundles the sliding-window counter with the typed get/set helpers
// that share its store and fail-open policy. The zero-value-like state
// before Initialize is permanent fail-open: if the store cannot be reached
// at initialization time, the client spends its lifetime returning defaults.
type Client struct {
	mu      sync.RWMutex
	store   store.Store
	counter *counter.Counter

	metrics counter.MetricsSink
	now     func() time.Time
}

// New creates an uninitialized client. Call Initialize (or InitializeStore)
// to attach a store; until then every operation returns its default.
func New(opts ...Option) *Client {
	c := &Client{
		metrics: counter.NopSink{},
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Initialize connects the client to the sharded store behind the given
// host:port server list. On failure the client stays uninitialized and
// fail-open; the error is returned for logging only and is not fatal.
func (c *Client) Initialize(ctx context.Context, servers []string) error {
	cfg := store.DefaultRedisConfig()
	cfg.Addrs = servers

	s, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.WithFields(log.Fields{
			"servers": servers,
			"error":   err,
		}).Error("velocity: store initialization failed, client is fail-open")
		return err
	}

	c.InitializeStore(s)
	return nil
}

// InitializeStore attaches an already constructed store adapter.
func (c *Client) InitializeStore(s store.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store = s
	c.counter = counter.New(s,
		counter.WithMetrics(c.metrics),
		counter.WithClock(c.now),
	)
}

// Initialized reports whether a store is attached.
func (c *Client) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store != nil
}

// Close releases the underlying store connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return nil
	}

	err := c.store.Close()
	c.store = nil
	c.counter = nil
	return err
}

// Increment records one occurrence of key and returns the best-effort count
// for the trailing window, including this occurrence. maxTTL caps bucket
// retention; zero means twice the window. Returns 0 when uninitialized or
// on store failure.
func (c *Client) Increment(ctx context.Context, key string, window, maxTTL time.Duration) int64 {
	cnt := c.currentCounter()
	if cnt == nil {
		c.metrics.IncrementObserved(counter.StatusExitEarly)
		return 0
	}

	return cnt.Increment(ctx, key, window, maxTTL)
}

// Query returns the best-effort count for the trailing window without
// recording an occurrence. Returns 0 when uninitialized or on store failure.
func (c *Client) Query(ctx context.Context, key string, window time.Duration) int64 {
	cnt := c.currentCounter()
	if cnt == nil {
		return 0
	}

	return cnt.Query(ctx, key, window)
}

// GetStr returns the string value at key, or def when the key is absent,
// the client is uninitialized, or the store fails.
func (c *Client) GetStr(ctx context.Context, key, def string) string {
	value, ok := c.rawGet(ctx, key)
	if !ok {
		return def
	}
	return value
}

// GetInt returns the integer value at key, or def on absence, store failure
// or a value that does not parse.
func (c *Client) GetInt(ctx context.Context, key string, def int64) int64 {
	value, ok := c.rawGet(ctx, key)
	if !ok {
		return def
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Warn("velocity: non-integer value in store")
		return def
	}
	return n
}

// GetFloat returns the float value at key, or def on absence, store failure
// or a value that does not parse.
func (c *Client) GetFloat(ctx context.Context, key string, def float64) float64 {
	value, ok := c.rawGet(ctx, key)
	if !ok {
		return def
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Warn("velocity: non-float value in store")
		return def
	}
	return f
}

// Set writes value at key with the given TTL. A zero TTL stores the value
// indefinitely; callers should almost always set one. Failures are logged
// and swallowed.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) {
	s := c.currentStore()
	if s == nil {
		return
	}

	if err := s.Set(ctx, key, value, ttl); err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Error("velocity: set failed")
	}
}

// SetInt stores an integer value at key.
func (c *Client) SetInt(ctx context.Context, key string, value int64, ttl time.Duration) {
	c.Set(ctx, key, strconv.FormatInt(value, 10), ttl)
}

// SetFloat stores a float value at key.
func (c *Client) SetFloat(ctx context.Context, key string, value float64, ttl time.Duration) {
	c.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), ttl)
}

func (c *Client) rawGet(ctx context.Context, key string) (string, bool) {
	s := c.currentStore()
	if s == nil {
		return "", false
	}

	value, ok, err := s.Get(ctx, key)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Error("velocity: get failed")
		return "", false
	}

	return value, ok
}

func (c *Client) currentCounter() *counter.Counter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counter
}

func (c *Client) currentStore() store.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}
