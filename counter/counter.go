// Package counter implements the bucketed sliding-window velocity counter.
//
// A window total is approximated by summing fixed-width bucket counters
// rather than keeping an exact event log. All coordination between
// concurrent callers happens through the store's atomic primitives; the
// counter itself holds no durable state and is safe to run from any number
// of processes at once.
package counter

import (
	"context"
	"errors"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/velostore/velocity/bucket"
	"github.com/velostore/velocity/store"
)

// Increment outcome statuses reported to the metrics sink.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusExitEarly = "exit_early"
)

// MetricsSink receives observability counters: one increment outcome per
// Increment call and the number of underlying read operations issued for
// window aggregation.
type MetricsSink interface {
	IncrementObserved(status string)
	ReadsObserved(n int)
}

// NopSink discards all observations.
type NopSink struct{}

func (NopSink) IncrementObserved(string) {}
func (NopSink) ReadsObserved(int)        {}

// Option configures a Counter.
type Option func(*Counter)

// WithMetrics sets the metrics sink.
func WithMetrics(sink MetricsSink) Option {
	return func(c *Counter) {
		if sink != nil {
			c.metrics = sink
		}
	}
}

// WithClock injects a clock, letting tests control bucket placement.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		if now != nil {
			c.now = now
		}
	}
}

// Counter records occurrences into time buckets and answers approximate
// "how many in the last N seconds" queries. It never propagates store
// failures to callers: every failure path resolves to a zero return, a log
// line and a metric. A velocity counter must not be able to stall or crash
// the pipeline evaluating it.
type Counter struct {
	store   store.Store
	metrics MetricsSink
	now     func() time.Time
}

// New creates a counter over the given store. A nil store is permitted and
// leaves the counter in permanent fail-open mode: all operations return 0.
func New(s store.Store, opts ...Option) *Counter {
	c := &Counter{
		store:   s,
		metrics: NopSink{},
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Increment records one occurrence of key "now" and returns the best-effort
// total for the trailing window, including this occurrence. The aggregate is
// eventually consistent: concurrent increments from other callers may or may
// not be visible yet. maxTTL caps how long the bucket record may outlive the
// window; zero means twice the window.
//
// On total store failure the call returns 0. Callers cannot distinguish
// "zero events" from "store failure"; that is the documented cost of fail-open.
func (c *Counter) Increment(ctx context.Context, key string, window time.Duration, maxTTL time.Duration) int64 {
	if c == nil || c.store == nil {
		if c != nil {
			c.metrics.IncrementObserved(StatusExitEarly)
		}
		return 0
	}

	size := bucket.Size(window)
	now := c.now()
	bucketKey := bucket.Key(key, window, bucket.ID(now, size))
	ttl := bucket.TTL(window, maxTTL)

	count, err := c.store.Increment(ctx, bucketKey)
	if err == nil {
		if count == 1 {
			c.assignTTL(ctx, bucketKey, count, ttl)
		}
	} else if !c.incrementFallback(ctx, bucketKey, ttl) {
		log.WithFields(log.Fields{
			"key":    key,
			"bucket": bucketKey,
			"error":  err,
		}).Error("counter: increment failed after fallback")
		c.metrics.IncrementObserved(StatusError)
		return 0
	}

	total := c.windowTotal(ctx, key, window, now)
	c.metrics.IncrementObserved(StatusOK)

	return total
}

// Query returns the best-effort total for the trailing window without
// recording an occurrence. It returns 0 on total failure and never fails.
func (c *Counter) Query(ctx context.Context, key string, window time.Duration) int64 {
	if c == nil || c.store == nil {
		return 0
	}

	return c.windowTotal(ctx, key, window, c.now())
}

// assignTTL puts an expiry on a freshly created bucket. Backends without a
// touch primitive get the value rewritten with the TTL instead; a concurrent
// increment landing between the creation and that rewrite is silently
// clobbered, causing a bounded undercount. That race is an accepted
// approximation; do not "fix" it here.
func (c *Counter) assignTTL(ctx context.Context, bucketKey string, count int64, ttl time.Duration) {
	err := c.store.Touch(ctx, bucketKey, ttl)
	if err == nil {
		return
	}

	if errors.Is(err, store.ErrTouchUnsupported) {
		err = c.store.Set(ctx, bucketKey, strconv.FormatInt(count, 10), ttl)
	}

	if err != nil {
		log.WithFields(log.Fields{
			"bucket": bucketKey,
			"error":  err,
		}).Warn("counter: failed to assign bucket TTL")
	}
}

// incrementFallback resolves an increment failure by racing to create the
// bucket, retrying the increment once when the creation race is lost.
// It reports whether the occurrence was recorded.
func (c *Counter) incrementFallback(ctx context.Context, bucketKey string, ttl time.Duration) bool {
	created, err := c.store.AddIfAbsent(ctx, bucketKey, 1, ttl)
	if err != nil {
		return false
	}
	if created {
		return true
	}

	// Lost the creation race: the bucket exists now, so one retry.
	if _, err := c.store.Increment(ctx, bucketKey); err != nil {
		return false
	}

	return true
}

// windowTotal sums the bucket counters covering the trailing window. Values
// that fail to decode as integers are skipped, not fatal. When the batched
// read fails outright the read degrades to a per-key loop with the same
// skip semantics.
func (c *Counter) windowTotal(ctx context.Context, key string, window time.Duration, now time.Time) int64 {
	keys := bucket.Keys(key, window, now)
	if len(keys) == 0 {
		return 0
	}
	defer c.metrics.ReadsObserved(len(keys))

	values, err := c.store.GetMulti(ctx, keys)
	if err != nil {
		log.WithFields(log.Fields{
			"key":     key,
			"buckets": len(keys),
			"error":   err,
		}).Warn("counter: batched read failed, degrading to per-key gets")
		return c.windowTotalSlow(ctx, keys)
	}

	var total int64
	for _, k := range keys {
		raw, ok := values[k]
		if !ok {
			continue
		}

		n, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			// A corrupt bucket costs its own count, nothing more.
			continue
		}
		total += n
	}

	return total
}

func (c *Counter) windowTotalSlow(ctx context.Context, keys []string) int64 {
	var total int64
	for _, k := range keys {
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}

		n, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			continue
		}
		total += n
	}

	return total
}
