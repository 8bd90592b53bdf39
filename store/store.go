// Package store provides the atomic counter store abstraction and its
// backends. Counter state lives entirely in the external store; everything
// here must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreClosed is returned when an operation is attempted on a closed store.
	ErrStoreClosed = errors.New("store: connection closed")

	// ErrTouchUnsupported is returned by backends that cannot refresh a TTL
	// without rewriting the value. Callers fall back to Set.
	ErrTouchUnsupported = errors.New("store: touch not supported")
)

// Store is the capability interface over a distributed key-value store.
// Every method is independently fallible; callers own the degradation policy.
type Store interface {
	// Increment atomically increments the counter at key and returns the
	// post-increment value. Backends differ on absent keys: some create the
	// counter at 1 (a returned value of 1 signals first creation), others
	// fail, in which case the caller resolves creation via AddIfAbsent.
	Increment(ctx context.Context, key string) (int64, error)

	// AddIfAbsent creates key with the given value and TTL only if it does
	// not already exist. It reports whether the creation happened.
	AddIfAbsent(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)

	// Touch refreshes the TTL on key without altering its value. Backends
	// without a touch primitive return ErrTouchUnsupported.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Set unconditionally writes value at key with the given TTL.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Get returns the raw value at key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// GetMulti fetches the given keys in a batch. Keys with no stored value
	// are absent from the result, never zero-filled. Partial failures on
	// individual shards surface as missing keys rather than a hard failure.
	GetMulti(ctx context.Context, keys []string) (map[string]string, error)

	// Ping checks the health of the backend.
	Ping(ctx context.Context) error

	// Close gracefully shuts down the backend connection.
	Close() error
}
