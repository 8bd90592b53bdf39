package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value      string
	expiration time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock injects a clock, letting tests advance time deterministically.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// WithoutTouch makes Touch report ErrTouchUnsupported, mimicking backends
// that cannot refresh a TTL without rewriting the value.
func WithoutTouch() MemoryOption {
	return func(m *MemoryStore) {
		m.touchUnsupported = true
	}
}

// MemoryStore is an in-process implementation of Store for tests and local
// development. It holds entries under a single mutex and lazily discards
// expired ones on access.
type MemoryStore struct {
	mu               sync.Mutex
	entries          map[string]*memoryEntry
	now              func() time.Time
	touchUnsupported bool
	closed           bool
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Increment increments the counter at key, creating it at 1 when absent or
// expired. A non-integer value at key is an error, like Redis INCR.
func (m *MemoryStore) Increment(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	entry, ok := m.entries[key]
	if !ok || entry.expired(m.now()) {
		m.entries[key] = &memoryEntry{value: "1"}
		return 1, nil
	}

	count, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, err
	}

	count++
	entry.value = strconv.FormatInt(count, 10)
	return count, nil
}

// AddIfAbsent creates key only if absent (or expired).
func (m *MemoryStore) AddIfAbsent(_ context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}

	now := m.now()
	if entry, ok := m.entries[key]; ok && !entry.expired(now) {
		return false, nil
	}

	m.entries[key] = &memoryEntry{
		value:      strconv.FormatInt(value, 10),
		expiration: now.Add(ttl),
	}
	return true, nil
}

// Touch refreshes the TTL on an existing key.
func (m *MemoryStore) Touch(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if m.touchUnsupported {
		return ErrTouchUnsupported
	}

	now := m.now()
	if entry, ok := m.entries[key]; ok && !entry.expired(now) {
		entry.expiration = now.Add(ttl)
	}

	return nil
}

// Set unconditionally writes value at key with the given TTL.
func (m *MemoryStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiration = m.now().Add(ttl)
	}
	m.entries[key] = entry

	return nil
}

// Get returns the value at key and whether it is present and unexpired.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", false, ErrStoreClosed
	}

	entry, ok := m.entries[key]
	if !ok || entry.expired(m.now()) {
		return "", false, nil
	}

	return entry.value, true, nil
}

// GetMulti fetches the given keys; absent or expired keys are missing from
// the result.
func (m *MemoryStore) GetMulti(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	now := m.now()
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		if entry, ok := m.entries[key]; ok && !entry.expired(now) {
			values[key] = entry.value
		}
	}

	return values, nil
}

// Ping reports whether the store is still open.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the store closed; subsequent operations fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
