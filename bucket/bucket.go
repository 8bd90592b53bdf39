// Package bucket maps logical counter keys and window lengths onto
// fixed-width time buckets and the composite store keys that hold them.
package bucket

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Size returns the bucket width for a window. Wider windows get coarser
// buckets so the number of buckets scanned per window stays bounded
// regardless of window length, trading temporal resolution for store load.
func Size(window time.Duration) time.Duration {
	switch {
	case window <= 300*time.Second:
		return time.Second
	case window <= 3600*time.Second:
		return 10 * time.Second
	case window <= 86400*time.Second:
		return time.Minute
	default:
		return 600 * time.Second
	}
}

// ID returns the bucket identifier containing t for the given bucket size.
// The math runs in fractional seconds so sub-second windows bucket sanely.
func ID(t time.Time, size time.Duration) int64 {
	return int64(math.Floor(seconds(t) / size.Seconds()))
}

// Key composes the store key for one bucket of a logical counter. The result
// is unique per (key, window, id) triple and stable across processes.
func Key(logicalKey string, window time.Duration, id int64) string {
	return fmt.Sprintf("%s:w%s:b%d", logicalKey, formatWindow(window), id)
}

// Range returns the inclusive bucket id range [start, end] covering the
// trailing window ending at now.
func Range(now time.Time, window time.Duration) (start, end int64) {
	size := Size(window)
	return ID(now.Add(-window), size), ID(now, size)
}

// Keys expands Range into the full list of store keys for the window.
func Keys(logicalKey string, window time.Duration, now time.Time) []string {
	start, end := Range(now, window)

	keys := make([]string, 0, end-start+1)
	for id := start; id <= end; id++ {
		keys = append(keys, Key(logicalKey, window, id))
	}

	return keys
}

// TTL bounds the expiry for a bucket record. The lower bound guarantees a
// bucket outlives every window that reads it; the upper bound caps storage
// growth even when the caller asks for a larger maxTTL. A maxTTL of zero
// means "no preference" and resolves to twice the window.
func TTL(window, maxTTL time.Duration) time.Duration {
	if maxTTL <= 0 {
		maxTTL = 2 * window
	}

	ttl := min(maxTTL, 2*window)
	if floor := window + Size(window); ttl < floor {
		ttl = floor
	}

	return ttl
}

// formatWindow renders a window length as seconds with the shortest exact
// decimal form, so 60s and time.Minute produce identical keys.
func formatWindow(window time.Duration) string {
	return strconv.FormatFloat(window.Seconds(), 'f', -1, 64)
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
