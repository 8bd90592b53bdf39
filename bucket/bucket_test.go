package bucket

import (
	"strings"
	"testing"
	"time"
)

func TestSize(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   time.Duration
	}{
		{1 * time.Second, time.Second},
		{300 * time.Second, time.Second},
		{301 * time.Second, 10 * time.Second},
		{3600 * time.Second, 10 * time.Second},
		{3601 * time.Second, time.Minute},
		{86400 * time.Second, time.Minute},
		{86401 * time.Second, 600 * time.Second},
		{7 * 24 * time.Hour, 600 * time.Second},
	}

	for _, tt := range tests {
		if got := Size(tt.window); got != tt.want {
			t.Errorf("Size(%v) = %v, want %v", tt.window, got, tt.want)
		}
	}
}

func TestID(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	// A 1s bucket id is the unix timestamp itself.
	if got := ID(now, time.Second); got != 1_700_000_000 {
		t.Errorf("ID with 1s buckets = %d, want 1700000000", got)
	}

	if got := ID(now, 10*time.Second); got != 170_000_000 {
		t.Errorf("ID with 10s buckets = %d, want 170000000", got)
	}

	// Times within the same bucket interval share an id.
	later := now.Add(9 * time.Second)
	if ID(now, 10*time.Second) != ID(later, 10*time.Second) {
		t.Error("times 9s apart should land in the same 10s bucket")
	}

	// Crossing the interval boundary moves to the next id.
	next := now.Add(10 * time.Second)
	if ID(next, 10*time.Second) != ID(now, 10*time.Second)+1 {
		t.Error("crossing the bucket boundary should advance the id by one")
	}
}

func TestKey(t *testing.T) {
	key := Key("acct:123:login_attempts", 300*time.Second, 1_700_000_000)
	want := "acct:123:login_attempts:w300:b1700000000"
	if key != want {
		t.Errorf("Key = %q, want %q", key, want)
	}

	// Equivalent duration expressions must produce identical keys.
	if Key("k", time.Minute, 1) != Key("k", 60*time.Second, 1) {
		t.Error("time.Minute and 60*time.Second produced different keys")
	}

	// Sub-second windows stay distinguishable.
	if !strings.Contains(Key("k", 500*time.Millisecond, 1), ":w0.5:") {
		t.Errorf("sub-second window rendered poorly: %q", Key("k", 500*time.Millisecond, 1))
	}

	// The triple must be unique in every component.
	base := Key("k", time.Minute, 1)
	if base == Key("k2", time.Minute, 1) || base == Key("k", time.Hour, 1) || base == Key("k", time.Minute, 2) {
		t.Error("Key is not unique across (key, window, id) triples")
	}
}

func TestRange(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	start, end := Range(now, 60*time.Second)
	if end != 1_700_000_000 {
		t.Errorf("end = %d, want 1700000000", end)
	}
	if start != 1_700_000_000-60 {
		t.Errorf("start = %d, want %d", start, 1_700_000_000-60)
	}

	// Range width stays proportional to window/bucket size.
	start, end = Range(now, 1800*time.Second)
	if width := end - start + 1; width != 181 {
		t.Errorf("30m window at 10s buckets spans %d buckets, want 181", width)
	}
}

func TestKeys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	keys := Keys("k", 5*time.Second, now)
	if len(keys) != 6 {
		t.Fatalf("expected 6 keys for a 5s window at 1s buckets, got %d", len(keys))
	}
	if keys[len(keys)-1] != Key("k", 5*time.Second, 1_700_000_000) {
		t.Errorf("last key should be the current bucket, got %q", keys[len(keys)-1])
	}
}

func TestTTL(t *testing.T) {
	window := 60 * time.Second

	// No caller preference: twice the window.
	if got := TTL(window, 0); got != 120*time.Second {
		t.Errorf("TTL(60s, 0) = %v, want 2m", got)
	}

	// Caller preference below the cap is honored.
	if got := TTL(window, 90*time.Second); got != 90*time.Second {
		t.Errorf("TTL(60s, 90s) = %v, want 90s", got)
	}

	// Upper bound: never more than twice the window.
	if got := TTL(window, time.Hour); got != 120*time.Second {
		t.Errorf("TTL(60s, 1h) = %v, want 2m", got)
	}

	// Lower bound: a bucket always outlives the window that reads it.
	if got := TTL(window, time.Second); got != window+Size(window) {
		t.Errorf("TTL(60s, 1s) = %v, want %v", got, window+Size(window))
	}
}
