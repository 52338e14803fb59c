package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the last N signal push delays (signal creation to
// WebSocket fan-out) and reports percentiles. Thread-safe.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration // circular buffer
	pos     int
	count   int
}

// NewLatencyTracker creates a tracker that holds the last `capacity` samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LatencyTracker{samples: make([]time.Duration, capacity)}
}

// Record adds a sample. Negative delays (clock skew between hosts) are clamped to 0.
func (lt *LatencyTracker) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	lt.mu.Lock()
	lt.samples[lt.pos] = d
	lt.pos = (lt.pos + 1) % len(lt.samples)
	if lt.count < len(lt.samples) {
		lt.count++
	}
	lt.mu.Unlock()
}

// Percentiles returns p50, p95 and p99, or zeros when empty.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 time.Duration) {
	lt.mu.Lock()
	sorted := make([]time.Duration, lt.count)
	copy(sorted, lt.samples[:lt.count])
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// Count returns the number of samples held (up to capacity).
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.count
}

// percentile linearly interpolates the p-th percentile (0.0–1.0) of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + time.Duration(frac*float64(sorted[lower+1]-sorted[lower]))
}
