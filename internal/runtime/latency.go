package runtime

import (
	"math"
	"slices"
	"time"
)

const latencySampleSize = 256

// LatencyMetrics summarises recent handler chain durations.
type LatencyMetrics struct {
	Samples int           `json:"samples"`
	Last    time.Duration `json:"last_ns"`
	Average time.Duration `json:"avg_ns"`
	P50     time.Duration `json:"p50_ns"`
	P95     time.Duration `json:"p95_ns"`
	P99     time.Duration `json:"p99_ns"`
}

// latencyWindow is a fixed-size ring of durations.
type latencyWindow struct {
	samples []time.Duration
	next    int
	filled  int
	last    time.Duration
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (lw *latencyWindow) add(d time.Duration) {
	lw.samples[lw.next] = d
	lw.last = d
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) snapshot() LatencyMetrics {
	if lw == nil || lw.filled == 0 {
		return LatencyMetrics{}
	}
	sorted := make([]time.Duration, 0, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		sorted = append(sorted, lw.samples[idx])
	}
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyMetrics{
		Samples: lw.filled,
		Last:    lw.last,
		Average: sum / time.Duration(len(sorted)),
		P50:     percentile(sorted, 0.50),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []time.Duration, q float64) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + time.Duration(float64(sorted[upper]-sorted[lower])*frac)
}
