package orderbook

import (
	"slices"
	"sync"
)

const defaultMaxSamples = 200_000

// LatencyTracker keeps a bounded window of samples and answers percentile
// queries over it. When the window overflows the oldest quarter is dropped.
type LatencyTracker struct {
	mu         sync.Mutex
	samples    []float64
	maxSamples int
}

func NewLatencyTracker(maxSamples int) *LatencyTracker {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	return &LatencyTracker{maxSamples: maxSamples}
}

func (l *LatencyTracker) Add(sample float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, sample)
	if len(l.samples) > l.maxSamples {
		drop := len(l.samples) / 4
		l.samples = append(l.samples[:0], l.samples[drop:]...)
	}
}

// Percentile returns the nearest-rank sample at p (0..100), or 0 without samples.
func (l *LatencyTracker) Percentile(p float64) float64 {
	l.mu.Lock()
	sorted := slices.Clone(l.samples)
	l.mu.Unlock()
	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	return sorted[int(p/100*float64(len(sorted)-1))]
}

func (l *LatencyTracker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

func (l *LatencyTracker) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = l.samples[:0]
}

// LatencyReport is a p50/p90/p99 summary.
type LatencyReport struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

// ApplyLatencyReport adds events-per-second estimates derived from the
// apply latency percentiles (in microseconds).
type ApplyLatencyReport struct {
	LatencyReport
	ThroughputP50 float64 `json:"throughput_p50"`
	ThroughputP90 float64 `json:"throughput_p90"`
	ThroughputP99 float64 `json:"throughput_p99"`
}

func (l *LatencyTracker) Report() LatencyReport {
	l.mu.Lock()
	sorted := slices.Clone(l.samples)
	l.mu.Unlock()
	if len(sorted) == 0 {
		return LatencyReport{}
	}
	slices.Sort(sorted)
	at := func(p float64) float64 { return sorted[int(p/100*float64(len(sorted)-1))] }
	return LatencyReport{P50: at(50), P90: at(90), P99: at(99)}
}

func newApplyLatencyReport(r LatencyReport) ApplyLatencyReport {
	return ApplyLatencyReport{
		LatencyReport: r,
		ThroughputP50: throughput(r.P50),
		ThroughputP90: throughput(r.P90),
		ThroughputP99: throughput(r.P99),
	}
}

// throughput converts a per-event latency in microseconds to events per
// second. A zero latency yields zero rather than +Inf so reports stay
// JSON encodable.
func throughput(us float64) float64 {
	if us <= 0 {
		return 0
	}
	return 1_000_000 / us
}
