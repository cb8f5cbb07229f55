// Package rttstat maintains an RFC 6298-style exponentially smoothed
// round-trip-time estimate over a bounded recent history, one instance
// per discovered hop.
package rttstat

import "time"

const (
	// historyCapacity bounds the recent-sample ring exposed for sparkline-style display.
	historyCapacity = 100

	alpha = 0.125 // smoothing constant for the mean
	beta  = 0.25  // smoothing constant for the mean absolute deviation
)

// Monitor tracks a smoothed mean and mean absolute deviation of RTT
// samples in milliseconds, plus the most recent historyCapacity raw
// samples. The zero value is ready to use. Monitor is not safe for
// concurrent use; callers serialize access (the owning RouteHop holds
// its own lock around every Monitor call).
type Monitor struct {
	hasSample bool
	mean      float64
	dev       float64
	lastAt    time.Time

	recent []float64
}

// Observe records a new RTT sample in milliseconds and updates the
// smoothed estimates. Synchronous, never fails.
func (m *Monitor) Observe(sampleMs float64) {
	if !m.hasSample {
		m.mean = sampleMs
		m.dev = 0
		m.hasSample = true
	} else {
		m.mean = (1-alpha)*m.mean + alpha*sampleMs
		m.dev = (1-beta)*m.dev + beta*absDiff(m.mean, sampleMs)
	}
	m.lastAt = time.Now()

	m.recent = append(m.recent, sampleMs)
	if len(m.recent) > historyCapacity {
		m.recent = m.recent[len(m.recent)-historyCapacity:]
	}
}

// Mean returns the smoothed mean RTT in milliseconds and whether any
// sample has been observed yet.
func (m *Monitor) Mean() (float64, bool) {
	return m.mean, m.hasSample
}

// Deviation returns the smoothed mean absolute deviation in
// milliseconds and whether any sample has been observed yet.
func (m *Monitor) Deviation() (float64, bool) {
	return m.dev, m.hasSample
}

// LastObserved returns the timestamp of the most recent Observe call.
func (m *Monitor) LastObserved() (time.Time, bool) {
	return m.lastAt, m.hasSample
}

// Recent returns a copy of the bounded recent-sample history, oldest
// first.
func (m *Monitor) Recent() []float64 {
	out := make([]float64, len(m.recent))
	copy(out, m.recent)
	return out
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
