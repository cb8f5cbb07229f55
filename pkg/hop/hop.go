// Package hop defines the RouteHop data model shared between the trace
// coordinator, which owns and mutates it, and any display layer that
// reads live snapshots of it.
package hop

import (
	"net"
	"sync"

	"github.com/udptrace/udptrace/internal/rttstat"
)

// RouteHop holds the continuously-updated measurement state for one
// TTL on the path to a target. The zero value is not ready to use;
// construct with New.
type RouteHop struct {
	mu sync.Mutex

	targetIPv4 net.IP
	ttl        int

	ipv4      net.IP // learned hop IP; nil until the first correlated reply
	successes int
	failures  int
	rtt       rttstat.Monitor
}

// New creates a RouteHop for the given target and TTL. Called exactly
// once per TTL, the first time that hop's prober runs.
func New(target net.IP, ttl int) *RouteHop {
	return &RouteHop{targetIPv4: target.To4(), ttl: ttl}
}

// TTL is this hop's 1-based index on the path.
func (h *RouteHop) TTL() int {
	return h.ttl
}

// TargetIPv4 is the trace's overall target, copied at construction.
func (h *RouteHop) TargetIPv4() net.IP {
	return h.targetIPv4
}

// RecordSuccess stores a correlated reply's learned source IP and RTT
// sample, and increments the success counter. Overwriting the learned
// IP on every success is intentional: routers are usually stable but
// may rotate, and last-writer-wins is acceptable.
func (h *RouteHop) RecordSuccess(learnedIPv4 net.IP, rttMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ipv4 = learnedIPv4
	h.rtt.Observe(rttMs)
	h.successes++
}

// RecordTimeout increments the failure counter; RTT state and the
// learned IP are left untouched.
func (h *RouteHop) RecordTimeout() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
}

// IPv4 returns the learned hop IP, or nil if the hop is still
// Undiscovered.
func (h *RouteHop) IPv4() net.IP {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ipv4
}

// Discovered reports whether any probe for this hop has ever matched.
func (h *RouteHop) Discovered() bool {
	return h.IPv4() != nil
}

// Counters returns the current success/failure measurement counts.
func (h *RouteHop) Counters() (successes, failures int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.successes, h.failures
}

// Snapshot is an immutable, display-facing view of a RouteHop's state
// at one instant.
type Snapshot struct {
	TTL            int
	IPv4           net.IP
	RTTMeanMs      float64
	RTTMeanMsValid bool
	RTTDevMs       float64
	RTTDevMsValid  bool
	RTTRecentMs    []float64
	Successes      int
	Failures       int
	LastObservedOK bool
}

// Snapshot copies this hop's current state into a Snapshot safe to
// read after the owning RouteHop continues mutating.
func (h *RouteHop) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	mean, meanOK := h.rtt.Mean()
	dev, devOK := h.rtt.Deviation()
	_, lastOK := h.rtt.LastObserved()

	return Snapshot{
		TTL:            h.ttl,
		IPv4:           h.ipv4,
		RTTMeanMs:      mean,
		RTTMeanMsValid: meanOK,
		RTTDevMs:       dev,
		RTTDevMsValid:  devOK,
		RTTRecentMs:    h.rtt.Recent(),
		Successes:      h.successes,
		Failures:       h.failures,
		LastObservedOK: lastOK,
	}
}
