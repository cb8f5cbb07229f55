// Package prober implements the per-TTL hop prober: repeatedly
// dispatch a probe, wait for a correlated reply or a timeout, and
// update the hop's RTT statistics and termination state.
package prober

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/udptrace/udptrace/internal/racer"
	"github.com/udptrace/udptrace/internal/wire"
	"github.com/udptrace/udptrace/pkg/hop"
)

// DefaultMeasurementTimeout is the default per-iteration deadline
// before a probe is recorded as a failed measurement.
const DefaultMeasurementTimeout = time.Second

// pollInterval is how often the reply buffer is rescanned for a match
// while waiting out the measurement timeout.
const pollInterval = 250 * time.Millisecond

// destinationUnreachable is the ICMP type the target's own kernel
// sends back for an unreachable UDP port, indicating the target was
// reached.
const destinationUnreachable = 3

// Dispatcher sends one TTL-limited probe. Satisfied by
// *internal/dispatch.Dispatcher; kept as a narrow interface here so
// Prober can be exercised against a fake in tests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *wire.ProbeRequest) error
}

// ReplyBuffer answers whether a reply correlating to req has arrived.
// Satisfied by *internal/reply.Watcher.
type ReplyBuffer interface {
	TakeMatch(req *wire.ProbeRequest) *wire.ProbeReply
}

// Prober continuously measures one TTL until its context is cancelled.
type Prober struct {
	log *zap.Logger

	dispatcher Dispatcher
	buffer     ReplyBuffer
	hop        *hop.RouteHop

	measurementTimeout time.Duration
	foundAllHops       *atomic.Bool
}

// New constructs a Prober for one TTL. foundAllHops is the trace-wide
// shared flag set once the target has been reached by any prober. A
// zero measurementTimeout falls back to DefaultMeasurementTimeout.
func New(log *zap.Logger, dispatcher Dispatcher, buffer ReplyBuffer, routeHop *hop.RouteHop, foundAllHops *atomic.Bool, measurementTimeout time.Duration) *Prober {
	if measurementTimeout <= 0 {
		measurementTimeout = DefaultMeasurementTimeout
	}
	return &Prober{
		log:                log,
		dispatcher:         dispatcher,
		buffer:             buffer,
		hop:                routeHop,
		measurementTimeout: measurementTimeout,
		foundAllHops:       foundAllHops,
	}
}

// Run repeats Measure until ctx is cancelled. It never returns a
// non-nil error for measurement timeouts — those are absorbed into the
// hop's failure counter. A fatal, non-timeout error from Measure (e.g.
// a permanent dispatch failure) stops the loop and is returned so the
// trace coordinator can surface it.
func (p *Prober) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := p.Measure(ctx); err != nil {
			return err
		}
	}
}

// Measure performs one dispatch-wait-correlate iteration under
// p.measurementTimeout. A successful correlation updates the hop's RTT
// monitor, learned IP, and success counter; a timeout only increments
// the failure counter and returns nil. Any other error — a malformed
// probe request or a Dispatch failure that isn't itself a timeout or
// trace-wide cancellation — is fatal and returned to the caller.
func (p *Prober) Measure(ctx context.Context) error {
	iterCtx, cancel := context.WithTimeout(ctx, p.measurementTimeout)
	defer cancel()

	match, err := p.dispatchAndWait(iterCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil // trace-wide stop, not a timeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p.hop.RecordTimeout()
			return nil
		}
		return err
	}

	p.recordMatch(match.req, match.reply)
	return nil
}

type matchedReply struct {
	req   *wire.ProbeRequest
	reply *wire.ProbeReply
}

func (p *Prober) dispatchAndWait(ctx context.Context) (*matchedReply, error) {
	req, err := wire.NewProbeRequest(p.hop.TargetIPv4(), uint8(p.hop.TTL()))
	if err != nil {
		return nil, err
	}

	if err := p.dispatcher.Dispatch(ctx, req); err != nil {
		return nil, err
	}

	return racer.Race(ctx, func(ctx context.Context) (*matchedReply, error) {
		for {
			if r := p.buffer.TakeMatch(req); r != nil {
				return &matchedReply{req: req, reply: r}, nil
			}
			if err := racer.Sleep(ctx, pollInterval); err != nil {
				return nil, err
			}
		}
	})
}

func (p *Prober) recordMatch(req *wire.ProbeRequest, r *wire.ProbeReply) {
	rttMs := r.ReceivedAt.Sub(req.DispatchedAt).Seconds() * 1000
	p.hop.RecordSuccess(r.IPv4Header.Source, rttMs)

	if !p.foundAllHops.Load() {
		if r.ICMPHeader.Type == destinationUnreachable || r.IPv4Header.Source.Equal(p.hop.TargetIPv4()) {
			p.foundAllHops.Store(true)
		}
	}
}
