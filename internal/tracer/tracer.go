// Package tracer implements the trace coordinator: it spawns the reply
// watcher and a staggered hop prober per TTL under a shared stop
// signal, and exposes a live, truncated hop snapshot.
package tracer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/udptrace/udptrace/internal/prober"
	"github.com/udptrace/udptrace/internal/racer"
	"github.com/udptrace/udptrace/pkg/hop"
)

// Dispatcher sends one TTL-limited probe. Satisfied by
// *internal/dispatch.Dispatcher.
type Dispatcher = prober.Dispatcher

// ReplyWatcher receives inbound ICMP replies until cancelled and
// answers correlation queries against its buffer. Satisfied by
// *internal/reply.Watcher.
type ReplyWatcher interface {
	prober.ReplyBuffer
	Run(ctx context.Context) error
}

// Config holds the trace parameters.
type Config struct {
	MaxHops            int
	ReturnEarly        bool
	MeasurementTimeout time.Duration
	TTLIncrementDelay  time.Duration
}

// DefaultConfig returns the tracer's default parameters.
func DefaultConfig() Config {
	return Config{
		MaxHops:            32,
		ReturnEarly:        false,
		MeasurementTimeout: time.Second,
		TTLIncrementDelay:  500 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.MaxHops <= 0 {
		return fmt.Errorf("tracer: max hops must be positive")
	}
	if c.MeasurementTimeout <= 0 {
		return fmt.Errorf("tracer: measurement timeout must be positive")
	}
	if c.TTLIncrementDelay < 0 {
		return fmt.Errorf("tracer: ttl increment delay must not be negative")
	}
	return nil
}

// Tracer coordinates one continuous traceroute to a single target.
type Tracer struct {
	log        *zap.Logger
	target     net.IP
	dispatcher Dispatcher
	watcher    ReplyWatcher
	cfg        Config

	foundAllHops atomic.Bool

	mu   sync.Mutex
	hops []*hop.RouteHop
}

// New constructs a Tracer for target using the given dispatcher and
// reply watcher, both injected explicit dependencies rather than
// process-wide globals.
func New(log *zap.Logger, target net.IP, dispatcher Dispatcher, watcher ReplyWatcher, cfg Config) (*Tracer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Tracer{
		log:        log,
		target:     target.To4(),
		dispatcher: dispatcher,
		watcher:    watcher,
		cfg:        cfg,
	}, nil
}

// Run starts the reply watcher and spawns a staggered hop prober per
// TTL, stopping early once the target is reached. It blocks until ctx
// is cancelled or the group unwinds on a fatal error, then returns once
// every spawned task has exited. Cancel ctx to stop the trace; Run
// honors that within one measurement timeout plus one receive cycle.
// With cfg.ReturnEarly set, Run instead returns nil as soon as the
// spawn loop ends, without waiting for the spawned tasks.
func (t *Tracer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := t.watcher.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	for ttl := 1; ttl <= t.cfg.MaxHops; ttl++ {
		if t.foundAllHops.Load() {
			break
		}

		routeHop := hop.New(t.target, ttl)
		t.appendHop(routeHop)

		p := prober.New(t.log, t.dispatcher, t.watcher, routeHop, &t.foundAllHops, t.cfg.MeasurementTimeout)
		g.Go(func() error {
			return p.Run(gctx)
		})

		_ = racer.Sleep(gctx, t.cfg.TTLIncrementDelay)
	}

	if t.cfg.ReturnEarly {
		return nil
	}

	<-gctx.Done()
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err() // caller asked us to stop
	}
	return err // nil, or the fatal error that cancelled gctx
}

func (t *Tracer) appendHop(h *hop.RouteHop) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hops = append(t.hops, h)
}

// Hops returns a snapshot ordered by TTL of every hop with a learned
// IP, truncated at (and including) the first hop whose learned IP
// equals the target.
func (t *Tracer) Hops() []hop.Snapshot {
	t.mu.Lock()
	hops := make([]*hop.RouteHop, len(t.hops))
	copy(hops, t.hops)
	t.mu.Unlock()

	out := make([]hop.Snapshot, 0, len(hops))
	for _, h := range hops {
		if !h.Discovered() {
			continue
		}
		snap := h.Snapshot()
		out = append(out, snap)
		if snap.IPv4.Equal(t.target) {
			break
		}
	}
	return out
}

// FoundAllHops reports whether the target has been reached.
func (t *Tracer) FoundAllHops() bool {
	return t.foundAllHops.Load()
}
