// Package dispatch owns the single UDP socket used to emit TTL-limited
// probes. Dispatch serializes the setsockopt(IP_TTL)+sendto pair across
// every hop prober, since the two calls are not atomic at the socket
// level and two probers racing on the same socket would otherwise send
// under each other's TTL.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/udptrace/udptrace/internal/racer"
	"github.com/udptrace/udptrace/internal/wire"
)

// sendRetryInterval is how long Dispatch waits between retries of a
// send that failed with EAGAIN/EWOULDBLOCK on the non-blocking socket.
const sendRetryInterval = 2 * time.Millisecond

// Dispatcher owns one non-blocking UDP socket, shared by every hop
// prober in a trace.
type Dispatcher struct {
	log *zap.Logger

	mu sync.Mutex
	fd socketFD
}

// New opens the dispatcher's UDP socket.
func New(log *zap.Logger) (*Dispatcher, error) {
	fd, err := createUDPSocket()
	if err != nil {
		return nil, fmt.Errorf("dispatch: open udp socket: %w", err)
	}
	return &Dispatcher{log: log, fd: fd}, nil
}

// Close releases the underlying socket.
func (d *Dispatcher) Close() error {
	return closeSocket(d.fd)
}

// Dispatch sets the socket's IP_TTL to req.TTL, stamps req.DispatchedAt
// immediately before the send, and emits the probe payload to
// (req.TargetIPv4, req.Port()). Serialized across all callers.
func (d *Dispatcher) Dispatch(ctx context.Context, req *wire.ProbeRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := setSocketTTL(d.fd, int(req.TTL)); err != nil {
		return fmt.Errorf("dispatch: set IP_TTL=%d: %w", req.TTL, err)
	}

	var addr [4]byte
	copy(addr[:], req.TargetIPv4.To4())
	sa := &unix.SockaddrInet4{Port: req.Port(), Addr: addr}

	req.DispatchedAt = time.Now()

	_, err := racer.Race(ctx, func(ctx context.Context) (struct{}, error) {
		for {
			err := sendToSocket(d.fd, req.Payload[:], sa)
			if err == nil {
				return struct{}{}, nil
			}
			if !isEAGAIN(err) {
				return struct{}{}, err
			}
			if sleepErr := racer.Sleep(ctx, sendRetryInterval); sleepErr != nil {
				return struct{}{}, sleepErr
			}
		}
	})
	if err != nil {
		d.log.Debug("probe send failed", zap.Uint8("ttl", req.TTL), zap.Error(err))
		return fmt.Errorf("dispatch: send probe ttl=%d: %w", req.TTL, err)
	}
	return nil
}
