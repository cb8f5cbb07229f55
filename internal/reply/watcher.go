// Package reply owns the raw ICMP socket, decodes inbound messages via
// golang.org/x/net/icmp and internal/wire, and maintains the bounded
// reply ring buffer hop probers correlate against.
package reply

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/udptrace/udptrace/internal/racer"
	"github.com/udptrace/udptrace/internal/wire"
)

// BufferCapacity bounds the reply ring buffer; the oldest reply is
// evicted once it is exceeded.
const BufferCapacity = 100

// recvBufSize is large enough for an ICMP header plus the echoed
// IPv4/UDP header and payload, with headroom.
const recvBufSize = 1024

// ErrRawSocketPermission is returned when opening the raw ICMP socket
// is denied by the OS; the error text carries remediation guidance.
var ErrRawSocketPermission = errors.New("reply: raw socket permission denied")

// Watcher owns the raw ICMP socket and the shared reply buffer.
type Watcher struct {
	log  *zap.Logger
	conn *icmp.PacketConn

	mu     sync.Mutex
	buffer []*wire.ProbeReply
}

// New opens the raw ICMPv4 listening socket. Fails with
// ErrRawSocketPermission, carrying a remediation hint, when the process
// lacks CAP_NET_RAW/root.
func New(log *zap.Logger) (*Watcher, error) {
	if !hasPrivilege() {
		return nil, fmt.Errorf("%w: run as root or grant CAP_NET_RAW (e.g. `sudo setcap cap_net_raw+ep <binary>`)", ErrRawSocketPermission)
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v (try running as root or granting CAP_NET_RAW)", ErrRawSocketPermission, err)
		}
		return nil, fmt.Errorf("reply: open raw icmp socket: %w", err)
	}

	return &Watcher{log: log, conn: conn}, nil
}

// Close releases the raw socket.
func (w *Watcher) Close() error {
	return w.conn.Close()
}

// Run receives datagrams until ctx is cancelled, decoding each one and
// appending it to the bounded reply buffer. Decode failures are dropped
// and logged at debug level; ICMP messages other than Time Exceeded,
// Destination Unreachable and Parameter Problem are dropped without
// logging. The loop never stops on either.
// Returns ctx.Err() once cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.receiveOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// any other read error is treated as transient: keep looping.
			// (Read-deadline ticks with no data never get here; receiveOne
			// absorbs them.)
			continue
		}
	}
}

// receiveOne waits for a single ICMP message, cancellable by ctx with
// sub-second response via a short read deadline polled against ctx.
func (w *Watcher) receiveOne(ctx context.Context) error {
	const pollInterval = 200 * time.Millisecond

	_, err := racer.Race(ctx, func(ctx context.Context) (struct{}, error) {
		buf := make([]byte, recvBufSize)
		for {
			if err := ctx.Err(); err != nil {
				return struct{}{}, err
			}
			if err := w.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
				return struct{}{}, fmt.Errorf("reply: set read deadline: %w", err)
			}
			n, peer, err := w.conn.ReadFrom(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				return struct{}{}, err
			}

			received := time.Now()
			probe, decodeErr := w.decode(buf[:n], peer, received)
			if decodeErr != nil {
				w.log.Debug("dropped unusable reply", zap.Error(decodeErr))
				continue
			}
			if probe == nil {
				continue // not a Time Exceeded / Destination Unreachable / Parameter Problem
			}
			w.append(probe)
			return struct{}{}, nil
		}
	})
	return err
}

// decode turns one raw ICMP message into a ProbeReply. It accepts any
// ICMP type whose body carries an echoed inner datagram at the offset
// golang.org/x/net/icmp exposes as Data — Time Exceeded, Destination
// Unreachable, and Parameter Problem — and lets internal/wire's own
// protocol/correlation check decide whether that inner datagram is
// actually one of ours; it does not filter by ICMP type beyond that.
// Returns (nil, nil) for every other ICMP type (echo replies, and the
// handful of legacy types — Redirect, Source Quench — that
// golang.org/x/net/icmp doesn't parse into a typed Data field at all)
// so Run keeps listening without treating them as errors.
func (w *Watcher) decode(buf []byte, peer net.Addr, receivedAt time.Time) (*wire.ProbeReply, error) {
	rm, err := icmp.ParseMessage(1, buf) // protocol 1 = ICMPv4
	if err != nil {
		return nil, fmt.Errorf("reply: parse icmp message: %w", err)
	}

	var echoed []byte
	switch body := rm.Body.(type) {
	case *icmp.TimeExceeded:
		echoed = body.Data
	case *icmp.DstUnreach:
		echoed = body.Data
	case *icmp.ParamProb:
		echoed = body.Data
	default:
		return nil, nil
	}

	innerIP, innerUDP, payload, err := wire.DecodeEchoedPacket(echoed)
	if err != nil {
		return nil, err
	}

	icmpType, _ := rm.Type.(ipv4.ICMPType)

	ipAddr, ok := peer.(*net.IPAddr)
	if !ok {
		return nil, fmt.Errorf("reply: unexpected peer address type %T", peer)
	}

	return &wire.ProbeReply{
		ReceivedAt:    receivedAt,
		IPv4Header:    wire.IPv4Header{Source: ipAddr.IP},
		ICMPHeader:    wire.ICMPHeader{Type: uint8(icmpType), Code: uint8(rm.Code)},
		RefIPv4Header: innerIP,
		RefUDPHeader:  innerUDP,
		RefUDPPayload: payload,
	}, nil
}

func (w *Watcher) append(reply *wire.ProbeReply) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, reply)
	if len(w.buffer) > BufferCapacity {
		w.buffer = w.buffer[len(w.buffer)-BufferCapacity:]
	}
}

// TakeMatch scans the reply buffer oldest-first for the first reply
// matching req, removes it, and returns it. Returns nil if no reply
// currently matches.
func (w *Watcher) TakeMatch(req *wire.ProbeRequest) *wire.ProbeReply {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, candidate := range w.buffer {
		if req.Matches(candidate) {
			w.buffer = append(w.buffer[:i], w.buffer[i+1:]...)
			return candidate
		}
	}
	return nil
}

// Len reports the current number of buffered replies (test/inspection use).
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
