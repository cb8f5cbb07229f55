// Package wire builds the UDP probe payload used to correlate replies
// with outstanding requests, and decodes the inner IPv4+UDP packet
// golang.org/x/net/icmp echoes back inside a Time Exceeded or
// Destination Unreachable message body.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// ProbeBasePort is the UDP destination port for a TTL=0 probe; the
// actual destination port for a probe is ProbeBasePort+TTL.
const ProbeBasePort = 33434

// ProbePayloadSize is the number of random correlation bytes carried
// in each outbound UDP probe.
const ProbePayloadSize = 8

const protoUDP = 17

// innerUDPLen is the fixed length of the inner UDP header that follows
// the inner IPv4 header (whose own length is variable and comes from
// ipv4.ParseHeader, which accounts for any options).
const innerUDPLen = 8

// ErrInvalidProbeReply is returned when an echoed packet does not
// carry the expected inner UDP protocol.
var ErrInvalidProbeReply = errors.New("wire: invalid probe reply")

// IPv4Header is the decoded view of the fields the tracer cares about.
type IPv4Header struct {
	Source   net.IP
	Dest     net.IP
	TTL      uint8
	Protocol uint8
}

// ICMPHeader is the decoded ICMP type/code pair.
type ICMPHeader struct {
	Type uint8
	Code uint8
}

// UDPHeader is the decoded UDP source/destination port pair.
type UDPHeader struct {
	SourcePort uint16
	DestPort   uint16
}

func decodeUDP(b []byte) (UDPHeader, error) {
	if len(b) < innerUDPLen {
		return UDPHeader{}, fmt.Errorf("wire: short udp header (%d bytes): %w", len(b), ErrInvalidProbeReply)
	}
	return UDPHeader{
		SourcePort: binary.BigEndian.Uint16(b[0:2]),
		DestPort:   binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// ProbeRequest is one outstanding TTL-limited probe. Payload is fixed
// at construction and is the primary correlation key for replies.
type ProbeRequest struct {
	TargetIPv4 net.IP
	TTL        uint8
	Payload    [ProbePayloadSize]byte

	CreatedAt    time.Time
	DispatchedAt time.Time
}

// Port is the destination UDP port for this request.
func (r *ProbeRequest) Port() int {
	return ProbeBasePort + int(r.TTL)
}

// NewProbeRequest builds a fresh request with a new random payload.
func NewProbeRequest(target net.IP, ttl uint8) (*ProbeRequest, error) {
	var payload [ProbePayloadSize]byte
	if _, err := rand.Read(payload[:]); err != nil {
		return nil, fmt.Errorf("wire: generate probe payload: %w", err)
	}
	now := time.Now()
	return &ProbeRequest{
		TargetIPv4:   target.To4(),
		TTL:          ttl,
		Payload:      payload,
		CreatedAt:    now,
		DispatchedAt: now,
	}, nil
}

// Matches reports whether reply is a correlated response to r: either
// the echoed payload matches exactly, or the echoed (destination IP,
// destination port) pair matches r's. The pair is checked whenever the
// payload does not match, whether or not a payload was echoed.
func (r *ProbeRequest) Matches(reply *ProbeReply) bool {
	if reply.RefUDPPayload != nil && *reply.RefUDPPayload == r.Payload {
		return true
	}
	return r.TargetIPv4.Equal(reply.RefIPv4Header.Dest) && reply.RefUDPHeader.DestPort == uint16(r.Port())
}

// ProbeReply is one decoded inbound ICMP message, source and type/code
// taken from the outer message and the echoed packet decoded below it.
type ProbeReply struct {
	ReceivedAt time.Time

	IPv4Header IPv4Header // Source is the outer ICMP message's sender
	ICMPHeader ICMPHeader

	RefIPv4Header IPv4Header
	RefUDPHeader  UDPHeader
	RefUDPPayload *[ProbePayloadSize]byte
}

// DecodeEchoedPacket parses the inner IPv4+UDP packet carried in the
// body of an ICMP TimeExceeded or DstUnreach message (the Data field),
// via golang.org/x/net/ipv4.ParseHeader rather than a hand-rolled,
// fixed-offset read, so a variable-length inner IPv4 header (options
// present) decodes correctly instead of just the common no-options
// case. Fails with ErrInvalidProbeReply when the echoed protocol isn't
// UDP.
func DecodeEchoedPacket(body []byte) (inner IPv4Header, udpHdr UDPHeader, payload *[ProbePayloadSize]byte, err error) {
	h, err := ipv4.ParseHeader(body)
	if err != nil {
		return IPv4Header{}, UDPHeader{}, nil, fmt.Errorf("wire: parse echoed ipv4 header: %w", err)
	}
	if h.Protocol != protoUDP {
		return IPv4Header{}, UDPHeader{}, nil, fmt.Errorf("wire: echoed protocol %d is not UDP: %w", h.Protocol, ErrInvalidProbeReply)
	}
	inner = IPv4Header{
		Source:   h.Src,
		Dest:     h.Dst,
		TTL:      uint8(h.TTL),
		Protocol: uint8(h.Protocol),
	}

	udpOffset := h.Len
	if len(body) < udpOffset+innerUDPLen {
		return IPv4Header{}, UDPHeader{}, nil, fmt.Errorf("wire: truncated before echoed udp header: %w", ErrInvalidProbeReply)
	}
	udpHdr, err = decodeUDP(body[udpOffset:])
	if err != nil {
		return IPv4Header{}, UDPHeader{}, nil, err
	}

	payloadOffset := udpOffset + innerUDPLen
	if remaining := body[min(payloadOffset, len(body)):]; len(remaining) > 0 {
		var p [ProbePayloadSize]byte
		if n := copy(p[:], remaining); n == ProbePayloadSize {
			payload = &p
		}
	}

	return inner, udpHdr, payload, nil
}
