package reply

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// buildEchoedPacket mirrors internal/wire's expectations: a version-4,
// no-options IPv4 header (IHL=5) followed by a UDP header and payload.
func buildEchoedPacket(destPort uint16, payload []byte) []byte {
	buf := make([]byte, 28+len(payload))
	buf[0] = 0x45 // version 4, IHL 5 (20-byte header, no options)
	copy(buf[12:16], net.ParseIP("198.51.100.1").To4())
	copy(buf[16:20], net.ParseIP("203.0.113.1").To4())
	buf[9] = 17 // UDP
	buf[22] = byte(destPort >> 8)
	buf[23] = byte(destPort)
	copy(buf[28:], payload)
	return buf
}

func TestWatcher_Decode_ExtractsTimeExceeded(t *testing.T) {
	w := &Watcher{log: zap.NewNop()}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeTimeExceeded,
		Code: 0,
		Body: &icmp.TimeExceeded{Data: buildEchoedPacket(33435, make([]byte, 8))},
	}
	raw, err := msg.Marshal(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := w.decode(raw, &net.IPAddr{IP: net.ParseIP("192.0.2.1")}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply == nil {
		t.Fatal("expected a decoded reply")
	}
	if reply.ICMPHeader.Type != 11 {
		t.Errorf("expected ICMP type 11 (time exceeded), got %d", reply.ICMPHeader.Type)
	}
	if !reply.IPv4Header.Source.Equal(net.ParseIP("192.0.2.1")) {
		t.Errorf("expected source 192.0.2.1, got %v", reply.IPv4Header.Source)
	}
	if reply.RefUDPHeader.DestPort != 33435 {
		t.Errorf("expected dest port 33435, got %d", reply.RefUDPHeader.DestPort)
	}
}

func TestWatcher_Decode_ExtractsDestinationUnreachable(t *testing.T) {
	w := &Watcher{log: zap.NewNop()}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeDestinationUnreachable,
		Code: 3,
		Body: &icmp.DstUnreach{Data: buildEchoedPacket(33434, make([]byte, 8))},
	}
	raw, err := msg.Marshal(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := w.decode(raw, &net.IPAddr{IP: net.ParseIP("203.0.113.1")}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.ICMPHeader.Type != 3 {
		t.Errorf("expected ICMP type 3 (destination unreachable), got %d", reply.ICMPHeader.Type)
	}
}

func TestWatcher_Decode_ExtractsParameterProblem(t *testing.T) {
	w := &Watcher{log: zap.NewNop()}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeParameterProblem,
		Code: 0,
		Body: &icmp.ParamProb{Data: buildEchoedPacket(33436, make([]byte, 8))},
	}
	raw, err := msg.Marshal(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := w.decode(raw, &net.IPAddr{IP: net.ParseIP("192.0.2.1")}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply == nil {
		t.Fatal("expected a decoded reply")
	}
	if reply.ICMPHeader.Type != 12 {
		t.Errorf("expected ICMP type 12 (parameter problem), got %d", reply.ICMPHeader.Type)
	}
	if reply.RefUDPHeader.DestPort != 33436 {
		t.Errorf("expected dest port 33436, got %d", reply.RefUDPHeader.DestPort)
	}
}

func TestWatcher_Decode_IgnoresUnrelatedMessageTypes(t *testing.T) {
	w := &Watcher{log: zap.NewNop()}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Code: 0,
		Body: &icmp.Echo{ID: 1, Seq: 1, Data: []byte("ping")},
	}
	raw, err := msg.Marshal(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := w.decode(raw, &net.IPAddr{IP: net.ParseIP("192.0.2.1")}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != nil {
		t.Error("expected nil reply for an unrelated ICMP message type")
	}
}

func TestWatcher_Decode_RejectsNonUDPEchoedProtocol(t *testing.T) {
	w := &Watcher{log: zap.NewNop()}

	echoed := buildEchoedPacket(33435, make([]byte, 8))
	echoed[9] = 1 // ICMP, not UDP
	msg := icmp.Message{
		Type: ipv4.ICMPTypeTimeExceeded,
		Code: 0,
		Body: &icmp.TimeExceeded{Data: echoed},
	}
	raw, err := msg.Marshal(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = w.decode(raw, &net.IPAddr{IP: net.ParseIP("192.0.2.1")}, time.Now())
	if err == nil {
		t.Fatal("expected an error for a non-UDP echoed protocol")
	}
}
