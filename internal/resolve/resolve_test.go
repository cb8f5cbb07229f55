package resolve

import (
	"context"
	"errors"
	"testing"
)

func TestValidHostname_AcceptsOrdinaryDomainNames(t *testing.T) {
	valid := []string{"example.com", "sub.example.com", "a-b-c.example.co"}
	for _, h := range valid {
		if !ValidHostname(h) {
			t.Errorf("expected %q to be a valid hostname", h)
		}
	}
}

func TestValidHostname_RejectsMalformedInput(t *testing.T) {
	invalid := []string{"", "nodot", "-leading.com", "trailing-.com", "has space.com", "under_score.com"}
	for _, h := range invalid {
		if ValidHostname(h) {
			t.Errorf("expected %q to be rejected", h)
		}
	}
}

func TestIPv4_ParsesDottedQuadDirectly(t *testing.T) {
	ip, err := IPv4(context.Background(), "198.51.100.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip.String() != "198.51.100.1" {
		t.Errorf("expected 198.51.100.1, got %v", ip)
	}
}

func TestIPv4_RejectsIPv6Literal(t *testing.T) {
	_, err := IPv4(context.Background(), "2001:db8::1")
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestIPv4_RejectsUnresolvableHostname(t *testing.T) {
	_, err := IPv4(context.Background(), "this-host-should-not-exist.invalid")
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}
