// Package resolve implements the single hostname-to-IPv4 lookup used
// to turn a CLI target argument into a concrete address to trace,
// plus a hostname sanity check run before ever attempting resolution.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
)

// ErrInvalidAddress is returned when a host cannot be resolved to
// exactly one IPv4 address.
var ErrInvalidAddress = errors.New("resolve: invalid address")

// hostnamePattern matches one or more dash-separated labels followed
// by a dot, then a two-or-more letter TLD.
var hostnamePattern = regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}$`)

// ValidHostname reports whether candidate looks like a resolvable
// domain name. It is a pure syntactic check run before resolution so a
// malformed target fails fast instead of after a DNS round trip; it
// does not guarantee the name actually resolves.
func ValidHostname(candidate string) bool {
	return hostnamePattern.MatchString(candidate)
}

// IPv4 resolves host to exactly one IPv4 address. host may already be
// a dotted-quad, in which case it is parsed directly. Fails with
// ErrInvalidAddress if host does not resolve to exactly one IPv4
// address.
func IPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidAddress, host)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, host, err)
	}

	var v4Addrs []net.IP
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			v4Addrs = append(v4Addrs, v4)
		}
	}
	if len(v4Addrs) != 1 {
		return nil, fmt.Errorf("%w: %q resolved to %d IPv4 addresses, want exactly 1", ErrInvalidAddress, host, len(v4Addrs))
	}
	return v4Addrs[0], nil
}
