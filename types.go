package portforward

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Protocol is the transport protocol of a port mapping.
type Protocol int

const (
	TCP Protocol = iota + 1
	UDP
)

// String returns the protocol name as gateways expect it ("TCP" or "UDP").
func (p Protocol) String() string {
	switch p {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// ParseProtocol parses a case-insensitive protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	default:
		return 0, fmt.Errorf("unrecognized protocol: %s", s)
	}
}

// Mapping identifies one port forward opened on a gateway. A gateway
// addresses a mapping by protocol and external port alone, so the internal
// port is not part of its identity.
type Mapping struct {
	Protocol     Protocol
	ExternalPort uint16
}

func (m Mapping) String() string {
	return fmt.Sprintf("%s %d", m.Protocol, m.ExternalPort)
}

// GatewayHandle is a controllable gateway reachable from one local interface.
// All operations may perform network I/O and are bounded by an
// implementation-chosen timeout.
type GatewayHandle interface {
	// GatewayAddr returns the gateway's own address.
	GatewayAddr() netip.Addr
	// LocalAddr returns the local interface address the gateway was found through.
	LocalAddr() netip.Addr
	// AddPort forwards externalPort/proto to LocalAddr():internalPort.
	AddPort(ctx context.Context, proto Protocol, externalPort, internalPort uint16, description string) error
	// AddAnyPort forwards a gateway-chosen external port to LocalAddr():internalPort.
	AddAnyPort(ctx context.Context, proto Protocol, internalPort uint16, description string) (uint16, error)
	// RemovePort deletes the mapping for externalPort/proto.
	RemovePort(ctx context.Context, proto Protocol, externalPort uint16) error
	// ExternalIP returns the gateway's public address.
	ExternalIP(ctx context.Context) (string, error)
}

// Discoverer locates a controllable gateway reachable from a local address.
type Discoverer interface {
	Discover(ctx context.Context, local netip.Addr) (GatewayHandle, error)
}

// DiscovererFunc adapts a function to the Discoverer interface.
type DiscovererFunc func(ctx context.Context, local netip.Addr) (GatewayHandle, error)

// Discover calls f(ctx, local).
func (f DiscovererFunc) Discover(ctx context.Context, local netip.Addr) (GatewayHandle, error) {
	return f(ctx, local)
}
