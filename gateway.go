package portforward

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/jackpal/gateway"
)

// discoverDefaultGateway reads the system routing table. Replaced in tests.
var discoverDefaultGateway = gateway.DiscoverGateway

// gatewayFor finds the NAT-PMP gateway serving the local address.
// The routing table's default gateway is used when it sits on the same
// subnet as local, falling back to a heuristic otherwise.
func gatewayFor(local netip.Addr) (netip.Addr, error) {
	if gw, err := defaultGatewayOn(local); err == nil {
		return gw, nil
	}
	return gatewayFallback(local)
}

// defaultGatewayOn returns the system default gateway if local's subnet
// contains it.
func defaultGatewayOn(local netip.Addr) (netip.Addr, error) {
	ip, err := discoverDefaultGateway()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("read default gateway: %w", err)
	}
	gw, ok := netip.AddrFromSlice(ip.To4())
	if !ok {
		return netip.Addr{}, errors.New("default gateway is not IPv4")
	}

	prefix, err := interfacePrefix(local)
	if err != nil {
		return netip.Addr{}, err
	}
	if !prefix.Contains(gw) {
		return netip.Addr{}, fmt.Errorf("default gateway %s is not on %s", gw, prefix)
	}
	return gw, nil
}

// gatewayFallback assumes the gateway is .1 in the local address's /24.
// This works for most home/office networks where the router is at x.x.x.1.
func gatewayFallback(local netip.Addr) (netip.Addr, error) {
	if !local.Is4() {
		return netip.Addr{}, fmt.Errorf("not IPv4 address: %s", local)
	}
	b := local.As4()
	b[3] = 1
	return netip.AddrFrom4(b), nil
}

// interfacePrefix returns the subnet configured with the local address.
func interfacePrefix(local netip.Addr) (netip.Prefix, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok || ip.Unmap() != local {
			continue
		}
		ones, bits := ipnet.Mask.Size()
		if local.Is4() && bits == 128 {
			ones -= 96
		}
		return netip.PrefixFrom(local, ones).Masked(), nil
	}
	return netip.Prefix{}, fmt.Errorf("no interface has address %s", local)
}
