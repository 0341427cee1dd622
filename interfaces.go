package portforward

import (
	"fmt"
	"iter"
	"net"
	"net/netip"
)

// Interface is a local IPv4 address gateways can be searched from.
type Interface struct {
	Name string
	Addr netip.Addr
}

// Interfaces lists the non-loopback IPv4 addresses of this host in the order
// the operating system reports them.
func Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var out []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipnet.IP.To4())
			if !ok || ip.IsLoopback() {
				continue
			}
			out = append(out, Interface{Name: iface.Name, Addr: ip})
		}
	}
	return out, nil
}

// InterfaceAddrs yields the address of each interface, in order.
func InterfaceAddrs(ifaces []Interface) iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		for _, iface := range ifaces {
			if !yield(iface.Addr) {
				return
			}
		}
	}
}
