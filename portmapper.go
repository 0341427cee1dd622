// Package portforward opens port forwards on a home gateway via UPnP IGD or
// NAT-PMP and removes them again when the owning session closes.
package portforward

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/multierr"
)

// ChainDiscoverer tries each discoverer in order and returns the first
// gateway found on the interface.
type ChainDiscoverer []Discoverer

// NewDefaultDiscoverer creates a discoverer trying UPnP first, then NAT-PMP.
func NewDefaultDiscoverer(upnp *UPnPDiscoverer, natpmp *NATPMPDiscoverer) ChainDiscoverer {
	var chain ChainDiscoverer
	if upnp != nil {
		chain = append(chain, upnp)
	}
	if natpmp != nil {
		chain = append(chain, natpmp)
	}
	return chain
}

// Discover implements Discoverer.
func (c ChainDiscoverer) Discover(ctx context.Context, local netip.Addr) (GatewayHandle, error) {
	if len(c) == 0 {
		return nil, errors.New("no NAT traversal available: all protocols disabled")
	}

	var errs error
	for _, d := range c {
		// Check context before each attempt
		if err := ctx.Err(); err != nil {
			return nil, multierr.Append(errs, fmt.Errorf("context cancelled: %w", err))
		}

		handle, err := d.Discover(ctx, local)
		if err == nil {
			return handle, nil
		}
		errs = multierr.Append(errs, err)
	}
	return nil, fmt.Errorf("no NAT traversal available: %w", errs)
}
