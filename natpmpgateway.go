package portforward

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
)

// natpmpClient defines the NAT-PMP operations the gateway uses.
// This is satisfied by *natpmp.Client.
type natpmpClient interface {
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
}

// NAT-PMP has no permanent leases. Without a configured lease a week is
// requested; gateways clamp it to their own maximum.
const natpmpPermanentLease = 7 * 24 * time.Hour

// NATPMPGateway implements GatewayHandle over NAT-PMP.
type NATPMPGateway struct {
	client  natpmpClient
	gateway netip.Addr
	local   netip.Addr
	lease   time.Duration
	logger  *slog.Logger

	// NAT-PMP deletes by internal port, so remember it per mapping.
	mu       sync.Mutex
	internal map[Mapping]uint16
}

func newNATPMPGateway(client natpmpClient, gateway, local netip.Addr, lease time.Duration) *NATPMPGateway {
	if lease <= 0 {
		lease = natpmpPermanentLease
	}
	return &NATPMPGateway{
		client:   client,
		gateway:  gateway,
		local:    local,
		lease:    lease,
		logger:   slog.Default(),
		internal: make(map[Mapping]uint16),
	}
}

// GatewayAddr returns the NAT-PMP gateway address.
func (n *NATPMPGateway) GatewayAddr() netip.Addr { return n.gateway }

// LocalAddr returns the interface the gateway was selected for.
func (n *NATPMPGateway) LocalAddr() netip.Addr { return n.local }

// AddPort creates an explicit port mapping via NAT-PMP. NAT-PMP treats the
// requested port as a hint; if the gateway assigns another one,
// ErrPortMismatch is returned and the assigned mapping is withdrawn unless
// this handle already holds it. The description is not carried by the
// protocol.
func (n *NATPMPGateway) AddPort(ctx context.Context, proto Protocol, externalPort, internalPort uint16, _ string) error {
	result, err := callWithContext(ctx, func() (*natpmp.AddPortMappingResult, error) {
		return n.client.AddPortMapping(natpmpProtocol(proto), int(internalPort), int(externalPort), n.lifetime())
	})
	if err != nil {
		return fmt.Errorf("NAT-PMP port mapping failed: %w", err)
	}

	if result.MappedExternalPort != externalPort {
		mismatch := fmt.Errorf("%w: requested %d, got %d", ErrPortMismatch, externalPort, result.MappedExternalPort)

		// Gateways key mappings by internal port and hand back one that
		// already exists. Withdrawing it would drop a forward we still own.
		assigned := Mapping{Protocol: proto, ExternalPort: result.MappedExternalPort}
		if n.owns(assigned, internalPort) {
			return mismatch
		}

		if _, err := n.client.AddPortMapping(natpmpProtocol(proto), int(internalPort), 0, 0); err != nil {
			n.logger.Warn("failed to withdraw mismatched NAT-PMP mapping",
				"protocol", proto,
				"external_port", result.MappedExternalPort,
				"internal_port", internalPort,
				"error", err)
			return fmt.Errorf("%w (withdrawing port %d failed: %w)", mismatch, result.MappedExternalPort, err)
		}
		return mismatch
	}

	n.remember(Mapping{Protocol: proto, ExternalPort: externalPort}, internalPort)
	return nil
}

// AddAnyPort lets the gateway choose the external port.
func (n *NATPMPGateway) AddAnyPort(ctx context.Context, proto Protocol, internalPort uint16, _ string) (uint16, error) {
	result, err := callWithContext(ctx, func() (*natpmp.AddPortMappingResult, error) {
		return n.client.AddPortMapping(natpmpProtocol(proto), int(internalPort), 0, n.lifetime())
	})
	if err != nil {
		return 0, fmt.Errorf("NAT-PMP port mapping failed: %w", err)
	}

	n.remember(Mapping{Protocol: proto, ExternalPort: result.MappedExternalPort}, internalPort)
	return result.MappedExternalPort, nil
}

// RemovePort removes a port mapping via NAT-PMP. A mapping not created
// through this handle is assumed to forward to the same internal port.
func (n *NATPMPGateway) RemovePort(ctx context.Context, proto Protocol, externalPort uint16) error {
	m := Mapping{Protocol: proto, ExternalPort: externalPort}

	n.mu.Lock()
	internalPort, ok := n.internal[m]
	n.mu.Unlock()
	if !ok {
		internalPort = externalPort
	}

	_, err := callWithContext(ctx, func() (*natpmp.AddPortMappingResult, error) {
		return n.client.AddPortMapping(natpmpProtocol(proto), int(internalPort), 0, 0)
	})
	if err != nil {
		return fmt.Errorf("NAT-PMP port unmapping failed: %w", err)
	}

	n.mu.Lock()
	delete(n.internal, m)
	n.mu.Unlock()
	return nil
}

// ExternalIP returns the external IP address via NAT-PMP.
func (n *NATPMPGateway) ExternalIP(ctx context.Context) (string, error) {
	result, err := callWithContext(ctx, n.client.GetExternalAddress)
	if err != nil {
		return "", fmt.Errorf("NAT-PMP external IP lookup failed: %w", err)
	}
	return netip.AddrFrom4(result.ExternalIPAddress).String(), nil
}

func (n *NATPMPGateway) remember(m Mapping, internalPort uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.internal[m] = internalPort
}

// owns reports whether m was created through this handle for internalPort.
func (n *NATPMPGateway) owns(m Mapping, internalPort uint16) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	port, ok := n.internal[m]
	return ok && port == internalPort
}

func (n *NATPMPGateway) lifetime() int {
	return int(n.lease / time.Second)
}

// natpmpProtocol returns the lowercase protocol name NAT-PMP expects.
func natpmpProtocol(p Protocol) string {
	return strings.ToLower(p.String())
}

// callWithContext runs a blocking NAT-PMP call and returns early if ctx ends
// first. The natpmp client has its own timeout, so the call goroutine always
// finishes.
func callWithContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// NATPMPDiscoverer selects the NAT-PMP gateway for a local interface and
// checks that it answers.
type NATPMPDiscoverer struct {
	// CallTimeout bounds each NAT-PMP request, retries included.
	CallTimeout time.Duration
	// Lease is the lifetime requested for new mappings.
	Lease  time.Duration
	Logger *slog.Logger

	// newClient is replaced in tests.
	newClient func(gateway netip.Addr, timeout time.Duration) natpmpClient
}

// Discover probes the gateway serving local.
func (d *NATPMPDiscoverer) Discover(ctx context.Context, local netip.Addr) (GatewayHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	gw, err := gatewayFor(local)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoNATPMPGateway, err)
	}

	client := d.clientFor(gw)

	// Test connectivity
	if _, err := callWithContext(ctx, client.GetExternalAddress); err != nil {
		return nil, fmt.Errorf("%w: connectivity test to %s failed: %w", ErrNoNATPMPGateway, gw, err)
	}

	d.logger().Debug("NAT-PMP gateway found", "interface", local, "gateway", gw)
	g := newNATPMPGateway(client, gw, local, d.Lease)
	g.logger = d.logger()
	return g, nil
}

func (d *NATPMPDiscoverer) clientFor(gw netip.Addr) natpmpClient {
	timeout := d.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if d.newClient != nil {
		return d.newClient(gw, timeout)
	}
	return natpmp.NewClientWithTimeout(net.IP(gw.AsSlice()), timeout)
}

func (d *NATPMPDiscoverer) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
