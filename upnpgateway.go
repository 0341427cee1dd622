package portforward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"net/url"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/huin/goupnp/httpu"
	"github.com/huin/goupnp/soap"
	"github.com/huin/goupnp/ssdp"
	"go.uber.org/multierr"
)

// upnpClient defines the IGD SOAP operations the gateway uses.
// This is satisfied by WANIPConnection1, WANIPConnection2, and WANPPPConnection1.
type upnpClient interface {
	AddPortMappingCtx(
		ctx context.Context,
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error
	DeletePortMappingCtx(
		ctx context.Context,
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
	) error
	GetExternalIPAddressCtx(ctx context.Context) (string, error)
}

// upnpAnyPortClient is implemented by WANIPConnection2, which lets the
// gateway pick the external port itself.
type upnpAnyPortClient interface {
	AddAnyPortMappingCtx(
		ctx context.Context,
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) (uint16, error)
}

// UPnPGateway implements GatewayHandle over a UPnP IGD connection service.
type UPnPGateway struct {
	client      upnpClient
	gateway     netip.Addr
	local       netip.Addr
	lease       time.Duration
	callTimeout time.Duration
	randomPort  func() uint16
}

func newUPnPGateway(client upnpClient, gateway, local netip.Addr, lease, callTimeout time.Duration) *UPnPGateway {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &UPnPGateway{
		client:      client,
		gateway:     gateway,
		local:       local,
		lease:       lease,
		callTimeout: callTimeout,
		randomPort: func() uint16 {
			return uint16(anyPortMin + rand.IntN(anyPortMax-anyPortMin+1))
		},
	}
}

// GatewayAddr returns the address of the IGD.
func (u *UPnPGateway) GatewayAddr() netip.Addr { return u.gateway }

// LocalAddr returns the interface the IGD was discovered through.
func (u *UPnPGateway) LocalAddr() netip.Addr { return u.local }

// AddPort creates an explicit port mapping via UPnP.
func (u *UPnPGateway) AddPort(ctx context.Context, proto Protocol, externalPort, internalPort uint16, description string) error {
	ctx, cancel := context.WithTimeout(ctx, u.callTimeout)
	defer cancel()

	err := u.client.AddPortMappingCtx(ctx,
		"",               // remote host (any)
		externalPort,     // external port
		proto.String(),   // TCP or UDP
		internalPort,     // internal port
		u.local.String(), // internal client
		true,             // enabled
		description,      // description
		u.leaseSeconds(), // lease duration
	)
	if err != nil {
		return fmt.Errorf("UPnP port mapping failed: %w", err)
	}
	return nil
}

// AddAnyPort lets the gateway choose the external port. IGDs without
// AddAnyPortMapping get a bounded number of random high ports instead; only
// a ConflictInMappingEntry fault moves on to the next port.
func (u *UPnPGateway) AddAnyPort(ctx context.Context, proto Protocol, internalPort uint16, description string) (uint16, error) {
	if anyClient, ok := u.client.(upnpAnyPortClient); ok {
		callCtx, cancel := context.WithTimeout(ctx, u.callTimeout)
		defer cancel()

		port, err := anyClient.AddAnyPortMappingCtx(callCtx,
			"",
			u.randomPort(), // preferred external port
			proto.String(),
			internalPort,
			u.local.String(),
			true,
			description,
			u.leaseSeconds(),
		)
		if err != nil {
			return 0, fmt.Errorf("UPnP any-port mapping failed: %w", err)
		}
		return port, nil
	}

	var errs error
	for range anyPortAttempts {
		if err := ctx.Err(); err != nil {
			return 0, multierr.Append(errs, err)
		}
		port := u.randomPort()
		err := u.AddPort(ctx, proto, port, internalPort, description)
		if err == nil {
			return port, nil
		}
		if !isPortConflict(err) {
			return 0, multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, err)
	}
	return 0, fmt.Errorf("no free external port after %d attempts: %w", anyPortAttempts, errs)
}

// RemovePort removes a port mapping via UPnP.
func (u *UPnPGateway) RemovePort(ctx context.Context, proto Protocol, externalPort uint16) error {
	ctx, cancel := context.WithTimeout(ctx, u.callTimeout)
	defer cancel()

	if err := u.client.DeletePortMappingCtx(ctx, "", externalPort, proto.String()); err != nil {
		return fmt.Errorf("UPnP port unmapping failed: %w", err)
	}
	return nil
}

// ExternalIP returns the external IP address via UPnP.
func (u *UPnPGateway) ExternalIP(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.callTimeout)
	defer cancel()

	ip, err := u.client.GetExternalIPAddressCtx(ctx)
	if err != nil {
		return "", fmt.Errorf("UPnP external IP lookup failed: %w", err)
	}
	return ip, nil
}

func (u *UPnPGateway) leaseSeconds() uint32 {
	return uint32(u.lease / time.Second)
}

// upnpConflictInMappingEntry is the IGD fault for an external port already
// mapped to another client.
const upnpConflictInMappingEntry = 718

func isPortConflict(err error) bool {
	var fault *soap.SOAPFaultError
	return errors.As(err, &fault) && fault.Detail.UPnPError.Errorcode == upnpConflictInMappingEntry
}

// upnpSearchTarget is one IGD connection service to search for.
type upnpSearchTarget struct {
	urn     string
	name    string
	connect func(ctx context.Context, loc *url.URL) (upnpClient, error)
}

// upnpSearchTargets in order of preference. The service URNs are shared
// between IGDv1 and IGDv2 devices, so each is searched once.
var upnpSearchTargets = []upnpSearchTarget{
	{
		urn:  internetgateway2.URN_WANIPConnection_2,
		name: "WANIPConnection2",
		connect: func(ctx context.Context, loc *url.URL) (upnpClient, error) {
			clients, err := internetgateway2.NewWANIPConnection2ClientsByURLCtx(ctx, loc)
			return firstClient(clients, err)
		},
	},
	{
		urn:  internetgateway1.URN_WANIPConnection_1,
		name: "WANIPConnection1",
		connect: func(ctx context.Context, loc *url.URL) (upnpClient, error) {
			clients, err := internetgateway1.NewWANIPConnection1ClientsByURLCtx(ctx, loc)
			return firstClient(clients, err)
		},
	},
	{
		urn:  internetgateway1.URN_WANPPPConnection_1,
		name: "WANPPPConnection1",
		connect: func(ctx context.Context, loc *url.URL) (upnpClient, error) {
			clients, err := internetgateway1.NewWANPPPConnection1ClientsByURLCtx(ctx, loc)
			return firstClient(clients, err)
		},
	},
}

func firstClient[C upnpClient](clients []C, err error) (upnpClient, error) {
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, errors.New("no matching service in device description")
	}
	return clients[0], nil
}

// UPnPDiscoverer finds UPnP IGDs by sending SSDP searches from one local
// interface address.
type UPnPDiscoverer struct {
	// SearchTimeout bounds the whole SSDP search on one interface.
	SearchTimeout time.Duration
	// CallTimeout bounds each SOAP call made by the resulting gateway.
	CallTimeout time.Duration
	// Lease is the lease duration requested for new mappings; zero is permanent.
	Lease  time.Duration
	Logger *slog.Logger
}

// Discover searches for an IGD reachable from local.
func (d *UPnPDiscoverer) Discover(ctx context.Context, local netip.Addr) (GatewayHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	perTarget := d.searchTimeout() / time.Duration(len(upnpSearchTargets))
	if perTarget < time.Second {
		// SSDP MX is expressed in whole seconds
		perTarget = time.Second
	}

	var errs error
	for _, st := range upnpSearchTargets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled before %s search: %w", st.name, err)
		}

		locations, err := ssdpSearch(ctx, local, st.urn, perTarget)
		if err != nil {
			d.logger().Debug("SSDP search failed", "interface", local, "target", st.name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", st.name, err))
			continue
		}

		for _, loc := range locations {
			client, err := st.connect(ctx, loc)
			if err != nil {
				d.logger().Debug("IGD description unusable", "location", loc, "target", st.name, "error", err)
				errs = multierr.Append(errs, fmt.Errorf("%s at %s: %w", st.name, loc, err))
				continue
			}

			gw := d.gatewayAddr(ctx, loc, local)
			d.logger().Debug("UPnP IGD found", "interface", local, "target", st.name, "location", loc)
			return newUPnPGateway(client, gw, local, d.Lease, d.CallTimeout), nil
		}
	}

	if errs == nil {
		return nil, ErrNoUPnPGateway
	}
	return nil, fmt.Errorf("%w: %w", ErrNoUPnPGateway, errs)
}

// gatewayAddr returns the IGD address from its description URL. Hostnames
// are resolved; if that fails the interface's default gateway is assumed.
func (d *UPnPDiscoverer) gatewayAddr(ctx context.Context, loc *url.URL, local netip.Addr) netip.Addr {
	host := loc.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap()
	}

	addrs, err := lookupNetIP(ctx, "ip4", host)
	if err == nil && len(addrs) > 0 {
		return addrs[0].Unmap()
	}
	d.logger().Debug("IGD host not resolvable, assuming default gateway", "host", host, "error", err)

	gw, err := gatewayFor(local)
	if err != nil {
		d.logger().Debug("no default gateway for interface", "interface", local, "error", err)
		return netip.Addr{}
	}
	return gw
}

func (d *UPnPDiscoverer) searchTimeout() time.Duration {
	if d.SearchTimeout <= 0 {
		return DefaultDiscoveryTimeout
	}
	return d.SearchTimeout
}

func (d *UPnPDiscoverer) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Replaced in tests.
var (
	ssdpSearch  = ssdpSearchFromAddr
	lookupNetIP = net.DefaultResolver.LookupNetIP
)

// ssdpSearchFromAddr sends an SSDP search for target from localIP and returns
// the device description locations that answered.
func ssdpSearchFromAddr(ctx context.Context, localIP netip.Addr, target string, timeout time.Duration) ([]*url.URL, error) {
	client, err := httpu.NewHTTPUClientAddr(localIP.String())
	if err != nil {
		return nil, fmt.Errorf("bind to %s: %w", localIP, err)
	}
	defer client.Close()

	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	responses, err := ssdp.RawSearch(searchCtx, client, target, 3)
	if err != nil {
		return nil, fmt.Errorf("SSDP search: %w", err)
	}

	var locations []*url.URL
	for _, resp := range responses {
		loc, err := resp.Location()
		if err != nil {
			continue
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
