package portforward

import (
	"testing"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// TestUPnPGatewayImplementsGatewayHandle verifies UPnPGateway implements GatewayHandle
func TestUPnPGatewayImplementsGatewayHandle(t *testing.T) {
	var _ GatewayHandle = (*UPnPGateway)(nil)
	t.Log("UPnPGateway implements GatewayHandle")
}

// TestNATPMPGatewayImplementsGatewayHandle verifies NATPMPGateway implements GatewayHandle
func TestNATPMPGatewayImplementsGatewayHandle(t *testing.T) {
	var _ GatewayHandle = (*NATPMPGateway)(nil)
	t.Log("NATPMPGateway implements GatewayHandle")
}

// TestMockGatewayImplementsGatewayHandle verifies MockGateway implements GatewayHandle
func TestMockGatewayImplementsGatewayHandle(t *testing.T) {
	var _ GatewayHandle = (*MockGateway)(nil)
	t.Log("MockGateway implements GatewayHandle")
}

// TestDiscoverersImplementDiscoverer verifies every discoverer implements Discoverer
func TestDiscoverersImplementDiscoverer(t *testing.T) {
	var _ Discoverer = (*UPnPDiscoverer)(nil)
	var _ Discoverer = (*NATPMPDiscoverer)(nil)
	var _ Discoverer = ChainDiscoverer(nil)
	var _ Discoverer = DiscovererFunc(nil)
	t.Log("discoverers implement Discoverer")
}

// TestReportersImplementReporter verifies both reporters implement Reporter
func TestReportersImplementReporter(t *testing.T) {
	var _ Reporter = LogReporter{}
	var _ Reporter = LineReporter{}
	t.Log("reporters implement Reporter")
}

// TestSOAPClientsImplementUPnPClient verifies the goupnp service clients fit upnpClient
func TestSOAPClientsImplementUPnPClient(t *testing.T) {
	var _ upnpClient = (*internetgateway2.WANIPConnection2)(nil)
	var _ upnpClient = (*internetgateway1.WANIPConnection1)(nil)
	var _ upnpClient = (*internetgateway1.WANPPPConnection1)(nil)
	var _ upnpAnyPortClient = (*internetgateway2.WANIPConnection2)(nil)
	t.Log("goupnp clients implement upnpClient")
}

// TestNATPMPClientImplementsNATPMPClient verifies *natpmp.Client fits natpmpClient
func TestNATPMPClientImplementsNATPMPClient(t *testing.T) {
	var _ natpmpClient = (*natpmp.Client)(nil)
	t.Log("natpmp.Client implements natpmpClient")
}
