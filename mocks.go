package portforward

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
)

// MockGateway implements GatewayHandle in memory for testing. It records
// every call and can be told to fail or panic on specific operations.
type MockGateway struct {
	mu         sync.Mutex
	gateway    netip.Addr
	local      netip.Addr
	externalIP string
	mappings   map[Mapping]uint16
	calls      []MockCall
	failures   map[mockFault]error
	panics     map[mockFault]any
	nextPort   uint16
}

// MockCall is one recorded gateway call.
type MockCall struct {
	Op           string // "add", "add_any", "remove" or "external_ip"
	Protocol     Protocol
	ExternalPort uint16
	InternalPort uint16
	Description  string
}

type mockFault struct {
	op string
	m  Mapping
}

// NewMockGateway creates a mock gateway at gateway reachable from local.
func NewMockGateway(gateway, local netip.Addr) *MockGateway {
	return &MockGateway{
		gateway:    gateway,
		local:      local,
		externalIP: "203.0.113.100", // RFC5737 test IP
		mappings:   make(map[Mapping]uint16),
		failures:   make(map[mockFault]error),
		panics:     make(map[mockFault]any),
		nextPort:   anyPortMin,
	}
}

// SetExternalIP sets the mock external IP
func (m *MockGateway) SetExternalIP(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externalIP = ip
}

// FailAdd makes AddPort for proto/externalPort return err.
func (m *MockGateway) FailAdd(proto Protocol, externalPort uint16, err error) {
	m.setFault(mockFault{op: "add", m: Mapping{proto, externalPort}}, err)
}

// FailAddAny makes every AddAnyPort for proto return err.
func (m *MockGateway) FailAddAny(proto Protocol, err error) {
	m.setFault(mockFault{op: "add_any", m: Mapping{Protocol: proto}}, err)
}

// FailRemove makes RemovePort for proto/externalPort return err.
func (m *MockGateway) FailRemove(proto Protocol, externalPort uint16, err error) {
	m.setFault(mockFault{op: "remove", m: Mapping{proto, externalPort}}, err)
}

// PanicOnRemove makes RemovePort for proto/externalPort panic with v.
func (m *MockGateway) PanicOnRemove(proto Protocol, externalPort uint16, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[mockFault{op: "remove", m: Mapping{proto, externalPort}}] = v
}

func (m *MockGateway) setFault(f mockFault, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, f)
		return
	}
	m.failures[f] = err
}

// GatewayAddr implements GatewayHandle.
func (m *MockGateway) GatewayAddr() netip.Addr { return m.gateway }

// LocalAddr implements GatewayHandle.
func (m *MockGateway) LocalAddr() netip.Addr { return m.local }

// AddPort implements GatewayHandle.
func (m *MockGateway) AddPort(ctx context.Context, proto Protocol, externalPort, internalPort uint16, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Op: "add", Protocol: proto, ExternalPort: externalPort, InternalPort: internalPort, Description: description})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failures[mockFault{op: "add", m: Mapping{proto, externalPort}}]; err != nil {
		return err
	}

	m.mappings[Mapping{proto, externalPort}] = internalPort
	return nil
}

// AddAnyPort implements GatewayHandle. Ports are handed out sequentially from
// the dynamic range.
func (m *MockGateway) AddAnyPort(ctx context.Context, proto Protocol, internalPort uint16, description string) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Op: "add_any", Protocol: proto, InternalPort: internalPort, Description: description})
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.failures[mockFault{op: "add_any", m: Mapping{Protocol: proto}}]; err != nil {
		return 0, err
	}

	for {
		port := m.nextPort
		m.nextPort++
		if m.nextPort == 0 {
			m.nextPort = anyPortMin
		}
		if _, taken := m.mappings[Mapping{proto, port}]; !taken {
			m.mappings[Mapping{proto, port}] = internalPort
			m.calls[len(m.calls)-1].ExternalPort = port
			return port, nil
		}
	}
}

// RemovePort implements GatewayHandle. Removing a mapping that does not
// exist succeeds, like most IGDs treat a repeated delete.
func (m *MockGateway) RemovePort(ctx context.Context, proto Protocol, externalPort uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Mapping{proto, externalPort}
	m.calls = append(m.calls, MockCall{Op: "remove", Protocol: proto, ExternalPort: externalPort})
	if v, ok := m.panics[mockFault{op: "remove", m: key}]; ok {
		panic(v)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failures[mockFault{op: "remove", m: key}]; err != nil {
		return err
	}

	delete(m.mappings, key)
	return nil
}

// ExternalIP implements GatewayHandle.
func (m *MockGateway) ExternalIP(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Op: "external_ip"})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.externalIP, nil
}

// Calls returns every recorded call in order.
func (m *MockGateway) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallsTo returns the recorded calls for one operation.
func (m *MockGateway) CallsTo(op string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MockCall
	for _, c := range m.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ActiveMappings returns the mappings currently present on the mock, keyed to
// their internal port.
func (m *MockGateway) ActiveMappings() map[Mapping]uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[Mapping]uint16, len(m.mappings))
	for k, v := range m.mappings {
		result[k] = v
	}
	return result
}

// Has reports whether proto/externalPort is currently mapped.
func (m *MockGateway) Has(proto Protocol, externalPort uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mappings[Mapping{proto, externalPort}]
	return ok
}

func (c MockCall) String() string {
	return fmt.Sprintf("%s %s %d<-%d", c.Op, c.Protocol, c.ExternalPort, c.InternalPort)
}
