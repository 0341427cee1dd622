package portforward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
)

var (
	testGateway = netip.MustParseAddr("10.0.0.1")
	testLocal   = netip.MustParseAddr("10.0.0.5")
)

// discardLogger keeps test output quiet.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession creates a session over a fresh mock gateway whose progress
// lines are captured in the returned buffer.
func newTestSession(t *testing.T) (*MockGateway, *Session, *bytes.Buffer) {
	t.Helper()
	gw := NewMockGateway(testGateway, testLocal)
	out := &bytes.Buffer{}
	s := NewSession(gw,
		WithLogger(discardLogger()),
		WithReporter(LineReporter{Out: out, Err: io.Discard}))
	return gw, s, out
}

// newTestSessionWithErr is like newTestSession but captures failure lines.
func newTestSessionWithErr(t *testing.T) (*MockGateway, *Session, *bytes.Buffer) {
	t.Helper()
	gw := NewMockGateway(testGateway, testLocal)
	errOut := &bytes.Buffer{}
	s := NewSession(gw,
		WithLogger(discardLogger()),
		WithReporter(LineReporter{Out: io.Discard, Err: errOut}))
	return gw, s, errOut
}

// scriptedDiscoverer answers discovery per interface and records the order
// interfaces were tried in.
type scriptedDiscoverer struct {
	mu       sync.Mutex
	gateways map[netip.Addr]GatewayHandle
	tried    []netip.Addr
}

func newScriptedDiscoverer(gateways map[netip.Addr]GatewayHandle) *scriptedDiscoverer {
	return &scriptedDiscoverer{gateways: gateways}
}

func (d *scriptedDiscoverer) Discover(ctx context.Context, local netip.Addr) (GatewayHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tried = append(d.tried, local)
	if gw, ok := d.gateways[local]; ok {
		return gw, nil
	}
	return nil, errors.New("no IGD answered on " + local.String())
}

func (d *scriptedDiscoverer) Tried() []netip.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]netip.Addr(nil), d.tried...)
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

// seqOf yields addrs in order.
func seqOf(list []netip.Addr) func(func(netip.Addr) bool) {
	return func(yield func(netip.Addr) bool) {
		for _, a := range list {
			if !yield(a) {
				return
			}
		}
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
