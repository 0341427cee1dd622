package portforward

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateViaInterface(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		gw := NewMockGateway(testGateway, testLocal)
		d := newScriptedDiscoverer(map[netip.Addr]GatewayHandle{testLocal: gw})
		l := NewLocator(d, WithLocatorLogger(discardLogger()))

		handle, err := l.LocateViaInterface(ctx, testLocal)
		require.NoError(t, err)
		assert.Same(t, gw, handle)
	})

	t.Run("not found", func(t *testing.T) {
		d := newScriptedDiscoverer(nil)
		l := NewLocator(d, WithLocatorLogger(discardLogger()))

		_, err := l.LocateViaInterface(ctx, testLocal)

		var discErr *DiscoveryError
		require.ErrorAs(t, err, &discErr)
		assert.Equal(t, testLocal, discErr.Interface)
		assert.Equal(t, []netip.Addr{testLocal}, d.Tried(), "no retry")
	})

	t.Run("cancelled context skips discovery", func(t *testing.T) {
		d := newScriptedDiscoverer(nil)
		l := NewLocator(d, WithLocatorLogger(discardLogger()))
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := l.LocateViaInterface(cctx, testLocal)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, d.Tried())
	})
}

func TestLocateViaAnyInterface(t *testing.T) {
	ctx := context.Background()

	t.Run("first success short circuits", func(t *testing.T) {
		cands := addrs("192.168.1.10", "172.16.0.2", "10.8.0.3")
		gwB := NewMockGateway(netip.MustParseAddr("172.16.0.1"), cands[1])
		d := newScriptedDiscoverer(map[netip.Addr]GatewayHandle{cands[1]: gwB})
		l := NewLocator(d, WithLocatorLogger(discardLogger()))

		handle, err := l.LocateViaAnyInterface(ctx, seqOf(cands))
		require.NoError(t, err)

		assert.Same(t, gwB, handle)
		assert.Equal(t, cands[:2], d.Tried())
	})

	t.Run("failures are reported per candidate in order", func(t *testing.T) {
		cands := addrs("192.168.1.10", "172.16.0.2")
		d := newScriptedDiscoverer(nil)
		l := NewLocator(d, WithLocatorLogger(discardLogger()))

		_, err := l.LocateViaAnyInterface(ctx, seqOf(cands))

		var noGW *NoGatewayError
		require.ErrorAs(t, err, &noGW)
		require.Len(t, noGW.Failures, 2)
		for i, f := range noGW.Failures {
			var discErr *DiscoveryError
			require.ErrorAs(t, f, &discErr)
			assert.Equal(t, cands[i], discErr.Interface)
		}
	})

	t.Run("empty sequence", func(t *testing.T) {
		d := newScriptedDiscoverer(nil)
		l := NewLocator(d, WithLocatorLogger(discardLogger()))

		_, err := l.LocateViaAnyInterface(ctx, InterfaceAddrs(nil))

		var noGW *NoGatewayError
		require.ErrorAs(t, err, &noGW)
		assert.Empty(t, noGW.Failures)
		assert.ErrorIs(t, err, ErrNoInterfaces)
		assert.Empty(t, d.Tried())
	})

	t.Run("discovery failures are counted", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m, err := NewMetrics(reg)
		require.NoError(t, err)
		l := NewLocator(newScriptedDiscoverer(nil), WithLocatorLogger(discardLogger()), WithLocatorMetrics(m))

		_, err = l.LocateViaAnyInterface(ctx, seqOf(addrs("192.168.1.10", "172.16.0.2", "10.8.0.3")))
		require.Error(t, err)
		assert.Equal(t, 3.0, testutil.ToFloat64(m.discoveryFailures))
	})
}

func TestChainDiscoverer(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway(testGateway, testLocal)
	failing := DiscovererFunc(func(context.Context, netip.Addr) (GatewayHandle, error) {
		return nil, ErrNoUPnPGateway
	})
	found := DiscovererFunc(func(context.Context, netip.Addr) (GatewayHandle, error) {
		return gw, nil
	})

	t.Run("falls back to next protocol", func(t *testing.T) {
		handle, err := ChainDiscoverer{failing, found}.Discover(ctx, testLocal)
		require.NoError(t, err)
		assert.Same(t, gw, handle)
	})

	t.Run("all fail", func(t *testing.T) {
		natpmpFailing := DiscovererFunc(func(context.Context, netip.Addr) (GatewayHandle, error) {
			return nil, ErrNoNATPMPGateway
		})
		_, err := ChainDiscoverer{failing, natpmpFailing}.Discover(ctx, testLocal)
		assert.ErrorIs(t, err, ErrNoUPnPGateway)
		assert.ErrorIs(t, err, ErrNoNATPMPGateway)
	})

	t.Run("empty chain", func(t *testing.T) {
		_, err := NewDefaultDiscoverer(nil, nil).Discover(ctx, testLocal)
		assert.Error(t, err)
	})

	t.Run("default order", func(t *testing.T) {
		u, n := &UPnPDiscoverer{}, &NATPMPDiscoverer{}
		chain := NewDefaultDiscoverer(u, n)
		require.Len(t, chain, 2)
		assert.Same(t, u, chain[0])
		assert.Same(t, n, chain[1])
	})
}

func TestNoGatewayErrorMessage(t *testing.T) {
	err := &NoGatewayError{Failures: []error{
		&DiscoveryError{Interface: testLocal, Err: errors.New("timeout")},
	}}
	assert.Contains(t, err.Error(), "no gateway found on 1 interface(s)")
	assert.Contains(t, err.Error(), "10.0.0.5")
}
