package portforward

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/netip"
)

// Locator resolves exactly one GatewayHandle, either through an explicit
// local interface or by trying candidate interfaces in order.
type Locator struct {
	discoverer Discoverer
	logger     *slog.Logger
	metrics    *Metrics
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithLocatorLogger sets the logger used for per-candidate diagnostics.
func WithLocatorLogger(logger *slog.Logger) LocatorOption {
	return func(l *Locator) {
		l.logger = logger
	}
}

// WithLocatorMetrics records discovery failures.
func WithLocatorMetrics(m *Metrics) LocatorOption {
	return func(l *Locator) {
		l.metrics = m
	}
}

// NewLocator creates a Locator that discovers gateways with d.
func NewLocator(d Discoverer, opts ...LocatorOption) *Locator {
	l := &Locator{
		discoverer: d,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LocateViaInterface attempts discovery scoped to the given local address.
// It does not retry.
func (l *Locator) LocateViaInterface(ctx context.Context, local netip.Addr) (GatewayHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DiscoveryError{Interface: local, Err: fmt.Errorf("context cancelled: %w", err)}
	}

	l.logger.Debug("searching for gateway", "interface", local)
	handle, err := l.discoverer.Discover(ctx, local)
	if err != nil {
		l.metrics.discoveryFailed()
		return nil, &DiscoveryError{Interface: local, Err: err}
	}

	l.logger.Info("gateway found",
		"interface", local,
		"gateway", handle.GatewayAddr())
	return handle, nil
}

// LocateViaAnyInterface tries each candidate in sequence order and returns
// the first handle found without touching the remaining candidates. When
// every candidate fails the returned error is a *NoGatewayError carrying one
// failure per candidate, in order; an empty sequence yields an empty list.
func (l *Locator) LocateViaAnyInterface(ctx context.Context, candidates iter.Seq[netip.Addr]) (GatewayHandle, error) {
	var failures []error
	for local := range candidates {
		handle, err := l.LocateViaInterface(ctx, local)
		if err == nil {
			return handle, nil
		}
		l.logger.Debug("gateway discovery failed", "interface", local, "error", err)
		failures = append(failures, err)
	}
	return nil, &NoGatewayError{Failures: failures}
}
