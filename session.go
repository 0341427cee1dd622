package portforward

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"go.uber.org/multierr"
)

// sessionState is the lifecycle of a Session.
type sessionState int

const (
	stateActive sessionState = iota
	stateClosing
	stateClosed
)

// Session owns a gateway handle and the mappings this process opened on it.
// Close removes every mapping still tracked; callers should defer it right
// after NewSession so it runs on every exit path.
//
// A Session is meant to be driven by one goroutine. The mutex only keeps
// Close from racing a late call.
type Session struct {
	gateway  GatewayHandle
	reporter Reporter
	logger   *slog.Logger
	metrics  *Metrics

	mu    sync.Mutex
	state sessionState
	open  []Mapping
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithReporter sets the receiver of operator-visible events.
func WithReporter(r Reporter) SessionOption {
	return func(s *Session) {
		s.reporter = r
	}
}

// WithMetrics records mapping activity.
func WithMetrics(m *Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// NewSession takes exclusive ownership of gateway.
func NewSession(gateway GatewayHandle, opts ...SessionOption) *Session {
	s := &Session{
		gateway: gateway,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = LogReporter{Logger: s.logger}
	}
	return s
}

// Gateway returns the gateway handle the session owns.
func (s *Session) Gateway() GatewayHandle {
	return s.gateway
}

// LocalAddr returns the local interface address mappings forward to.
func (s *Session) LocalAddr() netip.Addr {
	return s.gateway.LocalAddr()
}

// ExternalIP returns the gateway's public address.
func (s *Session) ExternalIP(ctx context.Context) (string, error) {
	if err := s.checkActive(); err != nil {
		return "", err
	}
	return s.gateway.ExternalIP(ctx)
}

// Mappings returns the currently tracked mappings in the order they were opened.
func (s *Session) Mappings() []Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.open)
}

// OpenExplicit forwards externalPort/proto on the gateway to
// LocalAddr():localPort. On failure the record is unchanged and the error is
// an *AddMappingError.
func (s *Session) OpenExplicit(ctx context.Context, localPort, externalPort uint16, proto Protocol, description string) error {
	if err := s.checkActive(); err != nil {
		return err
	}

	m := Mapping{Protocol: proto, ExternalPort: externalPort}
	if err := s.gateway.AddPort(ctx, proto, externalPort, localPort, description); err != nil {
		s.metrics.mappingFailed(proto, "add")
		return &AddMappingError{Mapping: m, InternalPort: localPort, Err: err}
	}

	s.track(m)
	s.logger.Debug("port mapping opened",
		"protocol", proto,
		"external_port", externalPort,
		"internal_port", localPort)
	return nil
}

// OpenAnyAvailable asks the gateway to pick an external port for
// LocalAddr():localPort and records the result. On failure the error is an
// *AddAnyMappingError.
func (s *Session) OpenAnyAvailable(ctx context.Context, localPort uint16, proto Protocol, description string) (uint16, error) {
	if err := s.checkActive(); err != nil {
		return 0, err
	}

	externalPort, err := s.gateway.AddAnyPort(ctx, proto, localPort, description)
	if err != nil {
		s.metrics.mappingFailed(proto, "add_any")
		return 0, &AddAnyMappingError{Protocol: proto, InternalPort: localPort, Err: err}
	}

	s.track(Mapping{Protocol: proto, ExternalPort: externalPort})
	s.logger.Debug("port mapping opened on gateway-chosen port",
		"protocol", proto,
		"external_port", externalPort,
		"internal_port", localPort)
	return externalPort, nil
}

// RemoveExplicit removes externalPort/proto. The mapping is dropped from the
// record before the gateway is asked, and the gateway is asked even when the
// mapping is not in the record. A gateway failure is an *RemoveMappingError.
func (s *Session) RemoveExplicit(ctx context.Context, externalPort uint16, proto Protocol) error {
	m := Mapping{Protocol: proto, ExternalPort: externalPort}

	s.mu.Lock()
	if s.state != stateActive {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	i := slices.Index(s.open, m)
	if i >= 0 {
		s.open = slices.Delete(s.open, i, i+1)
	}
	n := len(s.open)
	s.mu.Unlock()

	s.metrics.setOpen(n)
	if i < 0 {
		s.reporter.UnknownMapping(m)
	}

	if err := s.gateway.RemovePort(ctx, proto, externalPort); err != nil {
		s.metrics.mappingFailed(proto, "remove")
		return &RemoveMappingError{Mapping: m, Err: err}
	}
	s.metrics.mappingRemoved(proto)
	return nil
}

// Close removes every tracked mapping from the gateway, best effort, then
// clears the record. Individual failures go to the Reporter and do not stop
// the remaining removals. Only the first call does any work; the returned
// error combines the removal failures and is informational.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != stateActive {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosing
	pending := slices.Clone(s.open)
	s.mu.Unlock()

	s.logger.Debug("closing port mappings", "count", len(pending))

	var errs error
	for _, m := range pending {
		errs = multierr.Append(errs, s.closeOne(m))
	}

	s.mu.Lock()
	s.open = nil
	s.state = stateClosed
	s.mu.Unlock()
	s.metrics.setOpen(0)

	return errs
}

// closeOne removes a single mapping during Close. A panicking gateway call is
// reported like any other failure so the remaining mappings are still removed.
func (s *Session) closeOne(m Mapping) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("panic: %v", r)
			err = &RemoveMappingError{Mapping: m, Err: perr}
			s.metrics.mappingFailed(m.Protocol, "remove")
			s.reporter.MappingCloseFailed(m, perr)
		}
	}()

	s.reporter.MappingClosing(m)
	if rerr := s.gateway.RemovePort(context.Background(), m.Protocol, m.ExternalPort); rerr != nil {
		s.metrics.mappingFailed(m.Protocol, "remove")
		s.reporter.MappingCloseFailed(m, rerr)
		return &RemoveMappingError{Mapping: m, Err: rerr}
	}
	s.metrics.mappingRemoved(m.Protocol)
	return nil
}

func (s *Session) checkActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return ErrSessionClosed
	}
	return nil
}

// track appends m unless it is already recorded.
func (s *Session) track(m Mapping) {
	s.mu.Lock()
	if !slices.Contains(s.open, m) {
		s.open = append(s.open, m)
	}
	n := len(s.open)
	s.mu.Unlock()

	s.metrics.mappingOpened(m.Protocol)
	s.metrics.setOpen(n)
}
