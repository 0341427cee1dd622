package portforward

import (
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/multierr"
)

var (
	// ErrSessionClosed is returned by session operations after Close.
	ErrSessionClosed = errors.New("portforward: session closed")

	// ErrNoUPnPGateway means no UPnP IGD answered on the interface.
	ErrNoUPnPGateway = errors.New("no UPnP IGD device found")

	// ErrNoNATPMPGateway means no NAT-PMP gateway answered on the interface.
	ErrNoNATPMPGateway = errors.New("no NAT-PMP gateway found")

	// ErrNoInterfaces means there was no usable local interface to search from.
	ErrNoInterfaces = errors.New("no usable network interface")

	// ErrPortMismatch means the gateway assigned a different external port
	// than the one explicitly requested.
	ErrPortMismatch = errors.New("gateway assigned a different external port")
)

// DiscoveryError reports that no gateway was found through one interface.
type DiscoveryError struct {
	Interface netip.Addr
	Err       error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("gateway discovery on %s failed: %v", e.Interface, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// NoGatewayError reports that discovery failed on every candidate interface.
// Failures holds one entry per candidate, in the order they were tried; it is
// empty when there were no candidates at all.
type NoGatewayError struct {
	Failures []error
}

func (e *NoGatewayError) Error() string {
	if len(e.Failures) == 0 {
		return "no gateway found: " + ErrNoInterfaces.Error()
	}
	return fmt.Sprintf("no gateway found on %d interface(s): %v", len(e.Failures), multierr.Combine(e.Failures...))
}

// Unwrap exposes the per-interface failures to errors.Is and errors.As.
func (e *NoGatewayError) Unwrap() []error {
	if len(e.Failures) == 0 {
		return []error{ErrNoInterfaces}
	}
	return e.Failures
}

// AddMappingError reports a failed explicit-port mapping request.
type AddMappingError struct {
	Mapping      Mapping
	InternalPort uint16
	Err          error
}

func (e *AddMappingError) Error() string {
	return fmt.Sprintf("add mapping %s -> local port %d failed: %v", e.Mapping, e.InternalPort, e.Err)
}

func (e *AddMappingError) Unwrap() error {
	return e.Err
}

// AddAnyMappingError reports a failed any-port mapping request.
type AddAnyMappingError struct {
	Protocol     Protocol
	InternalPort uint16
	Err          error
}

func (e *AddAnyMappingError) Error() string {
	return fmt.Sprintf("add %s mapping on any port -> local port %d failed: %v", e.Protocol, e.InternalPort, e.Err)
}

func (e *AddAnyMappingError) Unwrap() error {
	return e.Err
}

// RemoveMappingError reports a failed removal.
type RemoveMappingError struct {
	Mapping Mapping
	Err     error
}

func (e *RemoveMappingError) Error() string {
	return fmt.Sprintf("remove mapping %s failed: %v", e.Mapping, e.Err)
}

func (e *RemoveMappingError) Unwrap() error {
	return e.Err
}
