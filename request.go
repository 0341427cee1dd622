package portforward

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// InterfaceSelection chooses where to look for a gateway: one explicit local
// address, or every candidate interface in turn.
type InterfaceSelection struct {
	Any  bool
	Addr netip.Addr
}

func (s InterfaceSelection) String() string {
	if s.Any {
		return "any"
	}
	return s.Addr.String()
}

// ParseInterfaceSelection accepts "any" or an IPv4 address.
func ParseInterfaceSelection(s string) (InterfaceSelection, error) {
	if s == "any" {
		return InterfaceSelection{Any: true}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return InterfaceSelection{}, errors.New("first argument must be a network interface IP or `any`")
	}
	return InterfaceSelection{Addr: addr}, nil
}

// MappingRequest is one PROTO/INTERNAL/EXTERNAL forward asked for on the
// command line.
type MappingRequest struct {
	Protocol     Protocol
	InternalPort uint16
	ExternalPort uint16
}

func (r MappingRequest) String() string {
	return fmt.Sprintf("%s/%d/%d", r.Protocol, r.InternalPort, r.ExternalPort)
}

// ParseMappingRequest parses "{TCP,UDP}/INTERNAL/EXTERNAL". The protocol is
// case-insensitive and both ports must be in 1-65535.
func ParseMappingRequest(s string) (MappingRequest, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return MappingRequest{}, fmt.Errorf("port not in {TCP,UDP}/INTERNAL/EXTERNAL format: %s", s)
	}

	proto, err := ParseProtocol(parts[0])
	if err != nil {
		return MappingRequest{}, fmt.Errorf("unrecognized protocol: %s (in %s)", parts[0], s)
	}
	internal, err := parsePort(parts[1])
	if err != nil {
		return MappingRequest{}, fmt.Errorf("invalid internal port number: %s (in %s) - %w", parts[1], s, err)
	}
	external, err := parsePort(parts[2])
	if err != nil {
		return MappingRequest{}, fmt.Errorf("invalid external port number: %s (in %s) - %w", parts[2], s, err)
	}

	return MappingRequest{Protocol: proto, InternalPort: internal, ExternalPort: external}, nil
}

// ParseMappingRequests parses every argument, stopping at the first error.
func ParseMappingRequests(args []string) ([]MappingRequest, error) {
	if len(args) == 0 {
		return nil, errors.New("no ports specified")
	}
	out := make([]MappingRequest, 0, len(args))
	for _, arg := range args {
		req, err := ParseMappingRequest(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("port must be 1-65535")
	}
	return uint16(n), nil
}
