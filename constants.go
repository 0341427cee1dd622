package portforward

import "time"

// Defaults for discovery and gateway calls.
const (
	DefaultDiscoveryTimeout = 3 * time.Second
	DefaultCallTimeout      = 5 * time.Second
	DefaultDescription      = "PortForwardGo"

	// DefaultLeaseDuration of zero asks for a permanent mapping; mappings are
	// removed on exit instead of expiring.
	DefaultLeaseDuration = time.Duration(0)

	// DefaultPollInterval is how often the wait loop checks for interruption.
	DefaultPollInterval = 100 * time.Millisecond
)

// Random external ports for gateways without AddAnyPortMapping.
const (
	anyPortMin      = 32768
	anyPortMax      = 65535
	anyPortAttempts = 20
)
