package portforward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 1
	ExitNoGateway = 2
)

// Runner drives one forwarding run: locate a gateway, open the requested
// mappings, wait for an interrupt, and remove the mappings again.
type Runner struct {
	Locator *Locator
	// Interfaces enumerates candidates for "any"; defaults to Interfaces.
	Interfaces   func() ([]Interface, error)
	Interrupt    *Interrupt
	Clock        clock.Clock
	PollInterval time.Duration
	Description  string

	Out    io.Writer
	Err    io.Writer
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *Metrics
}

// Run performs the whole flow and returns a process exit code. Mappings
// opened during the run are removed before Run returns, on every path.
func (r *Runner) Run(ctx context.Context, sel InterfaceSelection, requests []MappingRequest) int {
	r.setDefaults()

	handle, err := r.locate(ctx, sel)
	if err != nil {
		r.reportNoGateway(err)
		return ExitNoGateway
	}

	session := NewSession(handle,
		WithLogger(r.Logger),
		WithReporter(LineReporter{Out: r.Out, Err: r.Err}),
		WithMetrics(r.Metrics))
	defer func() {
		fmt.Fprintln(r.Out, "Closing open ports...")
		if err := session.Close(); err != nil {
			r.Logger.Debug("session closed with errors", "error", err)
		}
	}()

	gw, local := handle.GatewayAddr(), handle.LocalAddr()
	for _, req := range requests {
		err := session.OpenExplicit(ctx, req.InternalPort, req.ExternalPort, req.Protocol, r.Description)
		if err != nil {
			var addErr *AddMappingError
			if errors.As(err, &addErr) {
				err = addErr.Err
			}
			fmt.Fprintf(r.Err, "Could not map %s %s:%d -> %s:%d - %v\n",
				req.Protocol, gw, req.ExternalPort, local, req.InternalPort, err)
			continue
		}
		fmt.Fprintf(r.Out, "%s %s:%d -> %s:%d\n",
			req.Protocol, gw, req.ExternalPort, local, req.InternalPort)
	}

	fmt.Fprintln(r.Out, "Going to sleep... Press Ctrl-C to close program.")
	if err := r.Interrupt.Wait(ctx, r.Clock, r.PollInterval); err != nil {
		r.Logger.Debug("wait ended by context", "error", err)
	}
	fmt.Fprintln(r.Out, "Shutting down...")
	return ExitOK
}

func (r *Runner) locate(ctx context.Context, sel InterfaceSelection) (GatewayHandle, error) {
	if !sel.Any {
		return r.Locator.LocateViaInterface(ctx, sel.Addr)
	}

	ifaces, err := r.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		r.Logger.Debug("candidate interface", "name", iface.Name, "addr", iface.Addr)
	}
	return r.Locator.LocateViaAnyInterface(ctx, InterfaceAddrs(ifaces))
}

// reportNoGateway prints one line per interface that was tried.
func (r *Runner) reportNoGateway(err error) {
	var noGW *NoGatewayError
	var discErr *DiscoveryError
	switch {
	case errors.As(err, &noGW):
		if len(noGW.Failures) == 0 {
			fmt.Fprintf(r.Err, "Error! Failed to find a gateway: %v\n", ErrNoInterfaces)
			return
		}
		for _, f := range noGW.Failures {
			r.printDiscoveryFailure(f)
		}
	case errors.As(err, &discErr):
		r.printDiscoveryFailure(discErr)
	default:
		fmt.Fprintf(r.Err, "Error! Failed to find a gateway: %v\n", err)
	}
}

func (r *Runner) printDiscoveryFailure(err error) {
	var discErr *DiscoveryError
	if errors.As(err, &discErr) {
		fmt.Fprintf(r.Err, "Error! No gateway found via %s - %v\n", discErr.Interface, discErr.Err)
		return
	}
	fmt.Fprintf(r.Err, "Error! No gateway found - %v\n", err)
}

func (r *Runner) setDefaults() {
	if r.Interfaces == nil {
		r.Interfaces = Interfaces
	}
	if r.Interrupt == nil {
		r.Interrupt = &Interrupt{}
	}
	if r.Clock == nil {
		r.Clock = clock.New()
	}
	if r.PollInterval <= 0 {
		r.PollInterval = DefaultPollInterval
	}
	if r.Description == "" {
		r.Description = DefaultDescription
	}
	if r.Out == nil {
		r.Out = os.Stdout
	}
	if r.Err == nil {
		r.Err = os.Stderr
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
}
