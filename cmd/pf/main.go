package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	portforward "github.com/go-i2p/go-port-forward"
	"github.com/go-i2p/go-port-forward/config"
)

var (
	cfg = config.Config{}
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

var rootCmd = &cobra.Command{
	Use:   "pf <interface-ip|any> <TCP|UDP>/<internal>/<external>...",
	Short: "Forward ports on the local gateway until interrupted",
	Long: `Opens port forwards on the gateway reachable from the given interface via
UPnP IGD or NAT-PMP, waits for Ctrl-C, then removes them again.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration (env vars first, then defaults)
		cfg.Load()

		// Override with CLI flags if they were explicitly set
		flags := cmd.Flags()
		if flags.Changed("description") {
			cfg.Description, _ = flags.GetString("description")
		}
		if flags.Changed("discovery-timeout") {
			cfg.DiscoveryTimeout, _ = flags.GetDuration("discovery-timeout")
		}
		if flags.Changed("call-timeout") {
			cfg.CallTimeout, _ = flags.GetDuration("call-timeout")
		}
		if flags.Changed("lease") {
			cfg.LeaseDuration, _ = flags.GetDuration("lease")
		}
		if flags.Changed("log-level") {
			cfg.LogLevel, _ = flags.GetString("log-level")
		}
		if flags.Changed("metrics-addr") {
			cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
		}
		if flags.Changed("no-upnp") {
			cfg.DisableUPnP, _ = flags.GetBool("no-upnp")
		}
		if flags.Changed("no-natpmp") {
			cfg.DisableNATPMP, _ = flags.GetBool("no-natpmp")
		}

		// Validate final configuration
		if err := cfg.Validate(); err != nil {
			return &exitError{code: portforward.ExitUsage, err: err}
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		})))
		return nil
	},
	RunE: runForward,
}

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List the interfaces `any` would search, in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ifaces, err := portforward.Interfaces()
		if err != nil {
			return &exitError{code: portforward.ExitNoGateway, err: err}
		}
		for _, iface := range ifaces {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", iface.Name, iface.Addr)
		}
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("description", portforward.DefaultDescription, "Description attached to each mapping (env: PF_DESCRIPTION)")
	rootCmd.PersistentFlags().Duration("discovery-timeout", portforward.DefaultDiscoveryTimeout, "Gateway search time per interface (env: PF_DISCOVERY_TIMEOUT)")
	rootCmd.PersistentFlags().Duration("call-timeout", portforward.DefaultCallTimeout, "Timeout for each gateway request (env: PF_CALL_TIMEOUT)")
	rootCmd.PersistentFlags().Duration("lease", portforward.DefaultLeaseDuration, "Mapping lease, 0 for permanent (env: PF_LEASE)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error (env: PF_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (env: PF_METRICS_ADDR)")
	rootCmd.PersistentFlags().Bool("no-upnp", false, "Do not search for UPnP gateways")
	rootCmd.PersistentFlags().Bool("no-natpmp", false, "Do not fall back to NAT-PMP")

	rootCmd.AddCommand(interfacesCmd)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(os.Stderr, "Error! %v\n", exitErr.err)
		}
		os.Exit(exitErr.code)
	}
	fmt.Fprintf(os.Stderr, "Error! %v\n", err)
	os.Exit(portforward.ExitUsage)
}

func runForward(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return &exitError{code: portforward.ExitUsage, err: errors.New("first argument must be a network interface IP or `any`")}
	}
	sel, err := portforward.ParseInterfaceSelection(args[0])
	if err != nil {
		return &exitError{code: portforward.ExitUsage, err: err}
	}
	requests, err := portforward.ParseMappingRequests(args[1:])
	if err != nil {
		return &exitError{code: portforward.ExitUsage, err: err}
	}

	logger := slog.Default()

	var metrics *portforward.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics, err = portforward.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		stop := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stop()
	}

	var upnp *portforward.UPnPDiscoverer
	if !cfg.DisableUPnP {
		upnp = &portforward.UPnPDiscoverer{
			SearchTimeout: cfg.DiscoveryTimeout,
			CallTimeout:   cfg.CallTimeout,
			Lease:         cfg.LeaseDuration,
			Logger:        logger,
		}
	}
	var natpmp *portforward.NATPMPDiscoverer
	if !cfg.DisableNATPMP {
		natpmp = &portforward.NATPMPDiscoverer{
			CallTimeout: cfg.CallTimeout,
			Lease:       cfg.LeaseDuration,
			Logger:      logger,
		}
	}

	interrupt := &portforward.Interrupt{}
	stopSignals := interrupt.NotifyOnSignal(os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	runner := &portforward.Runner{
		Locator: portforward.NewLocator(
			portforward.NewDefaultDiscoverer(upnp, natpmp),
			portforward.WithLocatorLogger(logger),
			portforward.WithLocatorMetrics(metrics)),
		Interrupt:    interrupt,
		PollInterval: cfg.PollInterval,
		Description:  cfg.Description,
		Out:          cmd.OutOrStdout(),
		Err:          cmd.ErrOrStderr(),
		Logger:       logger,
		Metrics:      metrics,
	}

	if code := runner.Run(cmd.Context(), sel, requests); code != portforward.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// serveMetrics exposes reg over HTTP until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
