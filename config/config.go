package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Gateway settings
	Description      string        `env:"PF_DESCRIPTION" default:"PortForwardGo" json:"description"`
	DiscoveryTimeout time.Duration `env:"PF_DISCOVERY_TIMEOUT" default:"3s" json:"discoveryTimeout"`
	CallTimeout      time.Duration `env:"PF_CALL_TIMEOUT" default:"5s" json:"callTimeout"`
	LeaseDuration    time.Duration `env:"PF_LEASE" default:"0s" json:"lease"`
	DisableUPnP      bool          `json:"disableUpnp"`
	DisableNATPMP    bool          `json:"disableNatpmp"`

	// Application settings
	PollInterval time.Duration `default:"100ms" json:"pollInterval"`
	LogLevel     string        `env:"PF_LOG_LEVEL" default:"info" json:"logLevel"`
	MetricsAddr  string        `env:"PF_METRICS_ADDR" json:"metricsAddr"`

	envErrors []string
}

// Validate performs basic validation of the configuration
func (c *Config) Validate() error {
	errors := append([]string(nil), c.envErrors...)

	if c.Description == "" {
		errors = append(errors, "description cannot be empty")
	}
	if c.DiscoveryTimeout <= 0 {
		errors = append(errors, "discovery timeout must be positive")
	}
	if c.CallTimeout <= 0 {
		errors = append(errors, "call timeout must be positive")
	}
	if c.LeaseDuration < 0 {
		errors = append(errors, "lease cannot be negative")
	} else if c.LeaseDuration%time.Second != 0 {
		errors = append(errors, "lease must be a whole number of seconds")
	}
	if c.PollInterval <= 0 {
		errors = append(errors, "poll interval must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if c.DisableUPnP && c.DisableNATPMP {
		errors = append(errors, "UPnP and NAT-PMP cannot both be disabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// InitFromEnv initializes config from environment variables
func InitFromEnv(cfg *Config) {
	if cfg.Description == "" {
		cfg.Description = os.Getenv("PF_DESCRIPTION")
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = cfg.durationFromEnv("PF_DISCOVERY_TIMEOUT")
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = cfg.durationFromEnv("PF_CALL_TIMEOUT")
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = cfg.durationFromEnv("PF_LEASE")
	}
	if cfg.LogLevel == "" {
		if level := os.Getenv("PF_LOG_LEVEL"); level != "" {
			cfg.LogLevel = level
		}
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = os.Getenv("PF_METRICS_ADDR")
	}
}

func (c *Config) durationFromEnv(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.envErrors = append(c.envErrors, fmt.Sprintf("invalid %s: %v", key, err))
		return 0
	}
	return d
}

// SetDefaults sets the default values for configuration
func (c *Config) SetDefaults() {
	if c.Description == "" {
		c.Description = "PortForwardGo"
	}
	if c.DiscoveryTimeout == 0 {
		c.DiscoveryTimeout = 3 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load loads configuration from environment variables and applies defaults
func (c *Config) Load() {
	// Load from environment variables first (for CLI flag defaults)
	InitFromEnv(c)

	// Apply defaults if still empty
	c.SetDefaults()
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", s)
	}
	return level, nil
}
