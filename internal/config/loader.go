package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath   string
	CABundle     string
	LogLevel     string
	MetricsAddr  string
	MetricsOn    bool
}

// ParseFlags parses command-line flags and returns a Flags struct. The
// status file path argument is handled separately by the caller via
// flag.Args(), since it is positional, not a flag.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "", "Path to configuration file (optional)")
	flag.StringVar(&f.CABundle, "ca-bundle", "", "Path to the CA bundle used to verify IMAP server certificates")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.MetricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on")
	flag.BoolVar(&f.MetricsOn, "metrics", false, "Enable Prometheus metrics")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config. If path is
// empty or the file does not exist, it returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig Config
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	return mergeConfig(cfg, fileConfig), nil
}

// ApplyFlags merges command-line flag values into cfg. Non-empty flag
// values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.CABundle != "" {
		cfg.CABundle = f.CABundle
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.MetricsOn {
		cfg.Metrics.Enabled = true
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Address = f.MetricsAddr
	}
	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags, then
// applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}

func mergeConfig(dst, src Config) Config {
	if src.CABundle != "" {
		dst.CABundle = src.CABundle
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Timers.PollInterval != "" {
		dst.Timers.PollInterval = src.Timers.PollInterval
	}
	if src.Timers.IdleRefresh != "" {
		dst.Timers.IdleRefresh = src.Timers.IdleRefresh
	}
	if src.Timers.InactivityTimeout != "" {
		dst.Timers.InactivityTimeout = src.Timers.InactivityTimeout
	}
	if src.Timers.ReconnectBackoff != "" {
		dst.Timers.ReconnectBackoff = src.Timers.ReconnectBackoff
	}
	if src.Timers.ReconnectLogInterval != "" {
		dst.Timers.ReconnectLogInterval = src.Timers.ReconnectLogInterval
	}
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}
	return dst
}
