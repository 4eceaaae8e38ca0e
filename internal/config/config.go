// Package config provides ambient configuration for mailmonitor: settings
// the account/status-file protocol itself never carries, such as the CA
// bundle path, protocol timers, log level, and optional metrics exposure.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds mailmonitor's ambient settings.
type Config struct {
	CABundle string        `toml:"ca_bundle"`
	LogLevel string        `toml:"log_level"`
	Timers   TimersConfig  `toml:"timers"`
	Metrics  MetricsConfig `toml:"metrics"`
}

// TimersConfig controls the protocol's timing constants. Durations are
// stored as strings so they round-trip through TOML the way the rest of the
// corpus's duration fields do, and are parsed on demand via the accessor
// methods below.
type TimersConfig struct {
	PollInterval         string `toml:"poll_interval"`
	IdleRefresh          string `toml:"idle_refresh"`
	InactivityTimeout    string `toml:"inactivity_timeout"`
	ReconnectBackoff     string `toml:"reconnect_backoff"`
	ReconnectLogInterval string `toml:"reconnect_log_interval"`
}

// MetricsConfig holds configuration for the optional Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with the protocol's original timing constants
// and metrics disabled.
func Default() Config {
	return Config{
		CABundle: "/opt/libressl/etc/ssl/cert.pem",
		LogLevel: "info",
		Timers: TimersConfig{
			PollInterval:         "5s",
			IdleRefresh:          "25m",
			InactivityTimeout:    "200s",
			ReconnectBackoff:     "30s",
			ReconnectLogInterval: "10s",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
	}
}

// Validate checks that every configured duration parses and that the
// metrics block is internally consistent.
func (c *Config) Validate() error {
	if c.CABundle == "" {
		return errors.New("ca_bundle is required")
	}

	durations := map[string]string{
		"poll_interval":          c.Timers.PollInterval,
		"idle_refresh":           c.Timers.IdleRefresh,
		"inactivity_timeout":     c.Timers.InactivityTimeout,
		"reconnect_backoff":      c.Timers.ReconnectBackoff,
		"reconnect_log_interval": c.Timers.ReconnectLogInterval,
	}
	for name, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// PollIntervalDuration returns the configured poll/read-deadline bound, defaulting
// to 5 seconds if unset or invalid.
func (t *TimersConfig) PollIntervalDuration() time.Duration {
	return parseOr(t.PollInterval, 5*time.Second)
}

// IdleRefreshDuration returns the configured idle-duration refresh bound,
// defaulting to 25 minutes if unset or invalid.
func (t *TimersConfig) IdleRefreshDuration() time.Duration {
	return parseOr(t.IdleRefresh, 25*time.Minute)
}

// InactivityTimeoutDuration returns the configured inactivity escalation
// bound, defaulting to 200 seconds if unset or invalid.
func (t *TimersConfig) InactivityTimeoutDuration() time.Duration {
	return parseOr(t.InactivityTimeout, 200*time.Second)
}

// ReconnectBackoffDuration returns the configured reconnect throttle,
// defaulting to 30 seconds if unset or invalid.
func (t *TimersConfig) ReconnectBackoffDuration() time.Duration {
	return parseOr(t.ReconnectBackoff, 30*time.Second)
}

// ReconnectLogIntervalDuration returns the configured reconnect throttle-log
// interval, defaulting to 10 seconds if unset or invalid.
func (t *TimersConfig) ReconnectLogIntervalDuration() time.Duration {
	return parseOr(t.ReconnectLogInterval, 10*time.Second)
}

func parseOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
