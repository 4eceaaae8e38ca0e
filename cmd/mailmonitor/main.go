// Command mailmonitor watches unseen-message counts across a set of IMAP
// accounts read from standard input and publishes an aggregate status line
// to the file named on the command line whenever any count changes.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/infodancer/mailmonitor/internal/account"
	"github.com/infodancer/mailmonitor/internal/config"
	"github.com/infodancer/mailmonitor/internal/logging"
	"github.com/infodancer/mailmonitor/internal/metrics"
	"github.com/infodancer/mailmonitor/internal/publisher"
	"github.com/infodancer/mailmonitor/internal/reactor"
	"github.com/infodancer/mailmonitor/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	flags := config.ParseFlags()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Status file not specified.")
		os.Exit(1)
	}
	statusPath := flag.Arg(0)

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	tlsConfig, err := buildTLSConfig(cfg.CABundle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading CA bundle: %v\n", err)
		os.Exit(2)
	}

	accounts, err := account.Load(os.Stdin, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading accounts: %v\n", err)
		os.Exit(1)
	}
	logger.Info("loaded accounts", slog.Int("count", len(accounts)))

	var collector metrics.Collector = metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	timers := session.Timers{
		PollInterval:      cfg.Timers.PollIntervalDuration(),
		IdleRefresh:       cfg.Timers.IdleRefreshDuration(),
		InactivityTimeout: cfg.Timers.InactivityTimeoutDuration(),
	}

	sessions := make([]*session.Session, 0, len(accounts))
	names := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		sessions = append(sessions, session.New(acct, timers, logger, collector))
		names = append(names, acct.Name)
	}

	mgr := reactor.New(sessions, tlsConfig, reactor.Timers{
		ReconnectBackoff:     cfg.Timers.ReconnectBackoffDuration(),
		ReconnectLogInterval: cfg.Timers.ReconnectLogIntervalDuration(),
	}, logger, collector)

	pub := publisher.New(statusPath, names, logger, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", slog.String("error", err.Error()))
			}
		}()
		logger.Info("metrics server started", slog.String("address", cfg.Metrics.Address), slog.String("path", cfg.Metrics.Path))
	}

	go pub.Run(ctx, mgr.Events(), cancel)

	logger.Info("starting mailmonitor", slog.Int("accounts", len(accounts)), slog.String("status_file", statusPath))
	mgr.Run(ctx)
	logger.Info("mailmonitor stopped")
}

// buildTLSConfig loads the CA bundle at path and returns a *tls.Config that
// verifies IMAP server certificates against it.
func buildTLSConfig(path string) (*tls.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in CA bundle %s", path)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
