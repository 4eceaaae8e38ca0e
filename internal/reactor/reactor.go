// Package reactor supervises one goroutine per IMAP session, restarting
// each with a backoff after it disconnects, and fans their unseen-count
// events into a single channel for the publisher to drain.
package reactor

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"github.com/infodancer/mailmonitor/internal/metrics"
	"github.com/infodancer/mailmonitor/internal/session"
)

// Timers governs the reconnect backoff between a session's disconnect and
// its next connect attempt.
type Timers struct {
	ReconnectBackoff     time.Duration
	ReconnectLogInterval time.Duration
}

// DefaultTimers matches the protocol's original constants: a 30 second
// reconnect throttle with a log line every 10 seconds of waiting.
func DefaultTimers() Timers {
	return Timers{
		ReconnectBackoff:     30 * time.Second,
		ReconnectLogInterval: 10 * time.Second,
	}
}

// Manager owns the set of sessions and drives them concurrently.
type Manager struct {
	sessions  []*session.Session
	tlsConfig *tls.Config
	timers    Timers
	logger    *slog.Logger
	collector metrics.Collector

	events chan session.Event
}

// New builds a Manager for the given sessions.
func New(sessions []*session.Session, tlsConfig *tls.Config, timers Timers, logger *slog.Logger, collector metrics.Collector) *Manager {
	return &Manager{
		sessions:  sessions,
		tlsConfig: tlsConfig,
		timers:    timers,
		logger:    logger,
		collector: collector,
		events:    make(chan session.Event, 64),
	}
}

// Events returns the channel every session's count changes are published
// to, for a publisher to consume.
func (m *Manager) Events() <-chan session.Event {
	return m.events
}

// Run starts every session's supervisor loop and blocks until ctx is
// cancelled or all sessions have permanently stopped.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sess := range m.sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			m.supervise(ctx, s)
		}(sess)
	}
	wg.Wait()
	close(m.events)
}

// supervise runs a session to completion repeatedly, applying the reconnect
// backoff and throttle-log between attempts, until ctx is cancelled.
func (m *Manager) supervise(ctx context.Context, s *session.Session) {
	for {
		if ctx.Err() != nil {
			return
		}

		m.collector.SessionConnecting(s.Name())
		err := s.Run(ctx, m.tlsConfig, m.events)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Error("session ended with error", slog.String("account", s.Name()), slog.String("error", err.Error()))
		} else {
			m.logger.Info("session disconnected", slog.String("account", s.Name()))
		}
		m.collector.SessionDisconnected(s.Name())

		if !m.waitForBackoff(ctx, s.Name()) {
			return
		}
		m.collector.ReconnectAttempted(s.Name())
	}
}

// waitForBackoff blocks for the reconnect backoff, logging a throttle
// message every ReconnectLogInterval, and returns false if ctx is cancelled
// first.
func (m *Manager) waitForBackoff(ctx context.Context, name string) bool {
	deadline := time.Now().Add(m.timers.ReconnectBackoff)
	ticker := time.NewTicker(m.timers.ReconnectLogInterval)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			m.logger.Info("waiting to reconnect", slog.String("account", name), slog.Duration("remaining", time.Until(deadline)))
		case <-time.After(remaining):
			return true
		}
	}
}
