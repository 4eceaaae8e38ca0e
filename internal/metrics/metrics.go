// Package metrics provides interfaces and implementations for observing
// mailmonitor's session lifecycle and publish activity. It mirrors the
// Collector/Server split used throughout the corpus this module was built
// from: a narrow interface for recording events, and a separate interface
// for exposing them over HTTP.
package metrics

import "context"

// Collector records session lifecycle and publish events. Every method must
// be safe for concurrent use, since every session goroutine and the
// publisher goroutine call into the same Collector.
type Collector interface {
	// SessionConnecting is called before each connect attempt, including
	// the first.
	SessionConnecting(account string)
	// SessionDisconnected is called whenever a session's Run returns,
	// whether cleanly or with an error, unless the return was caused by
	// context cancellation.
	SessionDisconnected(account string)
	// ReconnectAttempted is called once the reconnect backoff has elapsed
	// and a new attempt is about to start.
	ReconnectAttempted(account string)
	// IdleRestarted is called whenever a session proactively ends an IDLE
	// (EXISTS notification, idle-duration refresh, or inactivity
	// escalation) to re-search.
	IdleRestarted(account string)
	// UnseenCount records the current unseen message count for account.
	UnseenCount(account string, count int)
	// PublishWritten is called each time the aggregate status file is
	// rewritten.
	PublishWritten()
}

// Server exposes a Collector's state over HTTP.
type Server interface {
	// Start begins serving metrics. It blocks until the context is
	// cancelled or an error occurs.
	Start(ctx context.Context) error
	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
