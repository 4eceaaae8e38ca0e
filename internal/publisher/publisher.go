// Package publisher is the single writer of the aggregate status file,
// rewriting it in place whenever any account's unseen count changes.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/infodancer/mailmonitor/internal/metrics"
	"github.com/infodancer/mailmonitor/internal/session"
)

// Publisher consumes session.Event values from a single channel and
// maintains the authoritative last-known count per account, rewriting the
// status file whenever a count changes.
type Publisher struct {
	path      string
	names     []string // registration order, drives status line order
	counts    map[string]int
	logger    *slog.Logger
	collector metrics.Collector
}

// New builds a Publisher that writes to path, rendering accounts (in the
// given order) whenever any of their counts change.
func New(path string, accountNames []string, logger *slog.Logger, collector metrics.Collector) *Publisher {
	counts := make(map[string]int, len(accountNames))
	for _, n := range accountNames {
		counts[n] = 0
	}
	return &Publisher{
		path:      path,
		names:     accountNames,
		counts:    counts,
		logger:    logger,
		collector: collector,
	}
}

// Run drains events until the channel is closed or ctx is cancelled,
// rewriting the status file each time a count actually changes. A write
// failure cancels cancel and stops the loop, since the publisher has no
// meaningful fallback once the status file can no longer be written.
func (p *Publisher) Run(ctx context.Context, events <-chan session.Event, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if p.counts[ev.Account] == ev.Count {
				continue
			}
			p.counts[ev.Account] = ev.Count
			p.collector.UnseenCount(ev.Account, ev.Count)
			if err := p.write(); err != nil {
				p.logger.Error("failed to write status file", slog.String("error", err.Error()))
				cancel()
				return
			}
			p.collector.PublishWritten()
		}
	}
}

func (p *Publisher) write() error {
	var b strings.Builder
	for _, name := range p.names {
		if n := p.counts[name]; n > 0 {
			fmt.Fprintf(&b, "(%s: %d) ", name, n)
		}
	}
	line := b.String()
	if line != "" {
		line += "| "
	}

	f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening status file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return nil
}
