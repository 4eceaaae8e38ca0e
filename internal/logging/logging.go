// Package logging builds the structured loggers used across mailmonitor.
//
// Every session gets its own *slog.Logger carrying a literal "  [<name>] "
// prefix ahead of the message text, matching the two-stream (info/error),
// no-timestamp, no-level output the monitor has always produced: info and
// below go to stdout, warn and above go to stderr. Internally it is still
// ordinary log/slog, so it composes with level filtering and with any other
// handler wired in by the caller.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type ctxKey struct{}

// NewLogger returns a slog.Logger writing plain, unprefixed lines to stdout
// (below LevelWarn) and stderr (LevelWarn and above) at the given level
// ("debug", "info", "warn", "error"; anything else falls back to "info").
func NewLogger(level string) *slog.Logger {
	return slog.New(newStreamHandler(os.Stdout, os.Stderr, parseLevel(level)))
}

// WithAccount returns a logger that prefixes every line with "  [name] ",
// the literal format the status consumer's log-scraping tooling expects.
func WithAccount(logger *slog.Logger, name string) *slog.Logger {
	return slog.New(&accountPrefixHandler{next: logger.Handler(), prefix: "  [" + name + "] "})
}

// IntoContext stores logger in ctx for retrieval by FromContext.
func IntoContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored by IntoContext, or slog.Default()
// if none was stored.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// streamHandler is a slog.Handler that writes plain "message key=value ..."
// lines with no timestamp and no level field, routing records at
// slog.LevelWarn and above to stderr and everything else to stdout. It
// replaces slog's default key=value framing entirely, rather than trying to
// suppress individual fields via ReplaceAttr, since a TextHandler always
// quotes and frames its "msg" key regardless of ReplaceAttr.
type streamHandler struct {
	out, err io.Writer
	level    slog.Level
	mu       *sync.Mutex
	attrs    []slog.Attr
	group    string
}

func newStreamHandler(out, err io.Writer, level slog.Level) *streamHandler {
	return &streamHandler{out: out, err: err, level: level, mu: &sync.Mutex{}}
}

func (h *streamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *streamHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)

	writeAttr := func(a slog.Attr) bool {
		if a.Value.Any() == nil {
			return true
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value.Any())
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(writeAttr)
	b.WriteByte('\n')

	w := h.out
	if r.Level >= slog.LevelWarn {
		w = h.err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(w, b.String())
	return err
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &streamHandler{out: h.out, err: h.err, level: h.level, mu: h.mu, group: h.group}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	next := &streamHandler{out: h.out, err: h.err, level: h.level, mu: h.mu, attrs: h.attrs, group: name}
	return next
}

// accountPrefixHandler wraps another slog.Handler and rewrites the record's
// message to carry a literal per-account prefix instead of a structured
// "account=" attribute, so the output reads as two flat streams per account
// rather than key=value pairs.
type accountPrefixHandler struct {
	next   slog.Handler
	prefix string
}

func (h *accountPrefixHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *accountPrefixHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = h.prefix + r.Message
	return h.next.Handle(ctx, r)
}

func (h *accountPrefixHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &accountPrefixHandler{next: h.next.WithAttrs(attrs), prefix: h.prefix}
}

func (h *accountPrefixHandler) WithGroup(name string) slog.Handler {
	return &accountPrefixHandler{next: h.next.WithGroup(name), prefix: h.prefix}
}
