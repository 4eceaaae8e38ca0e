// Package session drives a single IMAP account through the login, select,
// search, and idle cycle, reporting unseen-count changes on an events
// channel for the aggregator to publish.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/infodancer/mailmonitor/internal/account"
	"github.com/infodancer/mailmonitor/internal/framer"
	"github.com/infodancer/mailmonitor/internal/logging"
	"github.com/infodancer/mailmonitor/internal/metrics"
	"github.com/infodancer/mailmonitor/internal/transport"
	"github.com/infodancer/mailmonitor/internal/unseen"
)

// Phase is the coarse connection state of a Session.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnected
)

func (p Phase) String() string {
	if p == PhaseConnected {
		return "connected"
	}
	return "disconnected"
}

// Stage is the session's position within the IMAP protocol exchange.
type Stage int

const (
	StageNone Stage = iota
	StageAwaitGreeting
	StageAwaitLogin
	StageAwaitSelect
	StageAwaitSearch
	StageAwaitIdle
	StageAwaitIdleDone1
	StageAwaitIdleDone2
	StageAwaitLogout
)

func (s Stage) String() string {
	switch s {
	case StageAwaitGreeting:
		return "await-greeting"
	case StageAwaitLogin:
		return "await-login"
	case StageAwaitSelect:
		return "await-select"
	case StageAwaitSearch:
		return "await-search"
	case StageAwaitIdle:
		return "await-idle"
	case StageAwaitIdleDone1:
		return "await-idle-done1"
	case StageAwaitIdleDone2:
		return "await-idle-done2"
	case StageAwaitLogout:
		return "await-logout"
	default:
		return "none"
	}
}

// Event reports a change in an account's unseen count, destined for the
// reactor's fan-in channel and from there the publisher.
type Event struct {
	Account string
	Count   int
}

// Timers holds the durations governing idle refresh, inactivity escalation,
// and the per-read poll bound. The reconnect backoff itself is owned by the
// reactor, which supervises reconnection between Session.Run calls.
type Timers struct {
	PollInterval      time.Duration
	IdleRefresh       time.Duration
	InactivityTimeout time.Duration
}

// DefaultTimers matches the protocol's original constants: a 5 second
// per-read poll bound, a 25 minute proactive idle refresh, and a 200 second
// inactivity escalation.
func DefaultTimers() Timers {
	return Timers{
		PollInterval:      5 * time.Second,
		IdleRefresh:       25 * time.Minute,
		InactivityTimeout: 200 * time.Second,
	}
}

// Session is the per-account protocol driver. It is reused across
// reconnects: its framer and unseen set are reset, not reallocated.
type Session struct {
	account   *account.Account
	timers    Timers
	logger    *slog.Logger
	collector metrics.Collector

	phase Phase
	stage Stage
	conn  *transport.Conn

	framer *framer.Framer
	unseen *unseen.Set

	seq          int
	needle       string
	exists       int
	lastReported int

	lastActivity time.Time
	idleStarted  time.Time
}

// New builds a Session for acct. The framer and unseen set are allocated
// once and live for the process lifetime.
func New(acct *account.Account, timers Timers, baseLogger *slog.Logger, collector metrics.Collector) *Session {
	return &Session{
		account:      acct,
		timers:       timers,
		logger:       logging.WithAccount(baseLogger, acct.Name),
		collector:    collector,
		phase:        PhaseDisconnected,
		stage:        StageNone,
		framer:       framer.New(),
		unseen:       unseen.New(),
		lastReported: -1,
	}
}

// Name returns the account name this session drives.
func (s *Session) Name() string { return s.account.Name }

// Phase returns the session's current connection phase.
func (s *Session) Phase() Phase { return s.phase }

// Stage returns the session's current protocol stage.
func (s *Session) Stage() Stage { return s.stage }

// Run performs a single connect-through-disconnect cycle: dial, TLS
// handshake, the full login/select/search/idle exchange, until the
// connection closes, a protocol error occurs, or ctx is cancelled. The
// caller (the reactor) is responsible for reconnect backoff between calls.
func (s *Session) Run(ctx context.Context, tlsConfig *tls.Config, events chan<- Event) error {
	addr := net.JoinHostPort(s.account.Server, s.account.Port)
	conn, err := transport.Dial("tcp", addr, tlsConfig, s.timers.PollInterval)
	if err != nil {
		s.logger.Error("dial failed", slog.String("error", err.Error()))
		return err
	}
	s.conn = conn
	s.phase = PhaseConnected
	defer s.disconnect()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status, err := s.conn.Handshake()
		if err != nil {
			s.logger.Error("tls handshake failed", slog.String("error", err.Error()))
			return err
		}
		if status == transport.StatusOK {
			break
		}
	}

	s.stage = StageAwaitGreeting
	s.needle = "* OK"
	s.seq = 0
	s.exists = 0
	s.unseen.Clear()
	s.framer.Reset()
	now := time.Now()
	s.lastActivity = now
	s.idleStarted = time.Time{}

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, status, err := s.conn.Read(buf)
		switch status {
		case transport.StatusOK:
			s.lastActivity = time.Now()
			s.framer.Feed(buf[:n])
			for {
				line, ok := s.framer.Next()
				if !ok {
					break
				}
				if done, err := s.handleLine(line, events); err != nil {
					return err
				} else if done {
					return nil
				}
			}
		case transport.StatusWantRead:
			// nothing available this tick; fall through to timers
		case transport.StatusClosed:
			s.logger.Info("connection closed by peer")
			return nil
		case transport.StatusErr:
			s.logger.Error("read error", slog.String("error", err.Error()))
			return err
		}

		if err := s.evaluateTimers(events); err != nil {
			return err
		}
	}
}

func (s *Session) disconnect() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("close error", slog.String("error", err.Error()))
		}
		s.conn = nil
	}
	s.phase = PhaseDisconnected
	s.stage = StageNone
}

// handleLine applies one line of the transition table in §4.D. It returns
// done=true once the machine reaches Disconnected (after LOGOUT completes).
func (s *Session) handleLine(line string, events chan<- Event) (bool, error) {
	switch s.stage {
	case StageAwaitGreeting:
		if strings.HasPrefix(line, "* OK") {
			return false, s.send(events, "LOGIN "+s.account.User+" "+s.account.Password, StageAwaitLogin)
		}

	case StageAwaitLogin:
		if strings.HasPrefix(line, s.needle) {
			return false, s.send(events, "SELECT INBOX", StageAwaitSelect)
		}

	case StageAwaitSelect:
		if strings.Contains(line, " EXISTS") {
			s.exists = parseLeadingInt(line)
			return false, nil
		}
		if strings.HasPrefix(line, s.needle) {
			return false, s.send(events, "SEARCH (UNSEEN)", StageAwaitSearch)
		}

	case StageAwaitSearch:
		if strings.HasPrefix(line, "* SEARCH") {
			for _, tok := range strings.Fields(strings.TrimPrefix(line, "* SEARCH")) {
				if n, err := strconv.Atoi(tok); err == nil {
					s.unseen.Add(n)
				}
			}
			s.reportIfChanged(events)
			return false, nil
		}
		if strings.HasPrefix(line, s.needle) {
			s.idleStarted = time.Now()
			return false, s.send(events, "IDLE", StageAwaitIdle)
		}

	case StageAwaitIdle:
		switch {
		case strings.HasPrefix(line, s.needle):
			// continuation line after a prior DONE; re-search.
			return false, s.send(events, "SEARCH (UNSEEN)", StageAwaitSearch)
		case strings.HasPrefix(line, "* OK"):
			// ignore
		case strings.HasPrefix(line, "* BYE"):
			return false, s.sendRaw(events, "DONE", StageAwaitIdleDone2)
		case strings.Contains(line, " EXPUNGE"):
			n := parseLeadingInt(line)
			s.unseen.DecrementAbove(n)
			s.exists--
			s.reportIfChanged(events)
		case strings.Contains(line, " EXISTS"):
			s.exists = parseLeadingInt(line)
			s.collector.IdleRestarted(s.account.Name)
			return false, s.sendRaw(events, "DONE", StageAwaitIdleDone1)
		case strings.Contains(line, " FETCH"):
			n := parseLeadingInt(line)
			if strings.Contains(line, `\Seen`) {
				s.unseen.Remove(n)
			} else {
				s.unseen.Add(n)
			}
			s.reportIfChanged(events)
		}

	case StageAwaitIdleDone1:
		if strings.HasPrefix(line, s.needle) {
			return false, s.send(events, "SEARCH (UNSEEN)", StageAwaitSearch)
		}

	case StageAwaitIdleDone2:
		if strings.HasPrefix(line, s.needle) {
			return false, s.send(events, "LOGOUT", StageAwaitLogout)
		}

	case StageAwaitLogout:
		if strings.HasPrefix(line, s.needle) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateTimers applies the idle-refresh and inactivity-escalation rules.
// Reconnect backoff is handled by the reactor between Run invocations, not
// here, since a disconnected session has no timers left to evaluate.
func (s *Session) evaluateTimers(events chan<- Event) error {
	now := time.Now()

	if s.stage == StageAwaitIdle && !s.idleStarted.IsZero() && now.Sub(s.idleStarted) > s.timers.IdleRefresh {
		s.logger.Info("idle refresh after time limit")
		s.collector.IdleRestarted(s.account.Name)
		return s.sendRawNoEvent("DONE", StageAwaitIdleDone1)
	}

	if now.Sub(s.lastActivity) > s.timers.InactivityTimeout {
		s.logger.Info("inactivity escalation")
		switch s.stage {
		case StageAwaitIdle:
			s.collector.IdleRestarted(s.account.Name)
			return s.sendRawNoEvent("DONE", StageAwaitIdleDone1)
		case StageAwaitLogout, StageAwaitIdleDone2:
			return fmt.Errorf("inactivity timeout with no response to LOGOUT")
		default:
			// LOGOUT is a real command, not the untagged DONE exception;
			// it must carry a tag like every other command in the exchange.
			return s.send(events, "LOGOUT", StageAwaitLogout)
		}
	}

	return nil
}

// send issues a tagged A<seq> command and advances to next, setting the
// needle to match the tagged completion IMAP will send back.
func (s *Session) send(events chan<- Event, command string, next Stage) error {
	if next == StageAwaitSearch {
		// The SEARCH response is the complete, authoritative unseen list,
		// not a diff; any count carried over from a prior search or idle
		// cycle must not survive into the new one.
		s.unseen.Clear()
	}

	s.seq++
	tag := fmt.Sprintf("A%d", s.seq)
	if err := s.write(tag + " " + command + "\r\n"); err != nil {
		return err
	}
	s.needle = tag + " "
	if next == StageAwaitSelect || next == StageAwaitSearch || next == StageAwaitIdle {
		s.needle = tag + " OK "
	}
	s.stage = next
	return nil
}

// sendRaw issues an untagged control command (DONE) that IMAP completes
// with the tag of the command the IDLE itself was entered under; the needle
// therefore stays keyed on the last tag issued.
func (s *Session) sendRaw(events chan<- Event, command string, next Stage) error {
	return s.sendRawNoEvent(command, next)
}

func (s *Session) sendRawNoEvent(command string, next Stage) error {
	if err := s.write(command + "\r\n"); err != nil {
		return err
	}
	s.stage = next
	return nil
}

func (s *Session) write(line string) error {
	_, status, err := s.conn.Write([]byte(line))
	if status != transport.StatusOK {
		if err == nil {
			err = fmt.Errorf("write did not complete: %s", status)
		}
		s.logger.Error("write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (s *Session) reportIfChanged(events chan<- Event) {
	n := s.unseen.Size()
	if n == s.lastReported {
		return
	}
	s.lastReported = n
	events <- Event{Account: s.account.Name, Count: n}
}

func parseLeadingInt(line string) int {
	trimmed := strings.TrimPrefix(line, "*")
	trimmed = strings.TrimSpace(trimmed)
	end := strings.IndexByte(trimmed, ' ')
	if end < 0 {
		end = len(trimmed)
	}
	n, _ := strconv.Atoi(trimmed[:end])
	return n
}
