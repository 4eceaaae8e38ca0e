package session

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/infodancer/mailmonitor/internal/account"
	"github.com/infodancer/mailmonitor/internal/logging"
	"github.com/infodancer/mailmonitor/internal/metrics"
)

func testListener(t *testing.T) net.Listener {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		t.Fatalf("X509KeyPair: %v", err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return ln
}

// TestSessionFullLifecycle drives a single-account Session through the
// end-to-end protocol scenarios: initial search, an EXISTS-triggered idle
// refresh, a \Seen FETCH, an EXPUNGE renumbering, and a BYE-driven logout.
func TestSessionFullLifecycle(t *testing.T) {
	ln := testListener(t)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)

		write := func(s string) { conn.Write([]byte(s)) }
		readLine := func() string {
			line, _ := r.ReadString('\n')
			return line
		}

		write("* OK ready\r\n")
		readLine() // A1 LOGIN ...
		write("A1 OK LOGIN completed\r\n")
		readLine() // A2 SELECT INBOX
		write("* 5 EXISTS\r\n")
		write("A2 OK SELECT completed\r\n")
		readLine() // A3 SEARCH (UNSEEN)
		write("* SEARCH 2 4\r\n")
		write("A3 OK SEARCH completed\r\n")
		readLine() // A4 IDLE
		write("* 6 EXISTS\r\n")
		readLine() // DONE (untagged)
		write("A4 OK IDLE completed\r\n")
		readLine() // A5 SEARCH (UNSEEN)
		write("* SEARCH 2 4 6\r\n")
		write("A5 OK SEARCH completed\r\n")
		readLine() // A6 IDLE
		write("* 4 FETCH (FLAGS (\\Seen))\r\n")
		write("* 2 EXPUNGE\r\n")
		write("* BYE logging out\r\n")
		readLine() // DONE (untagged)
		write("A6 OK IDLE completed\r\n")
		readLine() // A7 LOGOUT
		write("A7 OK LOGOUT completed\r\n")
	}()

	acct := &account.Account{Name: "work", User: "alice", Password: "secret", Server: "127.0.0.1", Port: portOf(t, ln)}
	sess := New(acct, Timers{PollInterval: 2 * time.Second, IdleRefresh: time.Hour, InactivityTimeout: time.Hour}, logging.NewLogger("error"), metrics.NoopCollector{})

	events := make(chan Event, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(context.Background(), &tls.Config{InsecureSkipVerify: true}, events)
	}()

	var got []Event
	timeout := time.After(5 * time.Second)
collect:
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
			if ev.Count == 1 {
				break collect
			}
		case err := <-errCh:
			t.Fatalf("Run() returned early: %v", err)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	want := []int{2, 3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want counts %v", len(got), got, want)
	}
	for i, w := range want {
		if got[i].Count != w {
			t.Errorf("event[%d].Count = %d, want %d", i, got[i].Count, w)
		}
		if got[i].Account != "work" {
			t.Errorf("event[%d].Account = %q, want work", i, got[i].Account)
		}
	}

	<-serverDone
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned %v, want nil after logout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after logout")
	}
}

// TestSessionSearchReplacesStalePriorResults covers the case a growing
// SEARCH response can mask: a re-SEARCH whose result is not a superset of
// the previous one, because some other client marked a message seen between
// the prior SEARCH and this one with no live FETCH notification in between.
// The new response is the complete, authoritative list and must replace the
// old one rather than accumulate on top of it.
func TestSessionSearchReplacesStalePriorResults(t *testing.T) {
	ln := testListener(t)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)

		write := func(s string) { conn.Write([]byte(s)) }
		readLine := func() string {
			line, _ := r.ReadString('\n')
			return line
		}

		write("* OK ready\r\n")
		readLine() // A1 LOGIN ...
		write("A1 OK LOGIN completed\r\n")
		readLine() // A2 SELECT INBOX
		write("* 5 EXISTS\r\n")
		write("A2 OK SELECT completed\r\n")
		readLine() // A3 SEARCH (UNSEEN)
		write("* SEARCH 2 4\r\n")
		write("A3 OK SEARCH completed\r\n")
		readLine() // A4 IDLE
		write("* 6 EXISTS\r\n")
		readLine() // DONE (untagged)
		write("A4 OK IDLE completed\r\n")
		readLine() // A5 SEARCH (UNSEEN)
		write("* SEARCH 6\r\n")
		write("A5 OK SEARCH completed\r\n")
		readLine() // A6 IDLE
		write("* BYE logging out\r\n")
		readLine() // DONE (untagged)
		write("A6 OK IDLE completed\r\n")
		readLine() // A7 LOGOUT
		write("A7 OK LOGOUT completed\r\n")
	}()

	acct := &account.Account{Name: "work", User: "alice", Password: "secret", Server: "127.0.0.1", Port: portOf(t, ln)}
	sess := New(acct, Timers{PollInterval: 2 * time.Second, IdleRefresh: time.Hour, InactivityTimeout: time.Hour}, logging.NewLogger("error"), metrics.NoopCollector{})

	events := make(chan Event, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(context.Background(), &tls.Config{InsecureSkipVerify: true}, events)
	}()

	var got []Event
	timeout := time.After(5 * time.Second)
collect:
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
			if ev.Count == 1 {
				break collect
			}
		case err := <-errCh:
			t.Fatalf("Run() returned early: %v", err)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	want := []int{2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want counts %v", len(got), got, want)
	}
	for i, w := range want {
		if got[i].Count != w {
			t.Errorf("event[%d].Count = %d, want %d (stale entries from the prior SEARCH must be cleared)", i, got[i].Count, w)
		}
	}

	<-serverDone
}

// TestSessionDisconnectAfterSelect covers scenario 6: the server closes the
// socket mid-exchange and Run returns cleanly for the reactor to retry.
func TestSessionDisconnectAfterSelect(t *testing.T) {
	ln := testListener(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		conn.Write([]byte("* OK ready\r\n"))
		r.ReadString('\n') // LOGIN
		conn.Write([]byte("A1 OK LOGIN completed\r\n"))
		r.ReadString('\n') // SELECT
		conn.Write([]byte("* 5 EXISTS\r\n"))
		conn.Write([]byte("A2 OK SELECT completed\r\n"))
		conn.Close()
	}()

	acct := &account.Account{Name: "work", User: "alice", Password: "secret", Server: "127.0.0.1", Port: portOf(t, ln)}
	sess := New(acct, Timers{PollInterval: 500 * time.Millisecond, IdleRefresh: time.Hour, InactivityTimeout: time.Hour}, logging.NewLogger("error"), metrics.NoopCollector{})

	events := make(chan Event, 4)
	err := sess.Run(context.Background(), &tls.Config{InsecureSkipVerify: true}, events)
	if err != nil {
		t.Fatalf("Run() = %v, want nil on peer close", err)
	}
	if sess.Phase() != PhaseDisconnected {
		t.Fatalf("Phase() = %v, want disconnected", sess.Phase())
	}
}

func portOf(t *testing.T, ln net.Listener) string {
	t.Helper()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	return port
}
