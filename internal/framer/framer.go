// Package framer accumulates bytes read off a connection into complete
// CRLF-terminated IMAP lines, the Go-idiomatic replacement for a hand-rolled
// realloc-and-index C buffer.
package framer

import "bytes"

const initialCapacity = 4096

// Framer buffers partial reads until full lines are available. It is owned
// by exactly one session and reused across reconnects via Reset.
type Framer struct {
	buf    []byte
	cursor int // read offset of unconsumed data within buf
}

// New returns an empty Framer.
func New() *Framer {
	return &Framer{buf: make([]byte, 0, initialCapacity)}
}

// Feed appends b to the buffer, growing it (via append's doubling growth
// strategy) as needed. It never blocks and never fails.
func (f *Framer) Feed(b []byte) {
	f.buf = append(f.buf, b...)
}

// Next extracts the next complete CRLF-terminated line, if one is present.
// The returned line excludes the trailing CRLF. When the buffer has been
// fully drained the cursor and backing slice reset to the start so a
// long-lived session does not grow its buffer unboundedly across many
// small lines.
func (f *Framer) Next() (string, bool) {
	rest := f.buf[f.cursor:]
	idx := bytes.Index(rest, []byte("\r\n"))
	if idx < 0 {
		return "", false
	}
	line := string(rest[:idx])
	f.cursor += idx + 2
	if f.cursor >= len(f.buf) {
		f.Reset()
	}
	return line, true
}

// Reset empties the buffer without releasing its backing array, so the next
// reconnect does not pay for a fresh allocation.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.cursor = 0
}
