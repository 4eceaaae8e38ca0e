// Package account parses and holds the IMAP account records the monitor
// watches, one per line on standard input.
package account

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// MaxAccounts bounds how many account records Load will accept; any
// additional lines are ignored once the limit is reached.
const MaxAccounts = 10

// Account is an immutable IMAP endpoint and credential set. Once built by
// Load it is never mutated; sessions hold a non-owning pointer to it.
type Account struct {
	Name     string
	User     string
	Password string
	Server   string
	Port     string
}

// Redact returns password with every 8th character starting from the first
// preserved (indices 0, 8, 16, ...) and the rest replaced by '*', the only
// form a password may take once it reaches a log line.
func Redact(password string) string {
	out := make([]byte, len(password))
	for i := range password {
		if i%8 == 0 {
			out[i] = password[i]
		} else {
			out[i] = '*'
		}
	}
	return string(out)
}

// Load reads up to MaxAccounts newline-terminated records of the form
// "name user password server port" from r. Records with fewer than five
// non-empty fields are skipped and logged; a doubled space therefore yields
// an empty token and is correctly rejected rather than silently collapsed,
// which is why fields are split on a single literal space rather than
// strings.Fields.
func Load(r io.Reader, logger *slog.Logger) ([]*Account, error) {
	var accounts []*Account
	scanner := bufio.NewScanner(r)
	for scanner.Scan() && len(accounts) < MaxAccounts {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		acct, err := parseRecord(line)
		if err != nil {
			logger.Error("skipping malformed account record", slog.String("error", err.Error()))
			continue
		}
		accounts = append(accounts, acct)
	}
	if err := scanner.Err(); err != nil {
		return accounts, fmt.Errorf("reading accounts: %w", err)
	}
	return accounts, nil
}

func parseRecord(line string) (*Account, error) {
	fields := strings.Split(line, " ")
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 space-separated fields, got %d", len(fields))
	}
	for i, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("field %d is empty", i)
		}
	}
	return &Account{
		Name:     fields[0],
		User:     fields[1],
		Password: fields[2],
		Server:   fields[3],
		Port:     fields[4],
	}, nil
}
