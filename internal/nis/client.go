// Package nis implements a client for the apcupsd Network Information
// Server protocol: a TCP service exchanging 2-byte big-endian
// length-prefixed records. A "status" request yields one record per
// status line, terminated by a zero-length record.
package nis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/k2patel/apcupsd-client/internal/models"
)

// DefaultPort is the well-known apcupsd NIS port.
const DefaultPort = 3551

const (
	statusCommand = "status"
	maxRecordLen  = 1024 // status lines are short; anything bigger is garbage
)

// ConnectError means the TCP connection could not be established within
// the timeout. It is distinct from protocol-level failures so callers
// can report reachability separately.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("nis: connect %s: %v", e.Addr, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError means the device was reachable but did not return a
// parseable status response.
type ProtocolError struct {
	Addr   string
	Reason string
	Sample string // raw response excerpt kept for diagnosis
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("nis: protocol error from %s: %s", e.Addr, e.Reason)
}

// FetchStatus connects to host:port, requests a status dump and parses
// it into a flat field mapping. Lines that do not look like
// "KEY : VALUE" are skipped. No retries happen here; the caller's
// schedule is the retry policy.
func FetchStatus(ctx context.Context, host string, port int, timeout time.Duration) (models.Fields, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	defer func() { _ = conn.Close() }()

	// One deadline covers the whole request/response exchange.
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := writeRecord(conn, statusCommand); err != nil {
		return nil, &ProtocolError{Addr: addr, Reason: "write status request: " + err.Error()}
	}

	lines, err := readRecords(conn)
	if err != nil {
		return nil, &ProtocolError{Addr: addr, Reason: "read status response: " + err.Error()}
	}

	fields := parseStatus(lines)
	if len(fields) == 0 {
		return nil, &ProtocolError{
			Addr:   addr,
			Reason: "no parseable fields in response",
			Sample: sample(lines),
		}
	}
	return fields, nil
}

// TestTCP checks raw reachability of host:port without speaking the
// protocol. Used by the connection-test feature before a full probe.
func TestTCP(host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}
	return conn.Close()
}

func writeRecord(w io.Writer, payload string) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, payload)
	return err
}

// readRecords reads length-prefixed records until the zero-length end
// marker or until the server closes the stream.
func readRecords(r io.Reader) ([]string, error) {
	var lines []string
	var hdr [2]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return lines, nil
			}
			return lines, err
		}
		n := binary.BigEndian.Uint16(hdr[:])
		if n == 0 {
			return lines, nil // end marker
		}
		if n > maxRecordLen {
			return lines, fmt.Errorf("record length %d exceeds limit", n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return lines, err
		}
		lines = append(lines, string(buf))
	}
}

// parseStatus turns "KEY : VALUE" lines into a field mapping and
// applies the UPSNAME/NAME alias the daemon is known for.
func parseStatus(lines []string) models.Fields {
	fields := make(models.Fields, len(lines))
	for _, line := range lines {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(strings.TrimSuffix(v, "\n"))
	}
	if _, ok := fields["UPSNAME"]; !ok {
		if name, ok := fields["NAME"]; ok {
			fields["UPSNAME"] = name
		}
	}
	return fields
}

func sample(lines []string) string {
	const max = 200
	s := strings.Join(lines, "\\n")
	if len(s) > max {
		s = s[:max]
	}
	return s
}
