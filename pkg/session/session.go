// Package session provides the remote session channel used by attachment
// drivers: an authenticated interactive text session to one device with a
// synchronous send / read-until-marker primitive layered over the
// asynchronous character stream.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/newtron-network/extport/pkg/util"
)

// Default read timeouts. Quick introspection commands answer in well under a
// second; commands that restart the device network stack can take 10s+.
const (
	DefaultReadTimeout    = 1 * time.Second
	DefaultRestartTimeout = 15 * time.Second
	DefaultDialTimeout    = 30 * time.Second
)

// Credentials authenticate a session.
type Credentials struct {
	Username string
	Password string
	Port     int // 0 selects the protocol default
}

// Channel is one interactive session with a device. Commands sent on a
// channel are strictly ordered; a channel must not be shared between
// concurrent operations.
type Channel interface {
	// Send writes one line followed by the protocol line ending.
	Send(line string) error
	// ReadUntil blocks until marker is observed or timeout elapses and
	// returns everything received up to and including the marker. On
	// timeout the pending bytes stay buffered so the caller may retry.
	ReadUntil(marker string, timeout time.Duration) ([]byte, error)
	// Close releases the session. It is safe to call more than once.
	Close() error
	// RemoteAddr identifies the device for diagnostics.
	RemoteAddr() string
}

// Dialer opens channels.
type Dialer interface {
	Open(ctx context.Context, address string, creds Credentials) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string, creds Credentials) (Channel, error)

// Open calls f.
func (f DialerFunc) Open(ctx context.Context, address string, creds Credentials) (Channel, error) {
	return f(ctx, address, creds)
}

// ReadTimeoutError is returned by ReadUntil when the marker did not arrive in
// time. Partial holds what was received so far.
type ReadTimeoutError struct {
	Marker  string
	Timeout time.Duration
	Partial string
}

func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("marker %q not seen within %s", e.Marker, e.Timeout)
}

func (e *ReadTimeoutError) Unwrap() error {
	return util.ErrTimeout
}

// ConnectionError is returned when a session cannot be opened or has been
// closed by the peer.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session to %s: %v", e.Address, e.Err)
}

// Is matches util.ErrConnection; Unwrap exposes the transport cause.
func (e *ConnectionError) Is(target error) bool {
	return target == util.ErrConnection
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// LastLine returns the last non-blank line of a device response.
func LastLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
