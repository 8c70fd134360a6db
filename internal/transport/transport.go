// Package transport provides the per-session endpoint abstraction between a
// HostClient and its PtyHost: a byte-stream connection, named either as a
// Unix domain socket or a Windows named pipe depending on platform, plus a
// non-destructive liveness probe for the HostClient's heartbeat.
package transport

import (
	"fmt"
	"io"
	"time"
)

// EndpointName returns the bare endpoint identifier for a session, encoding
// the PtyHost's pid so discovery can recognize and discard stale endpoints
// left behind by a process that no longer exists.
func EndpointName(sessionID string, hostPid int) string {
	return fmt.Sprintf("mt-con-%s-%d", sessionID, hostPid)
}

// Transport is a single connection to a PtyHost endpoint.
type Transport interface {
	io.ReadWriteCloser

	// ProbeAlive performs a non-destructive liveness check (MSG_PEEK on
	// Unix, PeekNamedPipe on Windows): it never removes bytes from the
	// socket/pipe buffer, so it cannot race or corrupt whatever frame the
	// HostClient's read loop is concurrently blocked waiting for.
	ProbeAlive() bool

	// SetReadDeadline bounds the next Read call, for the read loop's idle
	// deadline (distinct from the heartbeat, which cancels via Close instead).
	SetReadDeadline(t time.Time) error
}

// Listener accepts Transport connections on a session's endpoint.
type Listener interface {
	Accept() (Transport, error)
	Close() error
	Addr() string
}
