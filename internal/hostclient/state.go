// Package hostclient implements the per-session IPC client the WebServer
// uses to talk to a PtyHost: connect, request/response with a single
// outstanding request, push-event demux, heartbeat-based stale detection,
// and auto-reconnect with exponential backoff.
package hostclient

import "fmt"

// State is one of the HostClient lifecycle states:
// Connecting -> Ready -> Reconnecting -> Ready (loop), terminal Closed.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateReady:
		return "Ready"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
