package mux

import "midterm/internal/ipc"

// SessionSource is the narrow view of the SessionRegistry a MuxClient needs:
// enough to resync buffers and route client-originated messages, without
// mux depending on internal/registry directly. internal/webserver supplies
// the concrete adapter over *registry.Registry.
type SessionSource interface {
	// Sessions lists every currently known session id.
	Sessions() []string
	// Info returns the cached SessionInfo for sessionID, or ok=false if
	// unknown.
	Info(sessionID string) (ipc.SessionInfo, bool)
	// SendInput is fire-and-forget.
	SendInput(sessionID string, data []byte)
	// Resize requests a PTY resize, returning whether the host acked it.
	Resize(sessionID string, cols, rows int) bool
	// SetName requests a displayName update, fire-and-forget like
	// SendInput: the browser observes the rename through the periodic
	// /ws/state snapshot once the host's StateChange refreshes the cached
	// SessionInfo, not through a mux-level ack.
	SetName(sessionID string, name string)
	// Buffer returns a ring-buffer snapshot for sessionID.
	Buffer(sessionID string) ([]byte, error)
}
