package webserver

import (
	"log/slog"

	"midterm/internal/ipc"
	"midterm/internal/registry"
)

// registrySource adapts *registry.Registry to mux.SessionSource, the only
// seam between the control-plane's session bookkeeping and the browser
// fan-out layer.
type registrySource struct {
	reg *registry.Registry
}

func (s registrySource) Sessions() []string {
	return s.reg.Sessions()
}

func (s registrySource) Info(sessionID string) (ipc.SessionInfo, bool) {
	e, ok := s.reg.Get(sessionID)
	if !ok {
		return ipc.SessionInfo{}, false
	}
	return e.Info, true
}

func (s registrySource) SendInput(sessionID string, data []byte) {
	if c := s.reg.Client(sessionID); c != nil {
		c.SendInput(data)
	}
}

func (s registrySource) Resize(sessionID string, cols, rows int) bool {
	c := s.reg.Client(sessionID)
	if c == nil {
		return false
	}
	return c.Resize(cols, rows)
}

func (s registrySource) SetName(sessionID string, name string) {
	if err := s.reg.SetName(sessionID, name); err != nil {
		slog.Debug("[webserver] mux SetName passthrough failed", "sessionId", sessionID, "error", err)
	}
}

func (s registrySource) Buffer(sessionID string) ([]byte, error) {
	c := s.reg.Client(sessionID)
	if c == nil {
		return nil, nil
	}
	return c.GetBuffer()
}
