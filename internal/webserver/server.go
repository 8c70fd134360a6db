// Package webserver wires together the SessionRegistry and the mux fan-out
// layer behind an HTTP server, exposing the browser-facing control plane
// and attach endpoints.
package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"midterm/internal/activitylog"
	"midterm/internal/ipc"
	"midterm/internal/mux"
	"midterm/internal/registry"
)

// stateBroadcastInterval is the period of the sidebar state feed: a JSON
// snapshot of the session list pushed over /ws/state.
const stateBroadcastInterval = 2 * time.Second

// Server is the WebServer's HTTP surface: control-plane REST endpoints, the
// mux attach socket, and the sidebar state feed.
type Server struct {
	reg          *registry.Registry
	hub          *mux.Hub
	gate         AuthGate
	log          *activitylog.Log // nil disables activity logging
	defaultShell string
	router       *http.ServeMux
}

// Options configures a Server.
type Options struct {
	Registry     *registry.Registry
	Gate         AuthGate // nil defaults to OpenGate{}
	ActivityLog  *activitylog.Log
	DefaultShell string // fallback shell path when a create request leaves ShellPath empty
}

// New constructs a Server and its internal mux.Hub wired to opts.Registry
// via the registrySource adapter. The caller must still wire
// reg.SetOutputSink to srv.Hub().BroadcastOutput and reg.SetStateChangeSink
// to a srv.Hub().BroadcastSessionState adapter before opts.Registry starts
// handling sessions (see cmd/midterm-server) — the registry has to exist
// before its own Hub can be built, so the hooks can't be supplied at
// registry.New time.
func New(opts Options) *Server {
	gate := opts.Gate
	if gate == nil {
		gate = OpenGate{}
	}
	hub := mux.NewHub(registrySource{reg: opts.Registry})
	s := &Server{
		reg:          opts.Registry,
		hub:          hub,
		gate:         gate,
		log:          opts.ActivityLog,
		defaultShell: opts.DefaultShell,
	}
	s.routes()
	return s
}

// Hub returns the Server's mux.Hub, so the caller can wire
// Registry.SetOutputSink/SetStateChangeSink to it before starting discovery.
func (s *Server) Hub() *mux.Hub { return s.hub }

func (s *Server) routes() {
	m := http.NewServeMux()
	m.HandleFunc("GET /api/sessions", requireAuth(s.gate, s.handleListSessions))
	m.HandleFunc("POST /api/sessions", requireAuth(s.gate, s.handleCreateSession))
	m.HandleFunc("DELETE /api/sessions/{id}", requireAuth(s.gate, s.handleCloseSession))
	m.HandleFunc("GET /ws/mux", requireAuth(s.gate, s.handleMuxAttach))
	m.HandleFunc("GET /ws/state", requireAuth(s.gate, s.handleStateSocket))
	s.router = m
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr and serves until ctx is cancelled, then shuts down
// gracefully: mux clients first, then the registry, then the HTTP listener.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[webserver] listening", "addr", addr)
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		slog.Info("[webserver] shutting down")
		s.hub.CloseAll()
		s.reg.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type sessionListResponse struct {
	Sessions []sessionView `json:"sessions"`
}

type sessionView struct {
	ipc.SessionInfo
	Lifecycle string `json:"lifecycle"`
}

func lifecycleString(l registry.Lifecycle) string {
	switch l {
	case registry.LifecycleReady:
		return "ready"
	case registry.LifecycleReconnecting:
		return "reconnecting"
	case registry.LifecycleClosed:
		return "closed"
	default:
		return "connecting"
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	entries := s.reg.List()
	resp := sessionListResponse{Sessions: make([]sessionView, 0, len(entries))}
	for _, e := range entries {
		resp.Sessions = append(resp.Sessions, sessionView{SessionInfo: e.Info, Lifecycle: lifecycleString(e.Lifecycle)})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createSessionRequest struct {
	ShellKind string   `json:"shellKind"`
	ShellPath string   `json:"shellPath"`
	Args      []string `json:"args"`
	Cwd       string   `json:"cwd"`
	Cols      int      `json:"cols"`
	Rows      int      `json:"rows"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	shellPath := req.ShellPath
	if shellPath == "" {
		shellPath = s.defaultShell
	}
	sessionID, err := s.reg.CreateSession(r.Context(), registry.CreateParams{
		ShellKind: req.ShellKind,
		ShellPath: shellPath,
		Args:      req.Args,
		Cwd:       req.Cwd,
		Cols:      req.Cols,
		Rows:      req.Rows,
		LogLevel:  ipc.LogLevelInfo,
	})
	if err != nil {
		slog.Warn("[webserver] create session failed", "error", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	if s.log != nil {
		_ = s.log.Record(r.Context(), sessionID, activitylog.EventCreated, "info", "session created", time.Now())
	}
	s.hub.BroadcastSessionState(sessionID, true)
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sessionID})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.reg.Close(id); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if s.log != nil {
		_ = s.log.Record(r.Context(), id, activitylog.EventClosed, "info", "session closed", time.Now())
	}
	s.hub.BroadcastSessionState(id, false)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMuxAttach(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeHTTP(r.Context(), w, r)
}

var stateUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleStateSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := stateUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(stateBroadcastInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries := s.reg.List()
			resp := sessionListResponse{Sessions: make([]sessionView, 0, len(entries))}
			for _, e := range entries {
				resp.Sessions = append(resp.Sessions, sessionView{SessionInfo: e.Info, Lifecycle: lifecycleString(e.Lifecycle)})
			}
			if err := conn.WriteJSON(resp); err != nil {
				slog.Debug("[webserver] state socket write failed, closing", "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
