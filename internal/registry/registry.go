// Package registry implements the SessionRegistry and its startup discovery
// pass: the map from SessionId to (HostClient, SessionInfo) that the
// WebServer exclusively owns, plus creation and adoption of PtyHost
// processes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"midterm/internal/activitylog"
	"midterm/internal/clock"
	"midterm/internal/hostclient"
	"midterm/internal/ipc"
)

// Lifecycle mirrors a registry entry's connection state, derived from its
// HostClient's State but tracked independently so Close can transition an
// entry straight to Closed without waiting on the client's own bookkeeping.
type Lifecycle int

const (
	LifecycleConnecting Lifecycle = iota
	LifecycleReady
	LifecycleReconnecting
	LifecycleClosed
)

// ProcessSpawner abstracts starting a PtyHost process, including
// platform-specific "run as user" de-elevation.
type ProcessSpawner interface {
	Spawn(ctx context.Context, argv []string, identity string) (pid int, err error)
}

// EndpointEnumerator abstracts platform listing/removal of IPC endpoints
// (named pipes on Windows, socket files on Unix).
type EndpointEnumerator interface {
	List() ([]Endpoint, error)
	Remove(name string) error
}

// Endpoint is one discovered (sessionID, hostPid) pair parsed from an
// endpoint name.
type Endpoint struct {
	SessionID string
	HostPid   int
	Name      string
}

// CreateParams describes a new session's PTY host.
type CreateParams struct {
	ShellKind string
	ShellPath string
	Args      []string
	Cwd       string
	Cols      int
	Rows      int
	LogLevel  ipc.LogLevel
	Identity  string // OS user identity to spawn the shell as, if de-elevating
}

// Entry is the registry's cached view of one session.
type Entry struct {
	Client    *hostclient.HostClient
	Info      ipc.SessionInfo
	Lifecycle Lifecycle
}

// Options configures a Registry.
type Options struct {
	PtyHostPath   string // path to the midterm-host binary
	Spawner       ProcessSpawner
	Enumerator    EndpointEnumerator
	Clock         clock.Clock
	OnStateChange func(sessionID string)                              // fired whenever an entry's Lifecycle/Info changes
	OnOutput      func(sessionID string, cols, rows int, data []byte) // fired on every PTY output chunk, for mux.Hub fan-out
	ActivityLog   *activitylog.Log                                    // optional; records reconnect/disconnect/discovery/rename transitions
}

// Registry is the WebServer's concurrent map of SessionId -> Entry. Mutation
// is atomic per key; reads return immutable SessionInfo snapshots.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New constructs an empty Registry.
func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Registry{opts: opts, entries: make(map[string]*Entry)}
}

// SetOutputSink wires the hook fired on every PTY output chunk. It exists
// because the WebServer's mux.Hub is itself constructed from a *Registry
// (see internal/webserver's registrySource adapter), so the callback can
// only be known after the Registry already exists; call it once, before
// Discover or CreateSession are invoked.
func (r *Registry) SetOutputSink(fn func(sessionID string, cols, rows int, data []byte)) {
	r.mu.Lock()
	r.opts.OnOutput = fn
	r.mu.Unlock()
}

// SetStateChangeSink wires the hook fired whenever an entry's
// Lifecycle/Info changes, for the same construction-order reason as
// SetOutputSink.
func (r *Registry) SetStateChangeSink(fn func(sessionID string)) {
	r.mu.Lock()
	r.opts.OnStateChange = fn
	r.mu.Unlock()
}

// Get returns an immutable snapshot of a session's Entry.
func (r *Registry) Get(sessionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns a snapshot of every session's Entry.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// Sessions returns the known session ids.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// newSessionID allocates an 8-character opaque id: the first 8 hex chars of
// a fresh UUID.
func newSessionID() string {
	return uuid.NewString()[:8]
}

const (
	// spawnConnectAttempts and spawnConnectInterval give a freshly spawned
	// host up to 10 x 1s to come up, after an initial 500ms grace.
	spawnConnectAttempts = 10
	spawnConnectInterval = 1 * time.Second
	spawnInitialGrace    = 500 * time.Millisecond

	discoveryConnectTimeout = 500 * time.Millisecond
)

// ErrSpawnFailed is returned when the ProcessSpawner cannot start a host.
var ErrSpawnFailed = errors.New("registry: spawn failed")

// ErrHostIncompatible names the incompatible-host-version condition. Discover
// does not return it: an incompatible host is logged, killed and removed.
var ErrHostIncompatible = errors.New("registry: incompatible host version")

// CreateSession spawns a new PtyHost process, connects to it, and inserts a
// Ready entry into the registry. On any failure the spawned PID (if any) is
// killed and the error is returned.
func (r *Registry) CreateSession(ctx context.Context, p CreateParams) (string, error) {
	sessionID := newSessionID()
	argv := buildHostArgv(r.opts.PtyHostPath, sessionID, p)

	pid, err := r.opts.Spawner.Spawn(ctx, argv, p.Identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	r.setEntry(sessionID, &Entry{Lifecycle: LifecycleConnecting})

	client, info, err := r.connectNewHost(ctx, sessionID, pid)
	if err != nil {
		r.killAndForget(sessionID, pid)
		return "", err
	}

	r.setEntry(sessionID, &Entry{Client: client, Info: info, Lifecycle: LifecycleReady})
	r.notify(sessionID)
	return sessionID, nil
}

func buildHostArgv(hostPath, sessionID string, p CreateParams) []string {
	cols, rows := p.Cols, p.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	argv := []string{
		hostPath,
		"--session", sessionID,
		"--shell", p.ShellKind,
		"--shellpath", p.ShellPath,
		"--cwd", p.Cwd,
		"--cols", fmt.Sprintf("%d", cols),
		"--rows", fmt.Sprintf("%d", rows),
		"--loglevel", logLevelFlag(p.LogLevel),
	}
	if len(p.Args) > 0 {
		argv = append(argv, "--")
		argv = append(argv, p.Args...)
	}
	return argv
}

func logLevelFlag(l ipc.LogLevel) string {
	switch l {
	case ipc.LogLevelDebug:
		return "debug"
	case ipc.LogLevelWarn:
		return "warn"
	case ipc.LogLevelError:
		return "error"
	default:
		return "info"
	}
}

// connectNewHost waits for the freshly spawned host's endpoint to appear and
// completes the GetInfo handshake.
func (r *Registry) connectNewHost(ctx context.Context, sessionID string, pid int) (*hostclient.HostClient, ipc.SessionInfo, error) {
	if err := r.opts.Clock.Sleep(ctx, spawnInitialGrace); err != nil {
		return nil, ipc.SessionInfo{}, err
	}

	client := hostclient.New(hostclient.Config{
		SessionID: sessionID,
		HostPid:   pid,
		Clock:     r.opts.Clock,
		Callbacks: r.callbacksFor(sessionID),
	})

	var lastErr error
	for attempt := 0; attempt < spawnConnectAttempts; attempt++ {
		if err := client.Connect(spawnConnectInterval); err == nil {
			lastErr = nil
			break
		} else {
			lastErr = err
		}
		if err := r.opts.Clock.Sleep(ctx, spawnConnectInterval); err != nil {
			return nil, ipc.SessionInfo{}, err
		}
	}
	if lastErr != nil {
		return nil, ipc.SessionInfo{}, fmt.Errorf("registry: connect to new host: %w", lastErr)
	}

	client.StartReadLoop()
	info, err := client.GetInfo()
	if err != nil {
		client.Close()
		return nil, ipc.SessionInfo{}, fmt.Errorf("registry: handshake with new host: %w", err)
	}
	return client, info, nil
}

func (r *Registry) callbacksFor(sessionID string) hostclient.Callbacks {
	return hostclient.Callbacks{
		OnOutput: func(id string, cols, rows int, data []byte) {
			if r.opts.OnOutput != nil {
				r.opts.OnOutput(id, cols, rows, data)
			}
		},
		// OnStateChanged fires on the HostClient's read-loop goroutine, which
		// must be free to read the Info response GetInfo waits for — so the
		// refresh hops to its own goroutine instead of blocking the callback.
		OnStateChanged: func(id string) {
			go func() {
				r.refreshInfo(id)
				r.notify(id)
			}()
		},
		OnDisconnected: func(id string) {
			r.setLifecycle(id, LifecycleReconnecting)
			r.recordEvent(id, activitylog.EventDisconnected, "warn", "host disconnected, reconnecting")
			r.notify(id)
		},
		OnReconnected: func(id string) {
			r.setLifecycle(id, LifecycleReady)
			r.recordEvent(id, activitylog.EventReconnected, "info", "host reconnected")
			r.notify(id)
		},
	}
}

// recordEvent appends one lifecycle event to the activity log, when
// configured. Best effort: activitylog is an observability side channel
// (see internal/activitylog's package doc), so a write failure here is
// logged and swallowed rather than propagated to the caller.
func (r *Registry) recordEvent(sessionID, event, level, message string) {
	if r.opts.ActivityLog == nil {
		return
	}
	if err := r.opts.ActivityLog.Record(context.Background(), sessionID, event, level, message, r.opts.Clock.Now()); err != nil {
		slog.Debug("[registry] activity log record failed", "sessionId", sessionID, "event", event, "error", err)
	}
}

// SetName requests a displayName update on sessionID's HostClient and
// records the rename in the activity log.
func (r *Registry) SetName(sessionID, name string) error {
	c := r.Client(sessionID)
	if c == nil {
		return fmt.Errorf("registry: unknown session %q", sessionID)
	}
	if err := c.SetName(name); err != nil {
		return err
	}
	r.recordEvent(sessionID, activitylog.EventRenamed, "info", fmt.Sprintf("session renamed to %q", name))
	return nil
}

func (r *Registry) refreshInfo(sessionID string) {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok || e.Client == nil {
		return
	}
	info, err := e.Client.GetInfo()
	if err != nil {
		return
	}
	r.mu.Lock()
	if cur, ok := r.entries[sessionID]; ok {
		updated := *cur
		updated.Info = info
		r.entries[sessionID] = &updated
	}
	r.mu.Unlock()
}

func (r *Registry) setLifecycle(sessionID string, l Lifecycle) {
	r.mu.Lock()
	if cur, ok := r.entries[sessionID]; ok {
		updated := *cur
		updated.Lifecycle = l
		r.entries[sessionID] = &updated
	}
	r.mu.Unlock()
}

func (r *Registry) setEntry(sessionID string, e *Entry) {
	r.mu.Lock()
	r.entries[sessionID] = e
	r.mu.Unlock()
}

func (r *Registry) notify(sessionID string) {
	if r.opts.OnStateChange != nil {
		r.opts.OnStateChange(sessionID)
	}
}

func (r *Registry) killAndForget(sessionID string, pid int) {
	if err := killPid(pid); err != nil {
		slog.Debug("[registry] killing failed-spawn host", "sessionId", sessionID, "pid", pid, "error", err)
	}
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// Close removes sessionID from the registry: best-effort Close to the
// PtyHost, dispose the HostClient, notify listeners.
func (r *Registry) Close(sessionID string) error {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("registry: unknown session %q", sessionID)
	}
	if e.Client != nil {
		_ = e.Client.Close()
	}
	r.notify(sessionID)
	return nil
}

// Shutdown closes every session's HostClient (best effort), for WebServer
// shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()
	for id, e := range entries {
		if e.Client != nil {
			_ = e.Client.Close()
		}
		slog.Debug("[registry] shutdown closed session", "sessionId", id)
	}
}

// Client returns the HostClient for sessionID, or nil if unknown.
func (r *Registry) Client(sessionID string) *hostclient.HostClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil
	}
	return e.Client
}
