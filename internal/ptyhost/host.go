// Package ptyhost implements the PtyHost session process: it owns one PTY,
// one shell child, and one IPC listener, and serves the binary framing
// protocol defined in internal/ipc to whichever single client is currently
// attached.
package ptyhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"midterm/internal/ipc"
	"midterm/internal/ptydevice"
	"midterm/internal/ringbuffer"
	"midterm/internal/transport"
	"midterm/internal/workerutil"
)

// preHandshakeCap bounds the buffer that accumulates PTY output before the
// first client completes its handshake; overflow drops further output with
// a single warning.
const preHandshakeCap = 1 * 1024 * 1024

// Config configures a Host.
type Config struct {
	SessionID string
	HostPid   int
	ShellKind string
	ShellPath string
	Args      []string
	Dir       string
	Env       []string
	Cols      int
	Rows      int
	LogLevel  ipc.LogLevel

	// LevelVar, when set, is the slog.LevelVar backing the process's log
	// handler; SetLogLevel requests from the client retune it live.
	LevelVar *slog.LevelVar
}

// Host is one PtyHost session process's in-process state.
type Host struct {
	cfg Config

	device *ptydevice.Device
	ring   *ringbuffer.RingBuffer
	ln     transport.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	infoMu         sync.RWMutex
	info           ipc.SessionInfo
	handshakeDone  bool
	preHandshake   []byte
	preHandWarned  bool
	logLevel       ipc.LogLevel

	attachMu  sync.Mutex
	attached  transport.Transport
	attachGen uint64

	// writeMu serializes every frame written to the attached transport: the
	// PTY read loop's Output pushes, the monitor's event pushes, and the
	// client goroutine's acks all share one connection, and an interleaved
	// header would corrupt the stream.
	writeMu sync.Mutex
}

// New opens the PTY, starts the shell child, and binds the session's IPC
// listener. The returned Host has not started serving clients; call Serve.
func New(cfg Config) (*Host, error) {
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}

	dev, err := ptydevice.Open(ptydevice.Config{
		Shell:   cfg.ShellPath,
		Args:    cfg.Args,
		Dir:     cfg.Dir,
		Env:     cfg.Env,
		Columns: cfg.Cols,
		Rows:    cfg.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("ptyhost: open device: %w", err)
	}

	ln, err := transport.Listen(cfg.SessionID, cfg.HostPid)
	if err != nil {
		dev.Kill()
		return nil, fmt.Errorf("ptyhost: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		cfg:      cfg,
		device:   dev,
		ring:     ringbuffer.New(ringbuffer.DefaultCapacity),
		ln:       ln,
		ctx:      ctx,
		cancel:   cancel,
		logLevel: cfg.LogLevel,
		info: ipc.SessionInfo{
			ID:             cfg.SessionID,
			HostPid:        cfg.HostPid,
			ShellKind:      cfg.ShellKind,
			Cols:           cfg.Cols,
			Rows:           cfg.Rows,
			CreatedAt:      time.Now(),
			IsRunning:      true,
			TTYHostVersion: ipc.Version,
		},
	}
	return h, nil
}

// Serve runs the PTY read loop and the client accept loop. It blocks until
// Close is called or the listener fails permanently.
func (h *Host) Serve() error {
	workerutil.RunWithPanicRecovery(h.ctx, "ptyhost-read-loop", &h.wg, h.readLoop, workerutil.RecoveryOptions{
		IsShutdown: func() bool { return h.ctx.Err() != nil },
	})
	workerutil.RunWithPanicRecovery(h.ctx, "ptyhost-process-monitor", &h.wg, h.runMonitor, workerutil.RecoveryOptions{
		IsShutdown: func() bool { return h.ctx.Err() != nil },
	})

	for {
		conn, err := h.ln.Accept()
		if err != nil {
			if h.ctx.Err() != nil {
				h.wg.Wait()
				return nil
			}
			return fmt.Errorf("ptyhost: accept: %w", err)
		}
		h.wg.Add(1)
		go h.serveClient(conn)
	}
}

// Close initiates shutdown: kills the shell, stops the read loop, and closes
// the listener and any attached client. It does not wait for the shell to be
// reaped; CloseAck means kill was initiated, not that the child exited.
func (h *Host) Close() error {
	h.cancel()
	var firstErr error
	if err := h.device.Kill(); err != nil {
		firstErr = err
	}
	if err := h.ln.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	h.attachMu.Lock()
	if h.attached != nil {
		h.attached.Close()
		h.attached = nil
	}
	h.attachMu.Unlock()
	return firstErr
}

// replaceAttached installs conn as the sole attached client, closing and
// discarding whichever client was previously attached. The old connection is
// closed outside the lock to avoid deadlocking with a writer that is itself
// waiting on attachMu.
func (h *Host) replaceAttached(conn transport.Transport) uint64 {
	h.attachMu.Lock()
	old := h.attached
	h.attached = conn
	h.attachGen++
	gen := h.attachGen
	h.attachMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Debug("[ptyhost] closing replaced client", "error", err)
		}
	}
	return gen
}

// clearAttachedIfCurrent detaches conn only if it is still the live client
// (pointer-identity check), so a client replaced in the interim is not torn
// down twice.
func (h *Host) clearAttachedIfCurrent(conn transport.Transport) {
	h.attachMu.Lock()
	if h.attached == conn {
		h.attached = nil
	}
	h.attachMu.Unlock()
}

// writeFrame serializes one frame onto conn under writeMu.
func (h *Host) writeFrame(conn transport.Transport, f ipc.Frame) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return ipc.WriteFrame(conn, f)
}

func (h *Host) pushToAttached(f ipc.Frame) {
	h.attachMu.Lock()
	conn := h.attached
	h.attachMu.Unlock()
	if conn == nil {
		return
	}
	if err := h.writeFrame(conn, f); err != nil {
		slog.Debug("[ptyhost] push to attached client failed", "type", f.Type, "error", err)
		h.clearAttachedIfCurrent(conn)
		conn.Close()
	}
}

// readLoop pumps PTY output into the ring buffer and, once the first client
// has completed its handshake, pushes Output frames directly to whichever
// client is currently attached.
func (h *Host) readLoop(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		n, err := h.device.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			h.ring.Write(chunk)
			h.onOutput(chunk)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.markExited(h.waitExitCode())
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (h *Host) onOutput(chunk []byte) {
	h.infoMu.Lock()
	handshakeDone := h.handshakeDone
	cols, rows := h.info.Cols, h.info.Rows
	if !handshakeDone {
		if len(h.preHandshake)+len(chunk) > preHandshakeCap {
			if !h.preHandWarned {
				slog.Warn("[ptyhost] pre-handshake output buffer full, dropping further output until handshake completes", "sessionId", h.cfg.SessionID)
				h.preHandWarned = true
			}
			h.infoMu.Unlock()
			return
		}
		h.preHandshake = append(h.preHandshake, chunk...)
		h.infoMu.Unlock()
		return
	}
	h.infoMu.Unlock()

	h.pushToAttached(ipc.Frame{Type: ipc.MessageOutput, Payload: ipc.EncodeOutput(cols, rows, chunk)})
}

// emitStateChange pushes a StateChange frame, prompting the attached client
// to re-issue GetInfo and pick up the mutated snapshot.
func (h *Host) emitStateChange() {
	h.pushToAttached(ipc.Frame{Type: ipc.MessageStateChange})
}

// waitExitCode reaps the shell child and returns its real exit code where
// the backend supports it (Unix PTY, both platforms' pipe-mode fallback);
// ConPTY's natively-owned child reports errUnsupported here, in which case
// a generic non-zero code is reported since no syscall path to its exit
// status is wired up in this pass.
func (h *Host) waitExitCode() int {
	code, err := h.device.Wait()
	if err != nil {
		return 1
	}
	return code
}

func (h *Host) markExited(exitCode int) {
	h.infoMu.Lock()
	h.info.IsRunning = false
	h.info.ExitCode = &exitCode
	h.infoMu.Unlock()
	h.emitStateChange()
}
