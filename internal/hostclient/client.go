package hostclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"midterm/internal/clock"
	"midterm/internal/ipc"
	"midterm/internal/transport"
)

const (
	// heartbeatInterval is how often ProbeAlive is polled.
	heartbeatInterval = 5 * time.Second
	// readDeadline bounds a single ReadFrame call; elapsing it is not itself
	// fatal (terminals can legitimately idle), it only yields to the next
	// heartbeat decision.
	readDeadline = 10 * time.Second
	// requestDeadline bounds every request/response round trip in addition
	// to any caller-supplied cancellation.
	requestDeadline = 5 * time.Second

	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
	maxReconnects  = 10
)

// DialFunc opens a new Transport to the session's endpoint, used both for
// the initial Connect and every reconnect attempt. Tests inject a fake to
// avoid real sockets/pipes.
type DialFunc func(ctx context.Context, timeout time.Duration) (transport.Transport, error)

// Callbacks are registered once at construction time: no hidden fan-out, a
// single consumer per event kind. Nil callbacks are safe no-ops.
type Callbacks struct {
	OnOutput            func(sessionID string, cols, rows int, data []byte)
	OnStateChanged      func(sessionID string)
	OnProcessEvent      func(sessionID string, ev ipc.ProcessEvent)
	OnForegroundChanged func(sessionID string, fg ipc.ForegroundInfo)
	OnDisconnected      func(sessionID string)
	OnReconnected       func(sessionID string)
}

// Config configures a HostClient.
type Config struct {
	SessionID string
	HostPid   int
	Dial      DialFunc
	Clock     clock.Clock
	Callbacks Callbacks
}

// HostClient is the WebServer-side IPC client for one session's PtyHost.
type HostClient struct {
	sessionID string
	hostPid   int
	dial      DialFunc
	clk       clock.Clock
	cb        Callbacks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateMu sync.Mutex
	state   State

	connMu sync.Mutex
	conn   transport.Transport
	gen    uint64 // bumped every time conn is replaced, guards stale readers

	// writeMu serializes all writes to the transport (fire-and-forget input
	// plus request writes), independent of requestMu, so a blocked write
	// under an in-flight request cannot starve a concurrent SendInput.
	writeMu sync.Mutex

	// requestMu ensures at most one outstanding request at a time. Always
	// acquired before pendingMu by sendRequest.
	requestMu sync.Mutex

	pendingMu sync.Mutex
	pending   *pendingRequest

	reconnectAttempts int
}

type pendingRequest struct {
	want ipc.MessageType
	ch   chan ipc.Frame
}

// New constructs a HostClient. Connect and StartReadLoop must be called
// before any request operation succeeds.
func New(cfg Config) *HostClient {
	if cfg.Dial == nil {
		cfg.Dial = func(_ context.Context, timeout time.Duration) (transport.Transport, error) {
			return transport.Dial(cfg.SessionID, cfg.HostPid, timeout)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HostClient{
		sessionID: cfg.SessionID,
		hostPid:   cfg.HostPid,
		dial:      cfg.Dial,
		clk:       cfg.Clock,
		cb:        cfg.Callbacks,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateConnecting,
	}
}

// SessionID returns the session this client is bound to.
func (c *HostClient) SessionID() string { return c.sessionID }

// State returns the client's current lifecycle state.
func (c *HostClient) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *HostClient) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Connect dials the session's endpoint, failing if timeout elapses first.
func (c *HostClient) Connect(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	conn, err := c.dial(ctx, timeout)
	if err != nil {
		return fmt.Errorf("hostclient: connect: %w", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.gen++
	c.connMu.Unlock()
	c.setState(StateReady)
	return nil
}

// StartReadLoop begins the background demux and heartbeat. Safe to call
// once, after a successful Connect.
func (c *HostClient) StartReadLoop() {
	c.wg.Add(2)
	go c.runReadLoop()
	go c.runHeartbeat()
}

func (c *HostClient) getConn() (transport.Transport, uint64) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn, c.gen
}

// replaceConn installs a freshly reconnected transport, closing whatever was
// there before (if anything) and bumping the generation so stale readers
// stop acting on frames from the old connection.
func (c *HostClient) replaceConn(conn transport.Transport) uint64 {
	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.gen++
	gen := c.gen
	c.connMu.Unlock()
	if old != nil {
		old.Close()
	}
	return gen
}

// Close tears the client down: cancels background work, sends a best-effort
// Close request to the host, and closes the transport. Idempotent.
func (c *HostClient) Close() error {
	prev := c.State()
	if prev != StateClosed {
		if conn, _ := c.getConn(); conn != nil {
			_, _ = c.requestOnConn(conn, ipc.Frame{Type: ipc.MessageClose}, ipc.MessageCloseAck, requestDeadline)
		}
	}
	c.setState(StateClosed)
	c.cancel()
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	return nil
}

// runReadLoop reads frames off the current connection and dispatches them:
// ack types matching a pending request are delivered to it, everything else
// is a push event routed to the registered callback.
func (c *HostClient) runReadLoop() {
	defer c.wg.Done()
	for {
		if c.ctx.Err() != nil {
			return
		}
		conn, gen := c.getConn()
		if conn == nil {
			if !c.waitForReconnectOrDone() {
				return
			}
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			c.handleDisconnect(conn, gen)
			continue
		}
		frame, err := ipc.ReadFrame(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if isTimeout(err) {
				// Not fatal: terminals can legitimately idle. Only the
				// heartbeat decides whether the transport is actually dead.
				continue
			}
			c.handleDisconnect(conn, gen)
			continue
		}
		c.dispatch(frame)
	}
}

func isTimeout(err error) bool {
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}

func (c *HostClient) dispatch(frame ipc.Frame) {
	if c.deliverIfPending(frame) {
		return
	}
	switch frame.Type {
	case ipc.MessageOutput:
		cols, rows, data, err := ipc.DecodeOutput(frame.Payload)
		if err != nil {
			return
		}
		if c.cb.OnOutput != nil {
			c.cb.OnOutput(c.sessionID, cols, rows, data)
		}
	case ipc.MessageStateChange:
		if c.cb.OnStateChanged != nil {
			c.cb.OnStateChanged(c.sessionID)
		}
	case ipc.MessageProcessEvent:
		ev, err := ipc.DecodeProcessEvent(frame.Payload)
		if err != nil {
			return
		}
		if c.cb.OnProcessEvent != nil {
			c.cb.OnProcessEvent(c.sessionID, ev)
		}
	case ipc.MessageForegroundChange:
		fg, err := ipc.DecodeForegroundInfo(frame.Payload)
		if err != nil {
			return
		}
		if c.cb.OnForegroundChanged != nil {
			c.cb.OnForegroundChanged(c.sessionID, fg)
		}
	default:
		slog.Debug("[hostclient] unexpected frame with no pending request", "sessionId", c.sessionID, "type", frame.Type)
	}
}

// deliverIfPending hands frame to the current pending request if its type
// matches what was asked for. Acks are matched by type, not correlation id:
// this is sound because at most one request is ever outstanding per client
// (requestMu enforces it).
func (c *HostClient) deliverIfPending(frame ipc.Frame) bool {
	c.pendingMu.Lock()
	p := c.pending
	if p == nil || p.want != frame.Type {
		c.pendingMu.Unlock()
		return false
	}
	c.pending = nil
	c.pendingMu.Unlock()

	select {
	case p.ch <- frame:
	default:
	}
	return true
}

// handleDisconnect is called from the read loop on a non-timeout transport
// error. It fires OnDisconnected once and kicks off the reconnect
// supervisor.
func (c *HostClient) handleDisconnect(conn transport.Transport, gen uint64) {
	c.connMu.Lock()
	current := c.conn == conn && c.gen == gen
	if current {
		c.conn = nil
	}
	c.connMu.Unlock()
	if !current {
		return
	}

	if c.State() == StateClosed {
		return
	}
	c.setState(StateReconnecting)
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected(c.sessionID)
	}
	c.failPending()
	go c.reconnectLoop()
}

// failPending unblocks any in-flight request with ErrUnavailable rather than
// leaving it to time out on its own 5s deadline.
func (c *HostClient) failPending() {
	c.pendingMu.Lock()
	p := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	if p != nil {
		close(p.ch)
	}
}

// waitForReconnectOrDone blocks briefly so the read loop doesn't spin while
// no connection is installed (between handleDisconnect and a successful
// reconnect, or while permanently Closed). Returns false once the client
// should stop reading entirely.
func (c *HostClient) waitForReconnectOrDone() bool {
	if c.State() == StateClosed {
		return false
	}
	return c.clk.Sleep(c.ctx, 50*time.Millisecond) == nil
}

// runHeartbeat probes transport liveness every 5s without sending any
// bytes. A failed probe closes the current connection immediately so the
// read loop's blocked ReadFrame returns with an error, triggering reconnect
// without waiting out the 10s read deadline.
func (c *HostClient) runHeartbeat() {
	defer c.wg.Done()
	ticker := c.clk.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C():
		}
		conn, gen := c.getConn()
		if conn == nil {
			continue
		}
		if !conn.ProbeAlive() {
			slog.Debug("[hostclient] heartbeat probe failed, forcing reconnect", "sessionId", c.sessionID)
			c.handleDisconnect(conn, gen)
			conn.Close()
		}
	}
}

// sendRequest writes req and waits for the first frame of type wantAck,
// bounded by timeout and the client's context. Acquires requestMu so at
// most one request is outstanding on this HostClient at a time. Only valid
// while Ready; the reconnect handshake uses requestOnConn directly since it
// runs during the Reconnecting state.
func (c *HostClient) sendRequest(req ipc.Frame, wantAck ipc.MessageType, timeout time.Duration) (ipc.Frame, error) {
	if c.State() != StateReady {
		return ipc.Frame{}, ErrUnavailable
	}
	conn, _ := c.getConn()
	if conn == nil {
		return ipc.Frame{}, ErrUnavailable
	}
	return c.requestOnConn(conn, req, wantAck, timeout)
}

// requestOnConn performs one request/response round trip over conn,
// bypassing the Ready-state gate so the reconnect handshake (run while the
// client is still Reconnecting) can issue GetInfo directly.
func (c *HostClient) requestOnConn(conn transport.Transport, req ipc.Frame, wantAck ipc.MessageType, timeout time.Duration) (ipc.Frame, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	ch := make(chan ipc.Frame, 1)
	c.pendingMu.Lock()
	c.pending = &pendingRequest{want: wantAck, ch: ch}
	c.pendingMu.Unlock()

	if err := c.writeFrame(conn, req); err != nil {
		c.pendingMu.Lock()
		if c.pending != nil && c.pending.ch == ch {
			c.pending = nil
		}
		c.pendingMu.Unlock()
		return ipc.Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame, ok := <-ch:
		if !ok {
			return ipc.Frame{}, ErrUnavailable
		}
		return frame, nil
	case <-timer.C:
		c.pendingMu.Lock()
		if c.pending != nil && c.pending.ch == ch {
			c.pending = nil
		}
		c.pendingMu.Unlock()
		return ipc.Frame{}, ErrRequestTimeout
	case <-c.ctx.Done():
		return ipc.Frame{}, ErrUnavailable
	}
}

// writeFrame serializes the actual transport write under writeMu, kept
// independent of requestMu so a concurrent fire-and-forget SendInput cannot
// be starved by (nor starve) an in-flight request's write.
func (c *HostClient) writeFrame(conn transport.Transport, f ipc.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ipc.WriteFrame(conn, f)
}

// GetInfo requests the current SessionInfo snapshot.
func (c *HostClient) GetInfo() (ipc.SessionInfo, error) {
	frame, err := c.sendRequest(ipc.Frame{Type: ipc.MessageGetInfo}, ipc.MessageInfo, requestDeadline)
	if err != nil {
		return ipc.SessionInfo{}, err
	}
	return ipc.DecodeInfo(frame.Payload)
}

// SendInput is fire-and-forget: on transport error it schedules a reconnect
// and returns without raising to the caller.
func (c *HostClient) SendInput(data []byte) {
	conn, gen := c.getConn()
	if conn == nil || c.State() != StateReady {
		return
	}
	if err := c.writeFrame(conn, ipc.Frame{Type: ipc.MessageInput, Payload: data}); err != nil {
		c.handleDisconnect(conn, gen)
	}
}

// Resize requests a PTY resize, returning whether the host acked it.
func (c *HostClient) Resize(cols, rows int) bool {
	_, err := c.sendRequest(ipc.Frame{Type: ipc.MessageResize, Payload: ipc.EncodeResize(cols, rows)}, ipc.MessageResizeAck, requestDeadline)
	return err == nil
}

// GetBuffer requests a ring-buffer snapshot.
func (c *HostClient) GetBuffer() ([]byte, error) {
	frame, err := c.sendRequest(ipc.Frame{Type: ipc.MessageGetBuffer}, ipc.MessageBuffer, requestDeadline)
	if err != nil {
		return nil, err
	}
	return frame.Payload, nil
}

// SetName requests a displayName update.
func (c *HostClient) SetName(name string) error {
	_, err := c.sendRequest(ipc.Frame{Type: ipc.MessageSetName, Payload: []byte(name)}, ipc.MessageSetNameAck, requestDeadline)
	return err
}

// SetLogLevel requests a host logging-verbosity change.
func (c *HostClient) SetLogLevel(level ipc.LogLevel) error {
	_, err := c.sendRequest(ipc.Frame{Type: ipc.MessageSetLogLevel, Payload: ipc.EncodeLogLevel(level)}, ipc.MessageSetLogLevelAck, requestDeadline)
	return err
}
