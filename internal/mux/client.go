package mux

import (
	"bytes"
	"compress/gzip"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// queueCap is the per-client bounded-queue length.
	queueCap = 1000
	// compressThreshold is the raw-payload size above which Output frames
	// are sent as CompressedOutput instead.
	compressThreshold = 2048
	// resyncChunkSize is the chunk size used both for the attach handshake's
	// initial buffer stream and for Resync's buffer replay.
	resyncChunkSize = 32 * 1024

	writeDeadline = 5 * time.Second
	readDeadline  = 90 * time.Second
	pingInterval  = 30 * time.Second

	maxReadMessageSize = 64 * 1024
)

// Conn is the subset of *websocket.Conn a MuxClient needs; satisfied
// directly by gorilla/websocket, narrowed for testability.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// Client multiplexes every session's output onto a single browser
// WebSocket. It owns a bounded drop-oldest queue and one
// writer goroutine; created by Hub.ServeHTTP, destroyed when its socket closes.
type Client struct {
	id     string
	conn   Conn
	source SessionSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queue *frameQueue

	writeMu sync.Mutex

	activeMu sync.Mutex
	active   string // sessionId hinted as focused via MessageActiveHint, "" if none; recorded but not yet consulted (no inactive-session batching implemented)

	closeOnce sync.Once
}

// NewClient wraps an accepted WebSocket connection into a multiplexing
// Client and starts its background loops. ctx is typically derived from the
// WebServer's root shutdown token.
func NewClient(ctx context.Context, conn Conn, source SessionSource) *Client {
	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		source: source,
		ctx:    cctx,
		cancel: cancel,
		queue:  newFrameQueue(queueCap),
	}
	conn.SetReadLimit(maxReadMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c.wg.Add(3)
	go c.writeLoop()
	go c.pingLoop()
	go c.attachAndRead()
	return c
}

// Close tears the client down: cancels background work, closes the queue's
// consumer, and closes the socket. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

// Wait blocks until all of the client's background goroutines have exited.
func (c *Client) Wait() { c.wg.Wait() }

func (c *Client) enqueue(f Frame) {
	c.queue.push(f)
}

// BroadcastOutput enqueues one session's output, applying the compression
// policy. Inactive-session coalescing is not implemented: the drop-oldest
// queue already guarantees forward progress, so the foreground hint
// recorded by MessageActiveHint is not consulted here. It would feed a
// coalescing stage upstream of the queue, never an altered eviction rule.
func (c *Client) BroadcastOutput(sessionID string, cols, rows int, data []byte) {
	c.enqueue(outputFrame(sessionID, cols, rows, data))
}

func outputFrame(sessionID string, cols, rows int, data []byte) Frame {
	payload := EncodeOutputPayload(cols, rows, data)
	if len(payload) <= compressThreshold {
		return Frame{Type: MessageOutput, SessionID: EncodeSessionID(sessionID), Payload: payload}
	}
	return compressedFrame(sessionID, cols, rows, data)
}

func compressedFrame(sessionID string, cols, rows int, data []byte) Frame {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return Frame{Type: MessageOutput, SessionID: EncodeSessionID(sessionID), Payload: EncodeOutputPayload(cols, rows, data)}
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return Frame{Type: MessageOutput, SessionID: EncodeSessionID(sessionID), Payload: EncodeOutputPayload(cols, rows, data)}
	}
	if err := zw.Close(); err != nil {
		return Frame{Type: MessageOutput, SessionID: EncodeSessionID(sessionID), Payload: EncodeOutputPayload(cols, rows, data)}
	}
	return Frame{
		Type:      MessageCompressedOutput,
		SessionID: EncodeSessionID(sessionID),
		Payload:   EncodeCompressedPayload(cols, rows, len(data), buf.Bytes()),
	}
}

// BroadcastSessionState notifies the client a session was created or
// closed.
func (c *Client) BroadcastSessionState(sessionID string, created bool) {
	state := SessionStateClosed
	if created {
		state = SessionStateCreated
	}
	c.enqueue(Frame{Type: MessageSessionState, SessionID: EncodeSessionID(sessionID), Payload: []byte{state}})
}

// attachAndRead performs the attach handshake then runs the inbound read
// pump for the lifetime of the connection.
func (c *Client) attachAndRead() {
	defer c.wg.Done()
	defer c.Close()

	c.enqueue(Frame{Type: MessageAttachInit, Payload: []byte(c.id)})
	c.streamAllBuffers()

	for {
		if c.ctx.Err() != nil {
			return
		}
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		frame, err := DecodeFrame(raw)
		if err != nil {
			slog.Warn("[mux] malformed inbound frame, ignoring", "clientId", c.id, "error", err)
			continue
		}
		c.handleInbound(frame)
		c.maybeResync()
	}
}

func (c *Client) handleInbound(frame Frame) {
	sessionID := DecodeSessionID(frame.SessionID)
	switch frame.Type {
	case MessageInput:
		c.source.SendInput(sessionID, frame.Payload)
	case MessageResize:
		cols, rows, err := DecodeResizePayload(frame.Payload)
		if err != nil {
			slog.Warn("[mux] malformed resize frame", "sessionId", sessionID, "error", err)
			return
		}
		c.source.Resize(sessionID, cols, rows)
	case MessageSetName:
		c.source.SetName(sessionID, string(frame.Payload))
	case MessageBufferRequest:
		c.streamBuffer(sessionID)
	case MessageActiveHint:
		c.activeMu.Lock()
		c.active = sessionID
		c.activeMu.Unlock()
	default:
		slog.Debug("[mux] unexpected inbound frame type", "type", frame.Type, "clientId", c.id)
	}
}

// maybeResync runs after each inbound message (the quiet moments, from the
// client's perspective): if the drop counter is non-zero, clear the client
// and replay every session's current buffer.
func (c *Client) maybeResync() {
	if c.queue.swapDropped() == 0 {
		return
	}
	c.enqueue(Frame{Type: MessageResync, SessionID: ZeroSessionID})
	c.streamAllBuffers()
}

// streamAllBuffers walks every known session and streams its buffer in
// resyncChunkSize chunks, used by both the attach handshake and resync.
func (c *Client) streamAllBuffers() {
	for _, id := range c.source.Sessions() {
		c.streamBuffer(id)
	}
}

func (c *Client) streamBuffer(sessionID string) {
	info, ok := c.source.Info(sessionID)
	if !ok {
		return
	}
	buf, err := c.source.Buffer(sessionID)
	if err != nil {
		slog.Debug("[mux] buffer snapshot failed during stream", "sessionId", sessionID, "error", err)
		return
	}
	for len(buf) > 0 {
		n := resyncChunkSize
		if n > len(buf) {
			n = len(buf)
		}
		chunk := buf[:n]
		buf = buf[n:]
		before := c.queue.peekDropped()
		c.enqueue(outputFrame(sessionID, info.Cols, info.Rows, chunk))
		// If this chunk was itself dropped (queue still full), the resync
		// for this session aborts; the client can BufferRequest it again
		// later.
		if c.queue.peekDropped() != before {
			return
		}
	}
}

// writeLoop is the single writer draining the queue to the socket under
// writeMu.
func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			c.queue.drain()
			return
		case <-c.queue.notify:
			for {
				frame, ok := c.queue.pop()
				if !ok {
					break
				}
				if !c.write(frame) {
					return
				}
			}
		}
	}
}

func (c *Client) write(frame Frame) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		c.Close()
		return false
	}
	raw := EncodeFrame(frame)
	err := c.conn.WriteMessage(websocket.BinaryMessage, raw)
	_ = c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		slog.Debug("[mux] write failed, closing client", "clientId", c.id, "error", err)
		c.Close()
		return false
	}
	return true
}

func (c *Client) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			_ = c.conn.SetWriteDeadline(time.Time{})
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}
