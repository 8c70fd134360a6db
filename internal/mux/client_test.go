package mux

import (
	"context"
	"sync"
	"testing"
	"time"

	"midterm/internal/ipc"
)

type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	inbound  chan []byte
	closed   bool
	closeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.inbound
	if !ok {
		return 0, nil, errClosedConn
	}
	return 2, msg, nil // websocket.BinaryMessage == 2
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadLimit(int64)               {}
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

type stubErr string

func (e stubErr) Error() string { return string(e) }

const errClosedConn = stubErr("mux: test conn closed")

type fakeSource struct {
	mu       sync.Mutex
	infos    map[string]ipc.SessionInfo
	buffers  map[string][]byte
	inputs   []string
	resizes  []string
	setNames map[string]string
}

func newFakeSource() *fakeSource {
	return &fakeSource{infos: map[string]ipc.SessionInfo{}, buffers: map[string][]byte{}, setNames: map[string]string{}}
}

func (s *fakeSource) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.infos))
	for id := range s.infos {
		out = append(out, id)
	}
	return out
}

func (s *fakeSource) Info(id string) (ipc.SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[id]
	return info, ok
}

func (s *fakeSource) SendInput(id string, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, id)
}

func (s *fakeSource) Resize(id string, _, _ int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, id)
	return true
}

func (s *fakeSource) SetName(id string, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNames[id] = name
}

func (s *fakeSource) Buffer(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffers[id], nil
}

func waitForFrames(t *testing.T, conn *fakeConn, min int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f := conn.frames(); len(f) >= min {
			return f
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, got %d", min, len(conn.frames()))
	return nil
}

func TestAttachHandshakeSendsInitThenBuffers(t *testing.T) {
	source := newFakeSource()
	source.infos["abcd1234"] = ipc.SessionInfo{ID: "abcd1234", Cols: 80, Rows: 24}
	source.buffers["abcd1234"] = []byte("hello")

	conn := newFakeConn()
	c := NewClient(context.Background(), conn, source)
	defer c.Close()

	frames := waitForFrames(t, conn, 2)
	init, err := DecodeFrame(frames[0])
	if err != nil || init.Type != MessageAttachInit {
		t.Fatalf("expected AttachInit first, got %+v err=%v", init, err)
	}
	out, err := DecodeFrame(frames[1])
	if err != nil || out.Type != MessageOutput {
		t.Fatalf("expected Output second, got %+v err=%v", out, err)
	}
	_, _, data, err := DecodeOutputPayload(out.Payload)
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected output payload: %q err=%v", data, err)
	}
}

func TestInputRoutedToSource(t *testing.T) {
	source := newFakeSource()
	conn := newFakeConn()
	c := NewClient(context.Background(), conn, source)
	defer c.Close()

	waitForFrames(t, conn, 1) // attach init

	frame := EncodeFrame(Frame{Type: MessageInput, SessionID: EncodeSessionID("abcd1234"), Payload: []byte("ls\n")})
	conn.inbound <- frame

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		source.mu.Lock()
		n := len(source.inputs)
		source.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.inputs) != 1 || source.inputs[0] != "abcd1234" {
		t.Fatalf("expected input routed to abcd1234, got %v", source.inputs)
	}
}

func TestSetNameRoutedToSource(t *testing.T) {
	source := newFakeSource()
	conn := newFakeConn()
	c := NewClient(context.Background(), conn, source)
	defer c.Close()

	waitForFrames(t, conn, 1) // attach init

	frame := EncodeFrame(Frame{Type: MessageSetName, SessionID: EncodeSessionID("abcd1234"), Payload: []byte("build-shell")})
	conn.inbound <- frame

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		source.mu.Lock()
		name, ok := source.setNames["abcd1234"]
		source.mu.Unlock()
		if ok && name == "build-shell" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	if source.setNames["abcd1234"] != "build-shell" {
		t.Fatalf("expected SetName routed to abcd1234 with name build-shell, got %v", source.setNames)
	}
}

func TestQueueDropsLiteralOldestOnOverflow(t *testing.T) {
	q := newFrameQueue(2)
	q.push(Frame{Type: MessageOutput, SessionID: EncodeSessionID("aaaaaaaa")})
	q.push(Frame{Type: MessageOutput, SessionID: EncodeSessionID("bbbbbbbb")})
	// Queue full; pushing a third frame must drop the oldest ("aaaaaaaa"),
	// regardless of any foreground hint.
	q.push(Frame{Type: MessageOutput, SessionID: EncodeSessionID("cccccccc")})

	f1, _ := q.pop()
	f2, _ := q.pop()
	if DecodeSessionID(f1.SessionID) != "bbbbbbbb" || DecodeSessionID(f2.SessionID) != "cccccccc" {
		t.Fatalf("expected oldest frame dropped, got %s, %s", DecodeSessionID(f1.SessionID), DecodeSessionID(f2.SessionID))
	}
	if q.peekDropped() != 1 {
		t.Fatalf("expected drop counter 1, got %d", q.peekDropped())
	}
}

func TestResyncAfterDrops(t *testing.T) {
	source := newFakeSource()
	source.infos["abcd1234"] = ipc.SessionInfo{ID: "abcd1234", Cols: 80, Rows: 24}
	source.buffers["abcd1234"] = []byte("scrollback")

	conn := newFakeConn()
	c := NewClient(context.Background(), conn, source)
	defer c.Close()

	waitForFrames(t, conn, 2) // attach init + initial buffer

	// Simulate a drop episode, then poke the client with any inbound message:
	// the next quiet moment must produce an all-zero Resync followed by a
	// fresh buffer replay.
	c.queue.mu.Lock()
	c.queue.dropped = 3
	c.queue.mu.Unlock()
	conn.inbound <- EncodeFrame(Frame{Type: MessageActiveHint, SessionID: EncodeSessionID("abcd1234")})

	frames := waitForFrames(t, conn, 4)
	var sawResync, sawReplay bool
	for _, raw := range frames[2:] {
		f, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		switch f.Type {
		case MessageResync:
			if f.SessionID != ZeroSessionID {
				t.Fatalf("expected all-zero sessionId on Resync, got %q", DecodeSessionID(f.SessionID))
			}
			sawResync = true
		case MessageOutput:
			if !sawResync {
				t.Fatal("buffer replay arrived before the Resync frame")
			}
			_, _, data, err := DecodeOutputPayload(f.Payload)
			if err != nil || string(data) != "scrollback" {
				t.Fatalf("unexpected replay payload %q err=%v", data, err)
			}
			sawReplay = true
		}
	}
	if !sawResync || !sawReplay {
		t.Fatalf("resync=%v replay=%v, want both", sawResync, sawReplay)
	}
	if c.queue.peekDropped() != 0 {
		t.Fatalf("expected drop counter reset, got %d", c.queue.peekDropped())
	}
}

func TestCompressionThreshold(t *testing.T) {
	small := outputFrame("abcd1234", 80, 24, make([]byte, 100))
	if small.Type != MessageOutput {
		t.Fatalf("expected small payload to stay uncompressed, got type %v", small.Type)
	}
	big := outputFrame("abcd1234", 80, 24, make([]byte, 4096))
	if big.Type != MessageCompressedOutput {
		t.Fatalf("expected large payload to compress, got type %v", big.Type)
	}
}
