package hostclient

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"midterm/internal/ipc"
	"midterm/internal/transport"
)

// pipeTransport adapts a net.Conn (from net.Pipe) into transport.Transport
// for tests, with an always-alive ProbeAlive by default.
type pipeTransport struct {
	net.Conn
	alive func() bool
}

func (p *pipeTransport) ProbeAlive() bool {
	if p.alive != nil {
		return p.alive()
	}
	return true
}

// fakeHost serves one HostClient connection: it completes the GetInfo
// handshake and echoes ResizeAck/other acks so client tests can exercise the
// real request/response path without a real PtyHost process.
func fakeHost(t *testing.T, server net.Conn, info ipc.SessionInfo) {
	t.Helper()
	go func() {
		for {
			frame, err := ipc.ReadFrame(server)
			if err != nil {
				return
			}
			switch frame.Type {
			case ipc.MessageGetInfo:
				payload, _ := ipc.EncodeInfo(info)
				ipc.WriteFrame(server, ipc.Frame{Type: ipc.MessageInfo, Payload: payload})
			case ipc.MessageResize:
				ipc.WriteFrame(server, ipc.Frame{Type: ipc.MessageResizeAck})
			case ipc.MessageGetBuffer:
				ipc.WriteFrame(server, ipc.Frame{Type: ipc.MessageBuffer, Payload: []byte("snapshot")})
			case ipc.MessageSetName:
				ipc.WriteFrame(server, ipc.Frame{Type: ipc.MessageSetNameAck})
			case ipc.MessageClose:
				ipc.WriteFrame(server, ipc.Frame{Type: ipc.MessageCloseAck})
				return
			case ipc.MessageInput:
				// fire-and-forget, no response
			}
		}
	}()
}

func newTestClient(t *testing.T, dial DialFunc, cb Callbacks) *HostClient {
	t.Helper()
	hc := New(Config{
		SessionID: "abcd1234",
		HostPid:   1234,
		Dial:      dial,
		Callbacks: cb,
	})
	t.Cleanup(func() { hc.Close() })
	return hc
}

func singleDial(server, client net.Conn) DialFunc {
	used := false
	return func(_ context.Context, _ time.Duration) (transport.Transport, error) {
		if used {
			return nil, context.DeadlineExceeded
		}
		used = true
		return &pipeTransport{Conn: client}, nil
	}
}

func TestGetInfoRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	info := ipc.SessionInfo{ID: "abcd1234", Cols: 80, Rows: 24, IsRunning: true}
	fakeHost(t, server, info)

	hc := newTestClient(t, singleDial(server, client), Callbacks{})
	if err := hc.Connect(time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	hc.StartReadLoop()

	got, err := hc.GetInfo()
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if got.Cols != 80 || got.Rows != 24 {
		t.Fatalf("unexpected info: %+v", got)
	}
}

func TestResizeAndBuffer(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	fakeHost(t, server, ipc.SessionInfo{ID: "abcd1234"})

	hc := newTestClient(t, singleDial(server, client), Callbacks{})
	if err := hc.Connect(time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	hc.StartReadLoop()

	if ok := hc.Resize(132, 40); !ok {
		t.Fatalf("resize should have acked")
	}
	buf, err := hc.GetBuffer()
	if err != nil {
		t.Fatalf("GetBuffer: %v", err)
	}
	if string(buf) != "snapshot" {
		t.Fatalf("unexpected buffer: %q", buf)
	}
}

func TestSendInputFireAndForget(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	fakeHost(t, server, ipc.SessionInfo{ID: "abcd1234"})

	hc := newTestClient(t, singleDial(server, client), Callbacks{})
	if err := hc.Connect(time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	hc.StartReadLoop()

	hc.SendInput([]byte("echo hi\n"))
	// No panic, no error surfaced: SendInput is fire-and-forget.
}

func TestReconnectEmitsDisconnectedThenReconnected(t *testing.T) {
	server1, client1 := net.Pipe()
	server2, client2 := net.Pipe()
	defer server2.Close()
	fakeHost(t, server1, ipc.SessionInfo{ID: "abcd1234"})
	fakeHost(t, server2, ipc.SessionInfo{ID: "abcd1234"})

	conns := []net.Conn{client1, client2}
	var dialMu sync.Mutex
	dial := func(_ context.Context, _ time.Duration) (transport.Transport, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		if len(conns) == 0 {
			return nil, context.DeadlineExceeded
		}
		c := conns[0]
		conns = conns[1:]
		return &pipeTransport{Conn: c}, nil
	}

	events := make(chan string, 8)
	hc := newTestClient(t, dial, Callbacks{
		OnDisconnected: func(string) { events <- "disconnected" },
		OnReconnected:  func(string) { events <- "reconnected" },
	})
	if err := hc.Connect(time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	hc.StartReadLoop()

	// Kill the first transport out from under the read loop.
	server1.Close()

	wantEvent := func(want string) {
		t.Helper()
		select {
		case got := <-events:
			if got != want {
				t.Fatalf("event = %q, want %q", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	wantEvent("disconnected")
	wantEvent("reconnected")

	// The client is usable again over the second transport.
	if _, err := hc.GetInfo(); err != nil {
		t.Fatalf("GetInfo after reconnect: %v", err)
	}
	select {
	case got := <-events:
		t.Fatalf("unexpected extra event %q", got)
	default:
	}
}

func TestRequestUnavailableBeforeConnect(t *testing.T) {
	hc := New(Config{SessionID: "abcd1234", HostPid: 1})
	defer hc.Close()
	if _, err := hc.GetInfo(); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSingleOutstandingRequest(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	fakeHost(t, server, ipc.SessionInfo{ID: "abcd1234"})

	hc := newTestClient(t, singleDial(server, client), Callbacks{})
	if err := hc.Connect(time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	hc.StartReadLoop()

	done := make(chan struct{})
	go func() {
		hc.Resize(10, 10)
		close(done)
	}()
	<-done
	if _, err := hc.GetBuffer(); err != nil {
		t.Fatalf("GetBuffer after resize: %v", err)
	}
}
