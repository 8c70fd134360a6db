//go:build !windows

package ptyhost

import (
	"bytes"
	"os"
	"testing"
	"time"

	"midterm/internal/ipc"
	"midterm/internal/transport"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := New(Config{
		SessionID: "t" + t.Name(),
		HostPid:   os.Getpid(),
		ShellKind: "sh",
		ShellPath: "/bin/sh",
		Cols:      80,
		Rows:      24,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go h.Serve()
	t.Cleanup(func() { h.Close() })
	return h
}

func dialTestHost(t *testing.T, h *Host) transport.Transport {
	t.Helper()
	conn, err := transport.Dial(h.cfg.SessionID, h.cfg.HostPid, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandshakeThenEcho(t *testing.T) {
	h := newTestHost(t)
	conn := dialTestHost(t, h)

	if err := ipc.WriteFrame(conn, ipc.Frame{Type: ipc.MessageGetInfo}); err != nil {
		t.Fatalf("WriteFrame GetInfo: %v", err)
	}
	info := readInfo(t, conn)
	if !info.IsRunning || info.Cols != 80 || info.Rows != 24 {
		t.Fatalf("unexpected info: %+v", info)
	}

	if err := ipc.WriteFrame(conn, ipc.Frame{Type: ipc.MessageInput, Payload: []byte("echo hi\n")}); err != nil {
		t.Fatalf("WriteFrame Input: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var seen []byte
	for time.Now().Before(deadline) && !bytes.Contains(seen, []byte("hi")) {
		frame, err := ipc.ReadFrame(conn)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if frame.Type != ipc.MessageOutput {
			continue
		}
		_, _, data, err := ipc.DecodeOutput(frame.Payload)
		if err != nil {
			t.Fatalf("DecodeOutput: %v", err)
		}
		seen = append(seen, data...)
	}
	if !bytes.Contains(seen, []byte("hi")) {
		t.Fatalf("expected output to contain %q, got %q", "hi", seen)
	}
}

func TestResizeIsAckedAndUpdatesInfo(t *testing.T) {
	h := newTestHost(t)
	conn := dialTestHost(t, h)

	mustFrame(t, conn, ipc.Frame{Type: ipc.MessageGetInfo})
	readInfo(t, conn)

	if err := ipc.WriteFrame(conn, ipc.Frame{Type: ipc.MessageResize, Payload: ipc.EncodeResize(132, 40)}); err != nil {
		t.Fatalf("WriteFrame Resize: %v", err)
	}
	frame, err := readReply(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != ipc.MessageResizeAck {
		t.Fatalf("expected ResizeAck, got %v", frame.Type)
	}

	mustFrame(t, conn, ipc.Frame{Type: ipc.MessageGetInfo})
	info := readInfo(t, conn)
	if info.Cols != 132 || info.Rows != 40 {
		t.Fatalf("got cols=%d rows=%d, want 132x40", info.Cols, info.Rows)
	}
}

func TestSetNameRoundTrip(t *testing.T) {
	h := newTestHost(t)
	conn := dialTestHost(t, h)

	mustFrame(t, conn, ipc.Frame{Type: ipc.MessageSetName, Payload: []byte("build-shell")})
	frame, err := readReply(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != ipc.MessageSetNameAck {
		t.Fatalf("expected SetNameAck, got %v", frame.Type)
	}

	mustFrame(t, conn, ipc.Frame{Type: ipc.MessageGetInfo})
	info := readInfo(t, conn)
	if info.DisplayName == nil || *info.DisplayName != "build-shell" {
		t.Fatalf("got displayName %v, want %q", info.DisplayName, "build-shell")
	}
}

func TestSecondClientReplacesFirst(t *testing.T) {
	h := newTestHost(t)
	first := dialTestHost(t, h)
	mustFrame(t, first, ipc.Frame{Type: ipc.MessageGetInfo})
	readInfo(t, first)

	second := dialTestHost(t, h)
	mustFrame(t, second, ipc.Frame{Type: ipc.MessageGetInfo})
	readInfo(t, second)

	// The first connection should now be closed by the host.
	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	if d, ok := first.(deadliner); ok {
		d.SetReadDeadline(time.Now().Add(2 * time.Second))
	}
	if _, err := readReply(first); err == nil {
		t.Fatal("expected replaced client's transport to be closed")
	}
}

func TestShellExitReportsStateChangeAndExitCode(t *testing.T) {
	h, err := New(Config{
		SessionID: "t" + t.Name(),
		HostPid:   os.Getpid(),
		ShellKind: "sh",
		ShellPath: "/bin/sh",
		Args:      []string{"-c", "exit 7"},
		Cols:      80,
		Rows:      24,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go h.Serve()
	t.Cleanup(func() { h.Close() })
	conn := dialTestHost(t, h)

	mustFrame(t, conn, ipc.Frame{Type: ipc.MessageGetInfo})
	readInfo(t, conn)

	// Drain until the exit's StateChange arrives. If the shell exited before
	// the handshake, the push had no attached client to land on, so a read
	// timeout here just means we can go straight to GetInfo.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		frame, err := ipc.ReadFrame(conn)
		if err != nil || frame.Type == ipc.MessageStateChange {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	mustFrame(t, conn, ipc.Frame{Type: ipc.MessageGetInfo})
	info := readInfo(t, conn)
	if info.IsRunning {
		t.Fatalf("expected isRunning=false after shell exit")
	}
	if info.ExitCode == nil || *info.ExitCode != 7 {
		t.Fatalf("expected exitCode=7, got %v", info.ExitCode)
	}
}

func mustFrame(t *testing.T, conn transport.Transport, f ipc.Frame) {
	t.Helper()
	if err := ipc.WriteFrame(conn, f); err != nil {
		t.Fatalf("WriteFrame %v: %v", f.Type, err)
	}
}

func readInfo(t *testing.T, conn transport.Transport) ipc.SessionInfo {
	t.Helper()
	frame, err := readReply(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != ipc.MessageInfo {
		t.Fatalf("expected Info, got %v", frame.Type)
	}
	info, err := ipc.DecodeInfo(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeInfo: %v", err)
	}
	return info
}

// readReply reads the next frame that is not an unsolicited host push
// (Output, StateChange, ProcessEvent, ForegroundChange); the host may push
// those between a request and its reply.
func readReply(conn transport.Transport) (ipc.Frame, error) {
	for {
		frame, err := ipc.ReadFrame(conn)
		if err != nil {
			return frame, err
		}
		switch frame.Type {
		case ipc.MessageOutput, ipc.MessageStateChange, ipc.MessageProcessEvent, ipc.MessageForegroundChange:
			continue
		}
		return frame, nil
	}
}
