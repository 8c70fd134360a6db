//go:build !windows

package ptydevice

import (
	"bytes"
	"testing"
	"time"
)

func TestOpenWriteReadKill(t *testing.T) {
	dev, err := Open(Config{Shell: "/bin/sh", Args: []string{"-c", "cat"}, Columns: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Kill()

	if dev.Pid() == 0 {
		t.Fatal("expected non-zero pid")
	}

	if _, err := dev.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	for time.Now().Before(deadline) && !bytes.Contains(got, []byte("hello")) {
		n, rerr := dev.Read(buf)
		if n > 0 {
			got = append(got, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	if !bytes.Contains(got, []byte("hello")) {
		t.Fatalf("expected echoed output to contain %q, got %q", "hello", got)
	}
}

func TestResizeRejectsInvalidSize(t *testing.T) {
	dev, err := Open(Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 5"}, Columns: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Kill()

	if err := dev.Resize(0, 24); err == nil {
		t.Fatal("expected error for zero cols")
	}
	if err := dev.Resize(100, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	dev, err := Open(Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := dev.Kill(); err != nil {
		t.Fatalf("first Kill: %v", err)
	}
	if err := dev.Kill(); err != nil {
		t.Fatalf("second Kill should be a no-op returning cached error: %v", err)
	}
	if !dev.Closed() {
		t.Fatal("expected Closed() true after Kill")
	}
}

func TestWaitReportsExitCode(t *testing.T) {
	dev, err := Open(Config{Shell: "/bin/sh", Args: []string{"-c", "exit 3"}, Columns: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Kill()

	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, rerr := dev.Read(buf); rerr != nil {
			break
		}
	}

	code, err := dev.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 3 {
		t.Fatalf("got exit code %d, want 3", code)
	}
}

func TestWriteAfterKillFails(t *testing.T) {
	dev, err := Open(Config{Shell: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dev.Kill()
	if _, err := dev.Write([]byte("x")); err == nil {
		t.Fatal("expected error writing to killed device")
	}
}
