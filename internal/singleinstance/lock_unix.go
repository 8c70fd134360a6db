//go:build unix

package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"midterm/internal/userutil"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock holds an exclusive flock on a well-known lock file. Unlike a desktop
// app relying on OS window-activation semantics, a headless WebServer
// daemon has no other single-instance signal on Unix, so this is a real
// advisory lock rather than a no-op: the kernel releases it automatically
// if the holding process dies, matching the Windows named-mutex behavior.
type Lock struct {
	file *os.File
}

// TryLock attempts to acquire an exclusive, non-blocking flock on the file
// at path (typically DefaultMutexName()'s return value, despite the name —
// kept for API parity with the Windows implementation). Returns
// ErrAlreadyRunning if another process already holds the lock.
func TryLock(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("lock file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("singleinstance: mkdir lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("singleinstance: open lock file %q: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("singleinstance: flock %q: %w", path, err)
	}
	return &Lock{file: f}, nil
}

// Release releases the flock and closes the file. Safe to call on a nil
// receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// sanitizeUsername replaces non-alphanumeric characters for use in a lock
// file name. Delegates to userutil.SanitizeUsername for shared normalization
// behavior with the Windows mutex-name implementation.
func sanitizeUsername(value string) string {
	return userutil.SanitizeUsername(value)
}

// DefaultMutexName returns the lock file path for single-instance
// enforcement, one per OS user (like the Windows named mutex, whose name is
// also per user).
func DefaultMutexName() string {
	username := strings.TrimSpace(os.Getenv("USER"))
	if username == "" {
		if current, err := user.Current(); err == nil {
			username = current.Username
		}
	}
	return filepath.Join(os.TempDir(), "midterm-"+sanitizeUsername(username)+".lock")
}
