//go:build !windows

package procutil

import (
	"os"
	"syscall"
)

// IsAlive reports whether pid names a live process, using a signal-0 probe
// (delivers no signal, only checks permission/existence).
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Kill sends SIGKILL to pid.
func Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGKILL)
}
