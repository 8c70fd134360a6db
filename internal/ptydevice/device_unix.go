//go:build !windows

package ptydevice

import (
	"errors"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// unixBackend wraps the *os.File master returned by creack/pty.
type unixBackend struct {
	ptmx *os.File
	pid  int
}

func (b *unixBackend) Read(p []byte) (int, error)  { return b.ptmx.Read(p) }
func (b *unixBackend) Write(p []byte) (int, error) { return b.ptmx.Write(p) }
func (b *unixBackend) Close() error                { return b.ptmx.Close() }
func (b *unixBackend) Pid() int                    { return b.pid }

func (b *unixBackend) Resize(cols, rows int) error {
	return pty.Setsize(b.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// ForegroundPID returns the process group id currently owning the
// controlling terminal, i.e. the foreground job.
func (b *unixBackend) ForegroundPID() (int, error) {
	return unix.IoctlGetInt(int(b.ptmx.Fd()), unix.TIOCGPGRP)
}

// open launches a PTY-backed shell using github.com/creack/pty. Falls back
// to pipe mode if the host has no PTY facility (pty.ErrUnsupported).
func open(cfg Config) (*Device, error) {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}
	if cfg.Columns <= 0 {
		cfg.Columns = defaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultRows
	}

	// SECURITY: cfg.Shell and cfg.Args come from the PtyHost CLI flags
	// (--shellpath and the arguments after "--", parsed once at process
	// start), not from untrusted browser
	// input forwarded at runtime.
	cmd := exec.Command(cfg.Shell, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cfg.Columns),
		Rows: uint16(cfg.Rows),
	})
	if err == nil {
		return &Device{
			cmd: cmd,
			backend: &unixBackend{
				ptmx: ptmx,
				pid:  cmd.Process.Pid,
			},
		}, nil
	}
	if !errors.Is(err, pty.ErrUnsupported) {
		return nil, err
	}
	return startPipeMode(cfg)
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
