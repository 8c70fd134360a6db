//go:build windows

package ptyhost

import (
	"context"
	"time"

	"midterm/internal/ipc"
)

// processMonitor is a minimal stand-in on Windows: ConPTY does not expose a
// POSIX-style controlling-terminal foreground job, and a full NT
// process-tree walk would need CreateToolhelp32Snapshot plumbing that is not
// wired up yet. The monitor still emits a single synthetic start event for
// the shell root pid so ProcessEvent consumers see a consistent first frame.
type processMonitor struct {
	rootPid   int
	onProcess func(ipc.ProcessEvent)
}

func newProcessMonitor(rootPid int, _ func() (int, error), onProcess func(ipc.ProcessEvent), _ func(ipc.ForegroundInfo)) *processMonitor {
	return &processMonitor{rootPid: rootPid, onProcess: onProcess}
}

func (m *processMonitor) run(ctx context.Context) {
	if m.rootPid > 0 {
		m.onProcess(ipc.ProcessEvent{Type: ipc.ProcessEventStart, Pid: m.rootPid, Ts: time.Now()})
	}
	<-ctx.Done()
}
