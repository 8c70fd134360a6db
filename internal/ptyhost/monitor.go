package ptyhost

import (
	"context"

	"midterm/internal/ipc"
)

// runMonitor drives the process/foreground tracking loop and translates its
// findings into ProcessEvent/ForegroundChange pushes to the attached client.
// The platform-specific walk lives in monitor_unix.go / monitor_windows.go.
func (h *Host) runMonitor(ctx context.Context) {
	rootPid := h.device.Pid()
	if rootPid == 0 {
		return
	}

	mon := newProcessMonitor(rootPid, h.device.ForegroundPID,
		func(ev ipc.ProcessEvent) {
			payload, err := ipc.EncodeProcessEvent(ev)
			if err != nil {
				return
			}
			h.pushToAttached(ipc.Frame{Type: ipc.MessageProcessEvent, Payload: payload})
		},
		func(fg ipc.ForegroundInfo) {
			h.infoMu.Lock()
			fgCopy := fg
			h.info.ForegroundProcess = &fgCopy
			if fg.Cwd != "" {
				cwd := fg.Cwd
				h.info.CurrentWorkingDirectory = &cwd
			}
			h.infoMu.Unlock()

			payload, err := ipc.EncodeForegroundInfo(fg)
			if err != nil {
				return
			}
			h.pushToAttached(ipc.Frame{Type: ipc.MessageForegroundChange, Payload: payload})
			h.emitStateChange()
		},
	)
	mon.run(ctx)
}
