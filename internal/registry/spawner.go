package registry

import (
	"context"
	"fmt"
	"os/exec"

	"midterm/internal/procutil"
)

// OSSpawner starts a midterm-host process via os/exec, the same mechanism
// ptydevice uses to start shells. The child is not placed in a new process
// group or session; it stays in the WebServer's own.
type OSSpawner struct{}

// Spawn launches argv[0] with argv[1:] as arguments. identity, when
// non-empty, is applied by applyIdentity: on Unix the process runs as that
// OS user; on Windows it is ignored (see spawner_unix.go /
// spawner_windows.go).
func (OSSpawner) Spawn(ctx context.Context, argv []string, identity string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("registry: empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	procutil.HideWindow(cmd)
	if err := applyIdentity(cmd, identity); err != nil {
		return 0, fmt.Errorf("registry: apply identity %q: %w", identity, err)
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// The host process is long-lived and tracked by pid from here on, not by
	// *exec.Cmd; release it so we don't leak a wait-status reaper goroutine.
	_ = cmd.Process.Release()
	return pid, nil
}
