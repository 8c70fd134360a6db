//go:build !windows

package registry

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// applyIdentity sets Credential.Uid/Gid so the spawned PtyHost (and the
// shell it execs) runs as identity instead of inheriting an elevated
// WebServer's user. Empty identity means "same user as the WebServer", the
// default for the non-privileged deployment.
func applyIdentity(cmd *exec.Cmd, identity string) error {
	if identity == "" {
		return nil
	}
	u, err := user.Lookup(identity)
	if err != nil {
		return err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
	return nil
}
