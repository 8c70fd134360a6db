//go:build windows

package registry

import "os/exec"

// applyIdentity is a no-op on Windows: de-elevating to run as a different
// logged-in user requires a user token the WebServer does not hold in the
// default deployment. The WebServer simply runs PtyHost as its own user.
func applyIdentity(cmd *exec.Cmd, identity string) error {
	return nil
}
