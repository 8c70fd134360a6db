// Package procutil provides cross-platform process utilities: liveness
// probing and termination by pid (discovery's stale-endpoint cleanup), and
// HideWindow, which prevents console window flash on Windows when launching
// PtyHost or shell children via exec.Command.
package procutil
