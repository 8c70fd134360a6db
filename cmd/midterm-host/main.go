// Command midterm-host is the PtyHost process: one shell child, one PTY, one
// IPC listener, spawned and supervised by the WebServer (internal/registry).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"midterm/internal/ipc"
	"midterm/internal/ptyhost"
)

func main() {
	session := flag.String("session", "", "session id assigned by the WebServer")
	shellKind := flag.String("shell", "", "descriptive shell kind (e.g. bash, zsh, powershell)")
	shellPath := flag.String("shellpath", "", "path to the shell binary; empty resolves the platform default")
	cwd := flag.String("cwd", "", "working directory for the shell; empty uses the host process's own")
	cols := flag.Int("cols", 80, "initial terminal width")
	rows := flag.Int("rows", 24, "initial terminal height")
	logLevel := flag.String("loglevel", "info", "debug, info, warn, or error")
	flag.Parse()

	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(*logLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	if *session == "" {
		slog.Error("[midterm-host] --session is required")
		os.Exit(2)
	}

	host, err := ptyhost.New(ptyhost.Config{
		SessionID: *session,
		HostPid:   os.Getpid(),
		ShellKind: *shellKind,
		ShellPath: *shellPath,
		Args:      flag.Args(),
		Dir:       *cwd,
		Cols:      *cols,
		Rows:      *rows,
		LogLevel:  ipcLogLevel(*logLevel),
		LevelVar:  levelVar,
	})
	if err != nil {
		slog.Error("[midterm-host] failed to start session", "session", *session, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("[midterm-host] shutting down", "session", *session)
		if err := host.Close(); err != nil {
			slog.Warn("[midterm-host] close failed", "session", *session, "error", err)
		}
	}()

	slog.Info("[midterm-host] serving", "session", *session, "pid", os.Getpid(), "cols", *cols, "rows", *rows)
	if err := host.Serve(); err != nil {
		slog.Error("[midterm-host] serve exited with error", "session", *session, "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ipcLogLevel(level string) ipc.LogLevel {
	switch level {
	case "debug":
		return ipc.LogLevelDebug
	case "warn":
		return ipc.LogLevelWarn
	case "error":
		return ipc.LogLevelError
	default:
		return ipc.LogLevelInfo
	}
}
