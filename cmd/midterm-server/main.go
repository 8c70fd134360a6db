// Command midterm-server is the WebServer process: it owns the
// SessionRegistry, runs startup Discovery over any endpoints left behind by a
// previous run, and serves the browser-facing HTTP/WebSocket control plane.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"midterm/internal/activitylog"
	"midterm/internal/config"
	"midterm/internal/registry"
	"midterm/internal/sessionlog"
	"midterm/internal/singleinstance"
	"midterm/internal/webserver"
)

func main() {
	configPath := flag.String("config", "", "path to server.yaml (defaults to the platform config directory)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.EnsureFile(path)
	if err != nil {
		slog.Error("[midterm-server] failed to load config", "path", path, "error", err)
		os.Exit(1)
	}

	var activityLog *activitylog.Log
	if cfg.ActivityLogPath != "" {
		activityLog, err = activitylog.Open(cfg.ActivityLogPath)
		if err != nil {
			slog.Error("[midterm-server] failed to open activity log", "path", cfg.ActivityLogPath, "error", err)
			os.Exit(1)
		}
		defer activityLog.Close()
	}
	setupLogging(cfg.LogLevel, activityLog)

	lockPath := singleinstance.DefaultMutexName()
	lock, err := singleinstance.TryLock(lockPath)
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		slog.Error("[midterm-server] another instance is already running", "lock", lockPath)
		os.Exit(1)
	}
	if err != nil {
		slog.Warn("[midterm-server] single-instance lock unavailable, proceeding without it", "error", err)
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("[midterm-server] lock release failed", "error", releaseErr)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(registry.Options{
		PtyHostPath: hostPath(cfg.PtyHostPath),
		Spawner:     registry.OSSpawner{},
		Enumerator:  registry.NewFileEnumerator(),
		ActivityLog: activityLog,
	})

	srv := webserver.New(webserver.Options{
		Registry:     reg,
		Gate:         authGate(cfg.SharedCredential),
		ActivityLog:  activityLog,
		DefaultShell: cfg.DefaultShell,
	})
	reg.SetOutputSink(srv.Hub().BroadcastOutput)
	reg.SetStateChangeSink(func(sessionID string) {
		// A session still present in the registry is announced as live
		// (covers discovery adoption); one that vanished was closed or reaped.
		_, ok := reg.Get(sessionID)
		srv.Hub().BroadcastSessionState(sessionID, ok)
	})

	if err := reg.Discover(ctx); err != nil {
		slog.Warn("[midterm-server] startup discovery failed", "error", err)
	}

	watchStop := make(chan struct{})
	if runtime.GOOS != "windows" {
		go reg.WatchEndpoints(watchStop)
	}
	defer close(watchStop)

	slog.Info("[midterm-server] starting", "addr", cfg.ListenAddr, "configPath", path)
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		slog.Error("[midterm-server] server exited with error", "error", err)
		os.Exit(1)
	}
}

// hostPath resolves the midterm-host binary path, defaulting to a sibling of
// the currently running executable when the config leaves it unset.
func hostPath(configured string) string {
	if configured != "" {
		return configured
	}
	name := "midterm-host"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	self, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(self), name)
}

func authGate(sharedCredential string) webserver.AuthGate {
	if sharedCredential == "" {
		return webserver.OpenGate{}
	}
	return webserver.SharedCredentialGate{Credential: sharedCredential}
}

// setupLogging installs the default slog handler at level, teeing records to
// activityLog (when configured) via sessionlog.TeeHandler so operator-visible
// log lines also land in the queryable session history.
func setupLogging(level string, activityLog *activitylog.Log) {
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	if activityLog == nil {
		slog.SetDefault(slog.New(base))
		return
	}
	tee := sessionlog.NewTeeHandler(base, slog.LevelInfo, activityLog.Callback())
	slog.SetDefault(slog.New(tee))
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
