//go:build !windows

package registry

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchEndpoints watches the Unix socket directory for externally-caused
// endpoint removal (a PtyHost crashing between heartbeats) and reaps the
// matching registry entry immediately rather than waiting on that session's
// own 5s heartbeat to notice. Runs until stop is closed; best-effort, a
// watcher setup failure only logs (discovery and the per-session heartbeat
// remain the source of truth).
func (r *Registry) WatchEndpoints(stop <-chan struct{}) {
	fe, ok := r.opts.Enumerator.(FileEnumerator)
	if !ok {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("[registry] endpoint watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(fe.Dir); err != nil {
		slog.Warn("[registry] failed to watch endpoint directory", "dir", fe.Dir, "error", err)
		return
	}

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.reapByEndpointFile(filepath.Base(ev.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("[registry] endpoint watcher error", "error", err)
		}
	}
}

// reapByEndpointFile removes the registry entry whose endpoint socket file
// just vanished, unless it was already removed by an explicit Close (the
// common case: Close's own cleanup races this event harmlessly).
func (r *Registry) reapByEndpointFile(name string) {
	m := endpointPattern.FindStringSubmatch(name)
	if m == nil {
		return
	}
	sessionID := m[1]

	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok || e.Lifecycle == LifecycleClosed {
		return
	}

	slog.Info("[registry] endpoint vanished outside Close, reaping session", "sessionId", sessionID)
	_ = r.Close(sessionID)
}
