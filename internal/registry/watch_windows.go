//go:build windows

package registry

// WatchEndpoints is a no-op on Windows: named pipes have no directory entry
// fsnotify (or any other ReadDirectoryChangesW-based watcher) can observe,
// so externally-caused removal is detected only by the per-session
// heartbeat and the next Discover sweep.
func (r *Registry) WatchEndpoints(stop <-chan struct{}) {
	<-stop
}
