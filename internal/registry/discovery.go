package registry

import (
	"context"
	"log/slog"

	"midterm/internal/activitylog"
	"midterm/internal/hostclient"
	"midterm/internal/ipc"
	"midterm/internal/procutil"
)

// Discover runs the WebServer startup sweep: enumerate every
// endpoint left behind by a previous WebServer process, and for each one
// either adopt it (compatible version, live PID, successful handshake),
// remove it without a kill (dead PID), or kill and remove it (live PID but
// unreachable, failed handshake or incompatible version; the kill is recorded
// as a discovery-kill event). Adopted sessions are inserted into the
// registry exactly as CreateSession would leave them.
func (r *Registry) Discover(ctx context.Context) error {
	endpoints, err := r.opts.Enumerator.List()
	if err != nil {
		return err
	}
	for _, ep := range endpoints {
		r.discoverOne(ctx, ep)
	}
	return nil
}

func (r *Registry) discoverOne(ctx context.Context, ep Endpoint) {
	if !procutil.IsAlive(ep.HostPid) {
		slog.Info("[registry] discovery: removing stale endpoint (dead pid)", "sessionId", ep.SessionID, "pid", ep.HostPid)
		r.removeEndpoint(ep)
		return
	}

	client := hostclient.New(hostclient.Config{
		SessionID: ep.SessionID,
		HostPid:   ep.HostPid,
		Clock:     r.opts.Clock,
		Callbacks: r.callbacksFor(ep.SessionID),
	})

	if err := client.Connect(discoveryConnectTimeout); err != nil {
		slog.Info("[registry] discovery: endpoint unreachable, treating as stale", "sessionId", ep.SessionID, "pid", ep.HostPid, "error", err)
		r.killStale(ep)
		return
	}
	client.StartReadLoop()

	info, err := client.GetInfo()
	if err != nil {
		slog.Info("[registry] discovery: handshake failed, treating as stale", "sessionId", ep.SessionID, "pid", ep.HostPid, "error", err)
		client.Close()
		r.killStale(ep)
		return
	}

	if !ipc.CompatibleVersion(info.TTYHostVersion, ipc.Version, ipc.MinCompatibleVersion) {
		slog.Warn("[registry] discovery: incompatible host version, terminating", "sessionId", ep.SessionID, "pid", ep.HostPid, "hostVersion", info.TTYHostVersion)
		client.Close()
		r.killStale(ep)
		return
	}

	slog.Info("[registry] discovery: adopted existing session", "sessionId", ep.SessionID, "pid", ep.HostPid)
	r.setEntry(ep.SessionID, &Entry{Client: client, Info: info, Lifecycle: LifecycleReady})
	r.recordEvent(ep.SessionID, activitylog.EventDiscoveryAdopt, "info", "discovery adopted existing session")
	r.notify(ep.SessionID)
}

func (r *Registry) killStale(ep Endpoint) {
	if procutil.IsAlive(ep.HostPid) {
		if err := killPid(ep.HostPid); err != nil {
			slog.Debug("[registry] failed to kill stale host", "pid", ep.HostPid, "error", err)
		}
		r.recordEvent(ep.SessionID, activitylog.EventDiscoveryKilled, "warn", "discovery terminated incompatible or unreachable host")
	}
	r.removeEndpoint(ep)
}

func (r *Registry) removeEndpoint(ep Endpoint) {
	if err := r.opts.Enumerator.Remove(ep.Name); err != nil {
		slog.Debug("[registry] failed to remove endpoint", "name", ep.Name, "error", err)
	}
}

func killPid(pid int) error {
	return procutil.Kill(pid)
}
