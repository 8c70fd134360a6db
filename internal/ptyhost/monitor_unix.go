//go:build !windows

package ptyhost

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"midterm/internal/ipc"
)

const monitorInterval = 750 * time.Millisecond

type procSnapshot struct {
	ppid int
	name string
}

// processMonitor polls /proc every tick to derive the shell's descendant
// process tree and its current foreground job. A full re-walk per tick is
// simple to reason about and cheap at this interval; it trades the lower
// latency of an event-driven (netlink) approach for far less platform code.
type processMonitor struct {
	rootPid      int
	fgProbe      func() (int, error)
	onProcess    func(ipc.ProcessEvent)
	onForeground func(ipc.ForegroundInfo)
}

func newProcessMonitor(rootPid int, fgProbe func() (int, error), onProcess func(ipc.ProcessEvent), onForeground func(ipc.ForegroundInfo)) *processMonitor {
	return &processMonitor{rootPid: rootPid, fgProbe: fgProbe, onProcess: onProcess, onForeground: onForeground}
}

func (m *processMonitor) run(ctx context.Context) {
	known := make(map[int]procSnapshot)
	lastFg := -1

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.pollProcessTree(known)
		m.pollForeground(&lastFg)
	}
}

func (m *processMonitor) pollProcessTree(known map[int]procSnapshot) {
	current, err := descendants(m.rootPid)
	if err != nil {
		return
	}

	now := time.Now()
	for pid, snap := range current {
		prev, existed := known[pid]
		switch {
		case !existed:
			m.onProcess(ipc.ProcessEvent{Type: ipc.ProcessEventStart, Pid: pid, Ppid: snap.ppid, Name: snap.name, Ts: now})
		case prev.name != snap.name:
			m.onProcess(ipc.ProcessEvent{Type: ipc.ProcessEventRename, Pid: pid, Ppid: snap.ppid, Name: snap.name, Ts: now})
		}
	}
	for pid, snap := range known {
		if _, stillAlive := current[pid]; !stillAlive {
			m.onProcess(ipc.ProcessEvent{Type: ipc.ProcessEventExit, Pid: pid, Ppid: snap.ppid, Name: snap.name, Ts: now})
			delete(known, pid)
		}
	}
	for pid, snap := range current {
		known[pid] = snap
	}
}

func (m *processMonitor) pollForeground(lastFg *int) {
	if m.fgProbe == nil {
		return
	}
	pgid, err := m.fgProbe()
	if err != nil || pgid == *lastFg || pgid <= 0 {
		return
	}
	*lastFg = pgid

	name, _ := readComm(pgid)
	cmd, _ := readCmdline(pgid)
	cwd, _ := readCwd(pgid)
	m.onForeground(ipc.ForegroundInfo{Pid: pgid, Name: name, Cmd: cmd, Cwd: cwd})
}

// descendants walks /proc once, building a full pid->ppid map, then returns
// every process transitively parented by rootPid (excluding rootPid itself).
func descendants(rootPid int) (map[int]procSnapshot, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	type procRow struct {
		pid, ppid int
		name      string
	}
	var rows []procRow
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		ppid, name, err := readStat(pid)
		if err != nil {
			continue
		}
		rows = append(rows, procRow{pid: pid, ppid: ppid, name: name})
	}

	children := make(map[int][]procRow)
	for _, row := range rows {
		children[row.ppid] = append(children[row.ppid], row)
	}

	out := make(map[int]procSnapshot)
	var walk func(parent int)
	walk = func(parent int) {
		for _, child := range children[parent] {
			if _, seen := out[child.pid]; seen {
				continue
			}
			out[child.pid] = procSnapshot{ppid: child.ppid, name: child.name}
			walk(child.pid)
		}
	}
	walk(rootPid)
	return out, nil
}

// readStat parses the ppid and comm fields out of /proc/<pid>/stat. The comm
// field is parenthesized and may itself contain spaces/parens, so it is
// located between the first '(' and the last ')' rather than by field index.
func readStat(pid int) (ppid int, name string, err error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, "", err
	}
	s := string(data)
	open := strings.IndexByte(s, '(')
	close := strings.LastIndexByte(s, ')')
	if open < 0 || close < 0 || close < open {
		return 0, "", fmt.Errorf("ptyhost: malformed stat for pid %d", pid)
	}
	name = s[open+1 : close]

	fields := strings.Fields(s[close+1:])
	if len(fields) < 2 {
		return 0, "", fmt.Errorf("ptyhost: malformed stat for pid %d", pid)
	}
	ppid, err = strconv.Atoi(fields[1])
	return ppid, name, err
}

func readComm(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readCmdline(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	return strings.Join(parts, " "), nil
}

func readCwd(pid int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
}
