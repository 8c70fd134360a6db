package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"midterm/internal/activitylog"
	"midterm/internal/testutil"
)

type fakeSpawner struct {
	mu      sync.Mutex
	pid     int
	spawned [][]string
}

func (s *fakeSpawner) Spawn(_ context.Context, argv []string, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid++
	s.spawned = append(s.spawned, argv)
	return s.pid, nil
}

type fakeEnumerator struct {
	endpoints []Endpoint
	removed   []string
}

func (e *fakeEnumerator) List() ([]Endpoint, error) { return e.endpoints, nil }
func (e *fakeEnumerator) Remove(name string) error {
	e.removed = append(e.removed, name)
	return nil
}

func TestRegistryCloseRemovesEntry(t *testing.T) {
	r := New(Options{Spawner: &fakeSpawner{}, Enumerator: &fakeEnumerator{}})
	r.setEntry("abcd1234", &Entry{Lifecycle: LifecycleReady})
	if err := r.Close("abcd1234"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := r.Get("abcd1234"); ok {
		t.Fatalf("expected session removed after Close")
	}
}

func TestRegistryCloseUnknownSession(t *testing.T) {
	r := New(Options{Spawner: &fakeSpawner{}, Enumerator: &fakeEnumerator{}})
	if err := r.Close("nope0000"); err == nil {
		t.Fatalf("expected error closing unknown session")
	}
}

func TestDiscoverRemovesDeadPidEndpoints(t *testing.T) {
	enum := &fakeEnumerator{endpoints: []Endpoint{{SessionID: "dead0000", HostPid: 999999, Name: "mt-con-dead0000-999999.sock"}}}
	r := New(Options{Spawner: &fakeSpawner{}, Enumerator: enum})
	if err := r.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(enum.removed) != 1 {
		t.Fatalf("expected stale endpoint removed, got %v", enum.removed)
	}
	if _, ok := r.Get("dead0000"); ok {
		t.Fatalf("dead endpoint should not be adopted")
	}
}

func TestBuildHostArgvDefaults(t *testing.T) {
	argv := buildHostArgv("/usr/bin/midterm-host", "abcd1234", CreateParams{ShellKind: "bash"})
	if argv[0] != "/usr/bin/midterm-host" {
		t.Fatalf("unexpected binary path: %v", argv)
	}
	found := false
	for i, a := range argv {
		if a == "--cols" && i+1 < len(argv) && argv[i+1] == "80" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected default cols=80 in argv: %v", argv)
	}
}

func TestBuildHostArgvForwardsShellPathAndArgs(t *testing.T) {
	argv := buildHostArgv("/usr/bin/midterm-host", "abcd1234", CreateParams{
		ShellKind: "bash",
		ShellPath: "/bin/bash",
		Args:      []string{"-l", "-i"},
	})
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--shellpath /bin/bash") {
		t.Fatalf("expected --shellpath /bin/bash in argv: %v", argv)
	}
	if !strings.Contains(joined, "-- -l -i") {
		t.Fatalf("expected trailing shell args after --: %v", argv)
	}
}

func TestKillAndForgetLogsDebugLine(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelDebug)
	r := New(Options{Spawner: &fakeSpawner{}, Enumerator: &fakeEnumerator{}})
	r.setEntry("ffff0000", &Entry{Lifecycle: LifecycleConnecting})

	r.killAndForget("ffff0000", 999999) // a pid unlikely to exist still logs and forgets the entry

	if !strings.Contains(logBuf.String(), "[registry]") {
		t.Fatalf("expected a [registry]-tagged log line, got: %s", logBuf.String())
	}
	if _, ok := r.Get("ffff0000"); ok {
		t.Fatalf("expected entry removed after killAndForget")
	}
}

func openTestActivityLog(t *testing.T) *activitylog.Log {
	t.Helper()
	l, err := activitylog.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("activitylog.Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordEventWritesToActivityLog(t *testing.T) {
	log := openTestActivityLog(t)
	r := New(Options{Spawner: &fakeSpawner{}, Enumerator: &fakeEnumerator{}, ActivityLog: log})

	r.recordEvent("name0001", activitylog.EventRenamed, "info", `session renamed to "build-shell"`)

	entries, err := log.ForSession(context.Background(), "name0001")
	if err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != activitylog.EventRenamed {
		t.Fatalf("expected one renamed event, got %+v", entries)
	}
}

func TestCallbacksForRecordsDisconnectReconnectEvents(t *testing.T) {
	log := openTestActivityLog(t)
	r := New(Options{Spawner: &fakeSpawner{}, Enumerator: &fakeEnumerator{}, ActivityLog: log})
	r.setEntry("abcd1234", &Entry{Lifecycle: LifecycleReady})

	cb := r.callbacksFor("abcd1234")
	cb.OnDisconnected("abcd1234")
	cb.OnReconnected("abcd1234")

	entries, err := log.ForSession(context.Background(), "abcd1234")
	if err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != activitylog.EventDisconnected || entries[1].Event != activitylog.EventReconnected {
		t.Fatalf("expected disconnected then reconnected events, got %+v", entries)
	}

	e, ok := r.Get("abcd1234")
	if !ok || e.Lifecycle != LifecycleReady {
		t.Fatalf("expected lifecycle back to Ready after reconnect, got %+v", e)
	}
}

func TestEntryExitCodePointer(t *testing.T) {
	code := testutil.Ptr(0)
	e := Entry{Lifecycle: LifecycleClosed}
	e.Info.ExitCode = code
	if e.Info.ExitCode == nil || *e.Info.ExitCode != 0 {
		t.Fatalf("expected ExitCode pointer to 0, got %v", e.Info.ExitCode)
	}
}
