package ipc

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// SessionInfo is the server-side cached view of one PTY session, carried
// verbatim as the payload of an Info frame.
type SessionInfo struct {
	ID        string    `json:"id"`
	HostPid   int       `json:"hostPid"`
	ShellKind string    `json:"shellKind"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"createdAt"`

	IsRunning bool `json:"isRunning"`
	ExitCode  *int `json:"exitCode,omitempty"`

	DisplayName   *string `json:"displayName,omitempty"`
	TerminalTitle *string `json:"terminalTitle,omitempty"`

	// TTYHostVersion is compared against the WebServer's expected/minCompatible
	// version during discovery; see CompatibleVersion.
	TTYHostVersion string `json:"ttyHostVersion"`

	CurrentWorkingDirectory *string         `json:"currentWorkingDirectory,omitempty"`
	ForegroundProcess       *ForegroundInfo `json:"foregroundProcess,omitempty"`
}

// EncodeInfo serializes a SessionInfo for an Info frame payload.
func EncodeInfo(info SessionInfo) ([]byte, error) {
	return json.Marshal(info)
}

// DecodeInfo parses an Info frame payload.
func DecodeInfo(payload []byte) (SessionInfo, error) {
	var info SessionInfo
	err := json.Unmarshal(payload, &info)
	return info, err
}

// ProcessEventKind enumerates the ProcessEvent.Type values.
type ProcessEventKind string

const (
	ProcessEventStart  ProcessEventKind = "start"
	ProcessEventExit   ProcessEventKind = "exit"
	ProcessEventRename ProcessEventKind = "rename"
)

// ProcessEvent reports a change in the shell's process tree.
type ProcessEvent struct {
	Type ProcessEventKind `json:"type"`
	Pid  int              `json:"pid"`
	Ppid int              `json:"ppid"`
	Name string           `json:"name"`
	Cmd  string           `json:"cmd"`
	Exit *int             `json:"exit,omitempty"`
	Ts   time.Time        `json:"ts"`
}

// EncodeProcessEvent serializes a ProcessEvent frame payload.
func EncodeProcessEvent(ev ProcessEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeProcessEvent parses a ProcessEvent frame payload.
func DecodeProcessEvent(payload []byte) (ProcessEvent, error) {
	var ev ProcessEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

// ForegroundInfo describes the process currently owning the controlling
// terminal, carried as a ForegroundChange frame payload.
type ForegroundInfo struct {
	Pid  int    `json:"pid"`
	Name string `json:"name"`
	Cmd  string `json:"cmd"`
	Cwd  string `json:"cwd"`
}

// EncodeForegroundInfo serializes a ForegroundChange frame payload.
func EncodeForegroundInfo(fg ForegroundInfo) ([]byte, error) {
	return json.Marshal(fg)
}

// DecodeForegroundInfo parses a ForegroundChange frame payload.
func DecodeForegroundInfo(payload []byte) (ForegroundInfo, error) {
	var fg ForegroundInfo
	err := json.Unmarshal(payload, &fg)
	return fg, err
}

// CompatibleVersion reports whether got satisfies expected OR is >=
// minCompatible: split on ".", compare component-wise as integers
// (missing = 0), with any "+"-suffix stripped before comparison.
func CompatibleVersion(got, expected, minCompatible string) bool {
	if versionEqual(got, expected) {
		return true
	}
	return versionCompare(got, minCompatible) >= 0
}

func versionEqual(a, b string) bool {
	return versionCompare(a, b) == 0
}

// versionCompare compares two version strings component-wise as integers,
// treating missing trailing components as 0. Any "+"-suffixed build metadata
// is stripped before comparison; pre-release suffixes are ignored rather
// than modeled separately.
func versionCompare(a, b string) int {
	a = stripBuildMetadata(a)
	b = stripBuildMetadata(b)
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(as) {
			av = componentInt(as[i])
		}
		if i < len(bs) {
			bv = componentInt(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func stripBuildMetadata(v string) string {
	if idx := strings.IndexByte(v, '+'); idx >= 0 {
		return v[:idx]
	}
	return v
}

// componentInt parses a dotted version component as an integer, trimming a
// "-pre"-style pre-release suffix first. Unparseable components are treated
// as 0 rather than erroring, since version strings are operator-controlled
// build metadata, not untrusted input.
func componentInt(s string) int {
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		s = s[:idx]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Version is the PtyHost protocol/feature version stamped into every
// SessionInfo. Discovery compares an adopted host's
// TTYHostVersion against this version (or MinCompatibleVersion) to decide
// whether to adopt or kill the stale host.
const Version = "1.0.0"

// MinCompatibleVersion is the oldest ttyHostVersion a WebServer will adopt
// during discovery without killing the host.
const MinCompatibleVersion = "1.0.0"
