//go:build !windows

package registry

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// endpointPattern matches the socket filenames produced by
// transport.SocketPath: mt-con-<sessionID>-<pid>.sock.
var endpointPattern = regexp.MustCompile(`^mt-con-([0-9a-f]+)-(\d+)\.sock$`)

// FileEnumerator discovers IPC endpoints by scanning dir for socket files
// matching the naming convention transport.SocketPath produces.
type FileEnumerator struct {
	Dir string
}

// NewFileEnumerator builds an enumerator rooted at os.TempDir(), matching
// where transport.SocketPath places Unix domain sockets.
func NewFileEnumerator() FileEnumerator {
	return FileEnumerator{Dir: os.TempDir()}
}

func (e FileEnumerator) List() ([]Endpoint, error) {
	entries, err := os.ReadDir(e.Dir)
	if err != nil {
		return nil, err
	}
	var out []Endpoint
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		m := endpointPattern.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		pid, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out = append(out, Endpoint{SessionID: m[1], HostPid: pid, Name: ent.Name()})
	}
	return out, nil
}

func (e FileEnumerator) Remove(name string) error {
	return os.Remove(filepath.Join(e.Dir, name))
}
