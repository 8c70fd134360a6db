//go:build windows

package registry

import (
	"regexp"

	"golang.org/x/sys/windows"
)

// pipeEndpointPattern matches the named pipe basenames transport.PipeName
// produces: mt-con-<sessionID>-<pid>.
var pipeEndpointPattern = regexp.MustCompile(`^mt-con-([0-9a-f]+)-(\d+)$`)

// FileEnumerator lists endpoints by walking \\.\pipe\ with FindFirstFile,
// the only portable way to enumerate named pipes on Windows (there is no
// pipe equivalent of a directory listing via os.ReadDir).
type FileEnumerator struct{}

// NewFileEnumerator builds a Windows named-pipe enumerator.
func NewFileEnumerator() FileEnumerator { return FileEnumerator{} }

func (FileEnumerator) List() ([]Endpoint, error) {
	var data windows.Win32finddata
	h, err := windows.FindFirstFile(windows.StringToUTF16Ptr(`\\.\pipe\*`), &data)
	if err != nil {
		if err == windows.ERROR_FILE_NOT_FOUND {
			return nil, nil
		}
		return nil, err
	}
	defer windows.FindClose(h)

	var out []Endpoint
	for {
		name := windows.UTF16ToString(data.FileName[:])
		if m := pipeEndpointPattern.FindStringSubmatch(name); m != nil {
			pid := 0
			for _, c := range m[2] {
				pid = pid*10 + int(c-'0')
			}
			out = append(out, Endpoint{SessionID: m[1], HostPid: pid, Name: name})
		}
		if err := windows.FindNextFile(h, &data); err != nil {
			if err == windows.ERROR_NO_MORE_FILES {
				break
			}
			return out, err
		}
	}
	return out, nil
}

// Remove is a no-op: an orphaned named pipe with no listener disappears on
// its own once the last handle closes, unlike a Unix socket file.
func (FileEnumerator) Remove(name string) error {
	_ = name
	return nil
}
