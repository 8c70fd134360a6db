//go:build windows

package transport

import (
	"errors"
	"fmt"
	"net"
	"os/user"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

// PipeName returns the named pipe path for a session's endpoint.
func PipeName(sessionID string, hostPid int) string {
	return `\\.\pipe\` + EndpointName(sessionID, hostPid)
}

// pipeTransport adapts a go-winio pipe net.Conn into Transport, adding a
// PeekNamedPipe based ProbeAlive.
type pipeTransport struct {
	net.Conn
}

func (t *pipeTransport) ProbeAlive() bool {
	sc, ok := t.Conn.(syscall.Conn)
	if !ok {
		return true
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return false
	}

	alive := false
	walkErr := rc.Read(func(fd uintptr) bool {
		var bytesAvail, bytesLeft uint32
		peekErr := windows.PeekNamedPipe(windows.Handle(fd), nil, nil, &bytesAvail, &bytesLeft)
		alive = peekErr == nil
		return true
	})
	if walkErr != nil {
		return false
	}
	return alive
}

// Dial connects to a session's endpoint, failing after timeout.
func Dial(sessionID string, hostPid int, timeout time.Duration) (Transport, error) {
	conn, err := winio.DialPipe(PipeName(sessionID, hostPid), &timeout)
	if err != nil {
		return nil, err
	}
	return &pipeTransport{Conn: conn}, nil
}

// Listen opens the listening endpoint for a session, restricted to the
// current user via a protected DACL so another local user cannot attach to
// the session's pipe.
func Listen(sessionID string, hostPid int) (Listener, error) {
	pipeName := PipeName(sessionID, hostPid)
	sd, err := currentUserSecurityDescriptor()
	if err != nil {
		return nil, err
	}

	ln, err := winio.ListenPipe(pipeName, &winio.PipeConfig{
		SecurityDescriptor: sd,
		MessageMode:        false,
	})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", pipeName, err)
	}
	return &pipeListener{ln: ln, name: pipeName}, nil
}

type pipeListener struct {
	ln   net.Listener
	name string
}

func (l *pipeListener) Accept() (Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return &pipeTransport{Conn: conn}, nil
}

func (l *pipeListener) Close() error { return l.ln.Close() }
func (l *pipeListener) Addr() string { return l.name }

var validSIDPattern = regexp.MustCompile(`^S-1(-\d+)+$`)

func currentUserSecurityDescriptor() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	sid := strings.TrimSpace(current.Uid)
	if sid == "" {
		return "", errors.New("current user SID is unavailable")
	}
	if !validSIDPattern.MatchString(sid) {
		return "", fmt.Errorf("current user SID has unexpected format: %s", sid)
	}
	// D:P = protected DACL (no inheritance); grant full access to SYSTEM
	// and the current user only, so other local users cannot attach.
	return fmt.Sprintf("D:P(A;;GA;;;SY)(A;;GA;;;%s)", sid), nil
}
