//go:build !windows

package transport

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// SocketPath returns the filesystem path of a session's Unix domain socket.
func SocketPath(sessionID string, hostPid int) string {
	return filepath.Join(os.TempDir(), EndpointName(sessionID, hostPid)+".sock")
}

// unixTransport adapts a *net.UnixConn into Transport, adding a MSG_PEEK
// based ProbeAlive.
type unixTransport struct {
	*net.UnixConn
}

// ProbeAlive peeks at the socket without consuming any bytes: a pending byte
// or EAGAIN (no data, connection still open) both mean alive; a zero-byte
// peek with no error means the peer has sent EOF.
func (t *unixTransport) ProbeAlive() bool {
	rc, err := t.UnixConn.SyscallConn()
	if err != nil {
		return false
	}

	alive := false
	walkErr := rc.Read(func(fd uintptr) bool {
		buf := make([]byte, 1)
		n, _, recvErr := unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case recvErr == unix.EAGAIN || recvErr == unix.EWOULDBLOCK:
			alive = true
		case recvErr != nil:
			alive = false
		default:
			alive = n > 0
		}
		return true
	})
	if walkErr != nil {
		return false
	}
	return alive
}

// Dial connects to a session's endpoint, failing after timeout.
func Dial(sessionID string, hostPid int, timeout time.Duration) (Transport, error) {
	conn, err := net.DialTimeout("unix", SocketPath(sessionID, hostPid), timeout)
	if err != nil {
		return nil, err
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("transport: unexpected connection type %T", conn)
	}
	return &unixTransport{UnixConn: unixConn}, nil
}

// Listen opens the listening endpoint for a session. The socket file is
// removed first in case a previous, uncleanly-terminated host left it
// behind; this is safe because only the owning PtyHost process ever listens
// on its own sessionID+pid pair.
func Listen(sessionID string, hostPid int) (Listener, error) {
	path := SocketPath(sessionID, hostPid)
	_ = os.Remove(path)

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &unixListener{ln: ln, path: path}, nil
}

type unixListener struct {
	ln   *net.UnixListener
	path string
}

func (l *unixListener) Accept() (Transport, error) {
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return &unixTransport{UnixConn: conn}, nil
}

func (l *unixListener) Close() error {
	err := l.ln.Close()
	_ = os.Remove(l.path)
	return err
}

func (l *unixListener) Addr() string {
	return l.path
}
