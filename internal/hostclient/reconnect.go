package hostclient

import (
	"log/slog"
	"time"

	"midterm/internal/ipc"
)

// reconnectLoop retries Connect with exponential backoff (100ms * 2^n,
// capped at 30s) up to maxReconnects attempts. A successful dial
// re-handshakes with GetInfo; success resets the attempt counter and emits
// OnReconnected. Exhaustion transitions the client to Closed and emits a
// final OnStateChanged so the registry can reap the session.
func (c *HostClient) reconnectLoop() {
	backoff := initialBackoff
	for attempt := 1; attempt <= maxReconnects; attempt++ {
		if c.ctx.Err() != nil || c.State() == StateClosed {
			return
		}

		if err := c.clk.Sleep(c.ctx, backoff); err != nil {
			return
		}

		conn, err := c.dial(c.ctx, requestDeadline)
		if err != nil {
			slog.Debug("[hostclient] reconnect attempt failed", "sessionId", c.sessionID, "attempt", attempt, "error", err)
			backoff = nextBackoff(backoff)
			continue
		}

		c.replaceConn(conn)
		if _, err := c.requestOnConn(conn, ipc.Frame{Type: ipc.MessageGetInfo}, ipc.MessageInfo, requestDeadline); err != nil {
			slog.Debug("[hostclient] reconnect handshake failed", "sessionId", c.sessionID, "attempt", attempt, "error", err)
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.connMu.Unlock()
			conn.Close()
			backoff = nextBackoff(backoff)
			continue
		}

		c.reconnectAttempts = 0
		c.setState(StateReady)
		if c.cb.OnReconnected != nil {
			c.cb.OnReconnected(c.sessionID)
		}
		return
	}

	slog.Warn("[hostclient] reconnect attempts exhausted, closing", "sessionId", c.sessionID, "attempts", maxReconnects)
	c.setState(StateClosed)
	if c.cb.OnStateChanged != nil {
		c.cb.OnStateChanged(c.sessionID)
	}
	c.cancel()
}

func nextBackoff(current time.Duration) time.Duration {
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
