package activitylog

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"midterm/internal/sessionlog"
)

// Callback returns a sessionlog.EntryCallback that tees every log record at
// or above minLevel into l, keyed by the record's slog group (sessionlog's
// TeeHandler passes its accumulated group name as "group"; callers that
// build their per-session logger via logger.WithGroup(sessionID) get that
// session's id here for free). Records with no group are recorded with an
// empty SessionID, covering WebServer-wide events.
//
// Wire with:
//
//	slog.New(sessionlog.NewTeeHandler(base, minLevel, activityLog.Callback()))
func (l *Log) Callback() sessionlog.EntryCallback {
	return func(ts time.Time, level slog.Level, msg string, group string) {
		event := eventKind(msg)
		if err := l.Record(context.Background(), group, event, level.String(), msg, ts); err != nil {
			// activitylog is a best-effort side-channel; a write failure here
			// must never surface to the caller that emitted the original log
			// record, so it is swallowed after a debug log line.
			slog.Debug("[activitylog] record failed", "error", err)
		}
	}
}

// eventKind classifies a free-form log message into one of the known event
// constants by a case-insensitive substring match anywhere in the message,
// falling back to "log" for anything else so every record is still captured.
func eventKind(msg string) string {
	switch {
	case containsAny(msg, "session created", "spawned session"):
		return EventCreated
	case containsAny(msg, "session ready", "handshake complete"):
		return EventReady
	case containsAny(msg, "disconnected"):
		return EventDisconnected
	case containsAny(msg, "reconnected"):
		return EventReconnected
	case containsAny(msg, "session closed", "closing session"):
		return EventClosed
	default:
		return "log"
	}
}

func containsAny(msg string, subs ...string) bool {
	lower := strings.ToLower(msg)
	for _, s := range subs {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
