package activitylog

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndForSession(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := l.Record(ctx, "sess-1", EventCreated, "INFO", "session created", now); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(ctx, "sess-1", EventClosed, "INFO", "session closed", now.Add(time.Minute)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(ctx, "sess-2", EventCreated, "INFO", "session created", now); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := l.ForSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for sess-1, got %d", len(entries))
	}
	if entries[0].Event != EventCreated || entries[1].Event != EventClosed {
		t.Fatalf("unexpected event order: %+v", entries)
	}
}

func TestRecent(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := l.Record(ctx, "sess-1", EventCreated, "INFO", "msg", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	entries, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].OccurredAt.Before(entries[1].OccurredAt) {
		t.Fatalf("expected newest-first ordering, got %+v", entries)
	}
}

func TestCallbackClassifiesEvent(t *testing.T) {
	l := openTestLog(t)
	cb := l.Callback()
	cb(time.Now(), slog.LevelInfo, "session created for shell", "abcd1234")
	cb(time.Now(), slog.LevelWarn, "host disconnected, reconnecting", "abcd1234")

	entries, err := l.ForSession(context.Background(), "abcd1234")
	if err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Event != EventCreated {
		t.Fatalf("expected created event, got %s", entries[0].Event)
	}
	if entries[1].Event != EventDisconnected {
		t.Fatalf("expected disconnected event, got %s", entries[1].Event)
	}
}
