package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeNowAdvances(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := NewFake(start)
	if !f.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", f.Now(), start)
	}
	f.Advance(90 * time.Second)
	if !f.Now().Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Now() after Advance = %v", f.Now())
	}
}

func TestFakeSleepWakesOnAdvance(t *testing.T) {
	f := NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	done := make(chan error, 1)
	go func() {
		done <- f.Sleep(context.Background(), 5*time.Second)
	}()

	// Not enough time: the sleeper must still be blocked.
	f.Advance(time.Second)
	select {
	case err := <-done:
		t.Fatalf("Sleep returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	f.Advance(5 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Sleep: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not wake after Advance crossed the deadline")
	}
}

func TestFakeSleepCancellable(t *testing.T) {
	f := NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Sleep(ctx, time.Hour)
	}()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Sleep = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not observe cancellation")
	}
}

func TestFakeTickerFiresPerPeriod(t *testing.T) {
	f := NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	ticker := f.NewTicker(5 * time.Second)
	defer ticker.Stop()

	f.Advance(5 * time.Second)
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire after one period")
	}

	f.Advance(5 * time.Second)
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire after a second period")
	}
}

func TestRealSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Real{}).Sleep(ctx, time.Hour); err != context.Canceled {
		t.Fatalf("Sleep = %v, want context.Canceled", err)
	}
}
