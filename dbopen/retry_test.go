package dbopen

import (
	"context"
	"errors"
	"testing"
)

func TestWithBusyRetryRetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := withBusyRetry(context.Background(), func() error {
		calls++
		if calls < busyAttempts {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withBusyRetry: %v", err)
	}
	if calls != busyAttempts {
		t.Fatalf("calls = %d, want %d", calls, busyAttempts)
	}
}

func TestWithBusyRetryGivesUpAfterBudget(t *testing.T) {
	busy := errors.New("SQLITE_BUSY (5)")
	calls := 0
	err := withBusyRetry(context.Background(), func() error {
		calls++
		return busy
	})
	if !errors.Is(err, busy) {
		t.Fatalf("error = %v, want wrapped busy error", err)
	}
	if calls != busyAttempts {
		t.Fatalf("calls = %d, want %d", calls, busyAttempts)
	}
}

func TestWithBusyRetryStopsOnNonBusyError(t *testing.T) {
	boom := errors.New("no such table: kv")
	calls := 0
	err := withBusyRetry(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on non-busy errors)", calls)
	}
}

func TestWithBusyRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withBusyRetry(ctx, func() error {
		calls++
		cancel()
		return errors.New("database is locked")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
