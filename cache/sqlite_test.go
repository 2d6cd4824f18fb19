package cache

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sievelabs/sieve/dbopen"
)

func newTestSQLiteStore(t *testing.T, now *time.Time) *SQLiteStore {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(kvSchema))
	return NewSQLiteStore(db, WithSQLiteClock(func() time.Time { return *now }))
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestSQLiteStore(t, &now)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("hello"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(v) != "hello" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	// Upsert replaces the value.
	if err := s.Set(ctx, "k", []byte("world"), 0); err != nil {
		t.Fatalf("Set upsert: %v", err)
	}
	v, _, _ = s.Get(ctx, "k")
	if string(v) != "world" {
		t.Fatalf("after upsert = %q, want world", v)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("key present after Delete")
	}
}

func TestSQLiteStoreTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestSQLiteStore(t, &now)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("fresh key reported absent")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expired key still returned")
	}
}

func TestSQLiteStorePrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestSQLiteStore(t, &now)
	ctx := context.Background()

	s.Set(ctx, "short", []byte("1"), time.Minute)
	s.Set(ctx, "long", []byte("2"), time.Hour)
	s.Set(ctx, "forever", []byte("3"), 0)

	now = now.Add(10 * time.Minute)
	n, err := s.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Fatal("unexpired key pruned")
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Fatal("no-expiry key pruned")
	}
}

func TestSQLiteStoreClearAndReady(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestSQLiteStore(t, &now)
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), 0)
	s.Set(ctx, "b", []byte("2"), 0)
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatal("key survived Clear")
	}
	if !s.Ready() {
		t.Fatal("store not ready after open")
	}
}
