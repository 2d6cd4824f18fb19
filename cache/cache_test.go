package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type payload struct {
	Text string `json:"text"`
}

// flakyStore is a RemoteStore that can be switched between healthy and
// failing modes.
type flakyStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failing bool
	gets    int
	sets    int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{data: map[string][]byte{}}
}

func (s *flakyStore) fail(on bool) {
	s.mu.Lock()
	s.failing = on
	s.mu.Unlock()
}

func (s *flakyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failing {
		return nil, false, errors.New("remote down")
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *flakyStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.failing {
		return errors.New("remote down")
	}
	s.data[key] = value
	return nil
}

func (s *flakyStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("remote down")
	}
	delete(s.data, key)
	return nil
}

func (s *flakyStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("remote down")
	}
	s.data = map[string][]byte{}
	return nil
}

func (s *flakyStore) Ready() bool  { return true }
func (s *flakyStore) Close() error { return nil }

func TestLRUOnlyRoundTrip(t *testing.T) {
	c, err := New[payload](nil, nil, Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if c.Strategy() != "lru" {
		t.Fatalf("strategy = %q, want lru", c.Strategy())
	}

	c.Set(ctx, "k", payload{Text: "v"}, nil)
	entry, ok := c.Get(ctx, "k")
	if !ok || entry.Value.Text != "v" {
		t.Fatalf("get = %+v, %v", entry, ok)
	}
	if !c.Has(ctx, "k") {
		t.Fatal("Has = false after Set")
	}

	c.Delete(ctx, "k")
	if c.Has(ctx, "k") {
		t.Fatal("Has = true after Delete")
	}
}

func TestRemoteRoundTripAndMetadata(t *testing.T) {
	store := newFlakyStore()
	c, err := New[payload](store, NewBreaker(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if c.Strategy() != "remote" {
		t.Fatalf("strategy = %q, want remote", c.Strategy())
	}

	c.Set(ctx, "k", payload{Text: "v"}, &Meta{ETag: `"abc"`, ContentHash: "deadbeef"})
	entry, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("miss after redundant write")
	}
	if entry.ETag != `"abc"` || entry.ContentHash != "deadbeef" {
		t.Fatalf("metadata lost: %+v", entry)
	}

	stats := c.Stats()
	if stats.RemoteHits != 1 {
		t.Fatalf("remote hits = %d, want 1", stats.RemoteHits)
	}
}

func TestOpenCircuitFallsBackToLRU(t *testing.T) {
	store := newFlakyStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := NewBreaker(WithBreakerClock(func() time.Time { return now }))
	c, err := New[payload](store, breaker, Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// Five failing remote writes trip the breaker; the LRU still takes
	// every write.
	store.fail(true)
	for i := 0; i < 5; i++ {
		c.Set(ctx, "k", payload{Text: "v"}, nil)
	}
	if breaker.State() != BreakerOpen {
		t.Fatalf("breaker = %v, want open", breaker.State())
	}

	entry, ok := c.Get(ctx, "k")
	if !ok || entry.Value.Text != "v" {
		t.Fatalf("LRU fallback read = %+v, %v", entry, ok)
	}

	// Remote recovers but the circuit stays open until the window elapses:
	// reads keep coming from the LRU, no remote call happens.
	store.fail(false)
	getsBefore := store.gets
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("miss while circuit open")
	}
	if store.gets != getsBefore {
		t.Fatal("remote queried while circuit open")
	}

	stats := c.Stats()
	if stats.OpenFallbacks == 0 {
		t.Fatal("open-circuit fallbacks not counted")
	}

	// After the reset window a probe goes through and succeeds.
	now = now.Add(31 * time.Second)
	c.Set(ctx, "k2", payload{Text: "v2"}, nil)
	if breaker.State() != BreakerClosed {
		t.Fatalf("breaker = %v, want closed after successful probe", breaker.State())
	}
	if entry, ok := c.Get(ctx, "k2"); !ok || entry.Value.Text != "v2" {
		t.Fatalf("post-recovery read = %+v, %v", entry, ok)
	}
}

func TestRemoteErrorIsAMiss(t *testing.T) {
	store := newFlakyStore()
	c, err := New[payload](store, NewBreaker(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	c.Set(ctx, "k", payload{Text: "v"}, nil)
	store.fail(true)

	// Remote get fails (breaker still closed); the LRU serves the value.
	entry, ok := c.Get(ctx, "k")
	if !ok || entry.Value.Text != "v" {
		t.Fatalf("read during remote error = %+v, %v", entry, ok)
	}
	if c.Stats().RemoteErrors == 0 {
		t.Fatal("remote error not counted")
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := New[payload](nil, nil, Config{
		TTL: time.Minute,
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	c.Set(ctx, "k", payload{Text: "v"}, nil)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry reported expired")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expired entry still served")
	}
}

func TestClearEmptiesBothTiers(t *testing.T) {
	store := newFlakyStore()
	c, err := New[payload](store, NewBreaker(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	c.Set(ctx, "a", payload{Text: "1"}, nil)
	c.Set(ctx, "b", payload{Text: "2"}, nil)
	c.Clear(ctx)

	if c.Has(ctx, "a") || c.Has(ctx, "b") {
		t.Fatal("entries survived Clear")
	}
	if len(store.data) != 0 {
		t.Fatalf("remote not cleared: %d keys", len(store.data))
	}
}
