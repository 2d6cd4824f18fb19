package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sievelabs/sieve/dbopen"
	"github.com/sievelabs/sieve/diff"
	"github.com/sievelabs/sieve/distill"
	"github.com/sievelabs/sieve/fetch"
)

// scriptedFetcher returns queued bodies in order, repeating the last one.
type scriptedFetcher struct {
	mu     sync.Mutex
	bodies []string
	idx    int
	err    error
}

func (f *scriptedFetcher) Fetch(_ context.Context, req fetch.Request) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	i := f.idx
	if i >= len(f.bodies) {
		i = len(f.bodies) - 1
	}
	f.idx++
	body := []byte(f.bodies[i])
	sum := sha256.Sum256(body)
	return &fetch.Result{
		Body:     body,
		FinalURL: req.URL,
		Status:   200,
		Hash:     hex.EncodeToString(sum[:]),
		Changed:  true,
	}, nil
}

// passthroughDistiller surfaces the raw body as content text.
type passthroughDistiller struct{}

func (passthroughDistiller) Distill(_ context.Context, rawHTML, _, _ string) (*distill.Result, error) {
	return &distill.Result{
		Title:         "page",
		ContentText:   rawHTML,
		ContentLength: len(rawHTML),
	}, nil
}

func pct(v float64) *float64 { return &v }

func newTestManager(t *testing.T, fetcher fetch.Client, now *time.Time) *Manager {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`
CREATE TABLE IF NOT EXISTS snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	url            TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	content        TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	length         INTEGER NOT NULL,
	change_percent REAL NOT NULL DEFAULT 0,
	captured_at    INTEGER NOT NULL
);`))
	differ := diff.NewSQLiteEngine(db)

	m, err := NewManager(fetcher, passthroughDistiller{}, differ, Config{
		DataDir: t.TempDir(),
		Now:     func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestAddWatchNormalizesInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, &scriptedFetcher{bodies: []string{"x"}}, &now)

	target, err := m.AddWatch("https://example.com/a", AddOptions{IntervalSeconds: 10})
	if err != nil {
		t.Fatal(err)
	}
	if target.Interval != 60 {
		t.Fatalf("interval = %d, want normalized to 60", target.Interval)
	}
	if target.ChangeThreshold != 1 {
		t.Fatalf("threshold = %v, want default 1", target.ChangeThreshold)
	}
	if target.Status != StatusActive {
		t.Fatalf("status = %q", target.Status)
	}
	if target.ID == "" {
		t.Fatal("missing id")
	}
}

func TestAddWatchThresholdZeroAndRange(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, &scriptedFetcher{bodies: []string{"x"}}, &now)

	target, err := m.AddWatch("https://example.com/any", AddOptions{ChangeThreshold: pct(0)})
	if err != nil {
		t.Fatal(err)
	}
	if target.ChangeThreshold != 0 {
		t.Fatalf("threshold = %v, want explicit 0 kept", target.ChangeThreshold)
	}

	for _, bad := range []float64{-1, 100.5, 500} {
		if _, err := m.AddWatch("https://example.com/bad", AddOptions{ChangeThreshold: pct(bad)}); err == nil {
			t.Errorf("threshold %v accepted, want error", bad)
		}
	}
}

func TestLoadedTargetsAreRenormalized(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dataDir := t.TempDir()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT, url TEXT NOT NULL, content_hash TEXT NOT NULL,
	content TEXT NOT NULL, title TEXT NOT NULL DEFAULT '', length INTEGER NOT NULL,
	change_percent REAL NOT NULL DEFAULT 0, captured_at INTEGER NOT NULL);`))
	differ := diff.NewSQLiteEngine(db)

	// A hand-edited config can carry values AddWatch would never produce.
	st, err := newStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.saveTarget(&Target{
		ID:              "edited",
		URL:             "https://example.com/edited",
		Interval:        5,
		ChangeThreshold: 500,
		Status:          StatusActive,
		CreatedAt:       now,
	}); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(&scriptedFetcher{bodies: []string{"x"}}, passthroughDistiller{}, differ,
		Config{DataDir: dataDir, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m.GetWatch("edited")
	if !ok {
		t.Fatal("edited target not restored")
	}
	if got.Interval != 60 {
		t.Errorf("interval = %d, want renormalized to 60", got.Interval)
	}
	if got.ChangeThreshold != 100 {
		t.Errorf("threshold = %v, want clamped to 100", got.ChangeThreshold)
	}
}

func TestWatchLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, &scriptedFetcher{bodies: []string{"content one two three"}}, &now)
	ctx := context.Background()

	target, err := m.AddWatch("https://example.com/a", AddOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := m.GetWatch(target.ID); !ok {
		t.Fatal("GetWatch miss after Add")
	}
	if got := len(m.ListWatches()); got != 1 {
		t.Fatalf("ListWatches = %d, want 1", got)
	}

	// Paused targets are skipped by the tick.
	if err := m.PauseWatch(target.ID); err != nil {
		t.Fatal(err)
	}
	m.Tick(ctx)
	if got, _ := m.GetWatch(target.ID); got.CheckCount != 0 {
		t.Fatalf("paused target was checked: %+v", got)
	}

	if err := m.ResumeWatch(target.ID); err != nil {
		t.Fatal(err)
	}
	m.Tick(ctx)
	if got, _ := m.GetWatch(target.ID); got.CheckCount != 1 {
		t.Fatalf("checkCount = %d, want 1 after resume", got.CheckCount)
	}

	if !m.RemoveWatch(target.ID) {
		t.Fatal("RemoveWatch = false")
	}
	if m.RemoveWatch(target.ID) {
		t.Fatal("second RemoveWatch = true")
	}
	if _, err := m.GetEvents(target.ID, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetEvents after remove = %v, want ErrNotFound", err)
	}
}

func TestChangeDetectionEmitsSingleEvent(t *testing.T) {
	c1 := "the quick brown fox jumps over the lazy dog near the river bank today"
	c2 := "an entirely different report about markets and weather written this morning instead"

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{bodies: []string{c1, c2, c2}}
	m := newTestManager(t, fetcher, &now)
	ctx := context.Background()

	target, err := m.AddWatch("https://example.com/u", AddOptions{IntervalSeconds: 60, ChangeThreshold: pct(1)})
	if err != nil {
		t.Fatal(err)
	}

	// First tick establishes the baseline snapshot: no event.
	m.Tick(ctx)
	events, err := m.GetEvents(target.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("events after baseline = %d, want 0", len(events))
	}

	// Second tick after the interval sees C2: one event.
	now = now.Add(61 * time.Second)
	m.Tick(ctx)
	events, err = m.GetEvents(target.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.ChangePercent < 5 {
		t.Fatalf("changePercent = %.1f, want >= 5", ev.ChangePercent)
	}
	wantHash := sha256.Sum256([]byte(c2))
	if ev.CurrentHash != hex.EncodeToString(wantHash[:]) {
		t.Fatalf("currentHash = %q", ev.CurrentHash)
	}
	if ev.PreviousHash == "" {
		t.Fatal("previousHash missing")
	}

	// Third tick fetches identical content: still exactly one event.
	now = now.Add(61 * time.Second)
	m.Tick(ctx)
	events, _ = m.GetEvents(target.ID, 10)
	if len(events) != 1 {
		t.Fatalf("events after identical fetch = %d, want 1", len(events))
	}

	got, _ := m.GetWatch(target.ID)
	if got.CheckCount != 3 || got.ChangeCount != 1 {
		t.Fatalf("checkCount/changeCount = %d/%d, want 3/1", got.CheckCount, got.ChangeCount)
	}
	if got.ChangeCount > got.CheckCount {
		t.Fatal("changeCount exceeds checkCount")
	}
}

func TestIntervalGatesChecks(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, &scriptedFetcher{bodies: []string{"stable content words"}}, &now)
	ctx := context.Background()

	target, _ := m.AddWatch("https://example.com/a", AddOptions{IntervalSeconds: 120})

	m.Tick(ctx)
	now = now.Add(30 * time.Second)
	m.Tick(ctx) // too soon
	got, _ := m.GetWatch(target.ID)
	if got.CheckCount != 1 {
		t.Fatalf("checkCount = %d, want 1 (interval not elapsed)", got.CheckCount)
	}

	prev := got.LastChecked
	now = now.Add(120 * time.Second)
	m.Tick(ctx)
	got, _ = m.GetWatch(target.ID)
	if got.CheckCount != 2 {
		t.Fatalf("checkCount = %d, want 2", got.CheckCount)
	}
	if !got.LastChecked.After(prev) {
		t.Fatal("lastChecked did not advance")
	}
}

func TestCheckErrorSetsErrorStatusAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{bodies: []string{"fine content here"}, err: errors.New("origin down")}
	m := newTestManager(t, fetcher, &now)
	ctx := context.Background()

	target, _ := m.AddWatch("https://example.com/flaky", AddOptions{})

	m.Tick(ctx)
	got, _ := m.GetWatch(target.ID)
	if got.Status != StatusError || got.LastError == "" {
		t.Fatalf("after failure: %+v", got)
	}
	if got.CheckCount != 1 {
		t.Fatalf("failed check must still count: %d", got.CheckCount)
	}

	// Errored targets are not checked by ticks until resumed.
	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()
	if err := m.ResumeWatch(target.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = m.GetWatch(target.ID)
	if got.Status != StatusActive || got.LastError != "" {
		t.Fatalf("after resume: %+v", got)
	}

	now = now.Add(61 * time.Second)
	m.Tick(ctx)
	got, _ = m.GetWatch(target.ID)
	if got.Status != StatusActive || got.LastError != "" {
		t.Fatalf("after recovery check: %+v", got)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []Event
	var contentType, userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Errorf("webhook body: %v", err)
		}
		mu.Lock()
		received = append(received, ev)
		contentType = r.Header.Get("Content-Type")
		userAgent = r.Header.Get("User-Agent")
		mu.Unlock()
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{bodies: []string{
		"original article body with several words in it",
		"completely new article body saying something else entirely now",
	}}
	m := newTestManager(t, fetcher, &now)
	ctx := context.Background()

	target, _ := m.AddWatch("https://example.com/hooked", AddOptions{WebhookURL: srv.URL})

	m.Tick(ctx)
	now = now.Add(61 * time.Second)
	m.Tick(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("webhook deliveries = %d, want 1", len(received))
	}
	if received[0].WatchID != target.ID || received[0].ChangePercent <= 0 {
		t.Fatalf("delivered event = %+v", received[0])
	}
	if contentType != "application/json" {
		t.Fatalf("Content-Type = %q", contentType)
	}
	if userAgent != "sieve/1.0" {
		t.Fatalf("User-Agent = %q", userAgent)
	}
	if m.Stats().WebhookDeliveries != 1 {
		t.Fatalf("stats deliveries = %d", m.Stats().WebhookDeliveries)
	}
}

func TestSlowWebhookDoesNotBlockAccessors(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		close(entered)
		<-release
	}))
	defer srv.Close()
	defer unblock()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &scriptedFetcher{bodies: []string{
		"baseline body with a handful of ordinary words",
		"replacement body reading entirely differently from the baseline",
	}}
	m := newTestManager(t, fetcher, &now)
	ctx := context.Background()

	target, _ := m.AddWatch("https://example.com/slowhook", AddOptions{WebhookURL: srv.URL})

	m.Tick(ctx) // baseline snapshot, no delivery
	now = now.Add(61 * time.Second)

	done := make(chan struct{})
	go func() {
		m.Tick(ctx)
		close(done)
	}()
	<-entered // delivery is in flight and stalled

	got := make(chan Target, 1)
	go func() {
		tgt, _ := m.GetWatch(target.ID)
		got <- tgt
	}()
	select {
	case tgt := <-got:
		if tgt.ChangeCount != 1 {
			t.Errorf("changeCount = %d, want 1 committed before delivery", tgt.ChangeCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetWatch blocked behind an in-flight webhook delivery")
	}
	if got := len(m.ListWatches()); got != 1 {
		t.Errorf("ListWatches = %d during delivery", got)
	}

	unblock()
	<-done
	if m.Stats().WebhookDeliveries != 1 {
		t.Fatalf("stats deliveries = %d, want 1", m.Stats().WebhookDeliveries)
	}
}

func TestTickSingleFlight(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, &scriptedFetcher{bodies: []string{"x"}}, &now)

	m.inFlight.Store(true)
	m.Tick(context.Background())
	if m.Stats().SkippedTicks != 1 {
		t.Fatalf("skipped = %d, want 1", m.Stats().SkippedTicks)
	}
	m.inFlight.Store(false)
}

func TestTargetsPersistAcrossRestart(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dataDir := t.TempDir()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT, url TEXT NOT NULL, content_hash TEXT NOT NULL,
	content TEXT NOT NULL, title TEXT NOT NULL DEFAULT '', length INTEGER NOT NULL,
	change_percent REAL NOT NULL DEFAULT 0, captured_at INTEGER NOT NULL);`))
	differ := diff.NewSQLiteEngine(db)

	cfg := Config{DataDir: dataDir, Now: func() time.Time { return now }}
	m1, err := NewManager(&scriptedFetcher{bodies: []string{"x"}}, passthroughDistiller{}, differ, cfg)
	if err != nil {
		t.Fatal(err)
	}
	target, err := m1.AddWatch("https://example.com/persisted", AddOptions{IntervalSeconds: 300})
	if err != nil {
		t.Fatal(err)
	}

	m2, err := NewManager(&scriptedFetcher{bodies: []string{"x"}}, passthroughDistiller{}, differ, cfg)
	if err != nil {
		t.Fatal(err)
	}
	restored, ok := m2.GetWatch(target.ID)
	if !ok {
		t.Fatal("target not restored")
	}
	if restored.URL != "https://example.com/persisted" || restored.Interval != 300 {
		t.Fatalf("restored = %+v", restored)
	}
}
