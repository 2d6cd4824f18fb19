package diff

import (
	"context"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sievelabs/sieve/dbopen"
)

func newTestEngine(t *testing.T) *SQLiteEngine {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(snapshotSchema))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewSQLiteEngine(db, WithEngineClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
}

func TestChangePercent(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
		min, max float64
	}{
		{"identical", "the quick brown fox", "the quick brown fox", 0, 0},
		{"both empty", "", "", 0, 0},
		{"old empty", "", "new content here", 100, 100},
		{"new empty", "old content here", "", 100, 100},
		{"complete replacement", "alpha beta gamma", "delta epsilon zeta", 100, 100},
		{"half changed", "one two three four", "one two five six", 40, 60},
		{"reordered only", "a b c d", "d c b a", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := changePercent(tt.old, tt.new)
			if got < tt.min || got > tt.max {
				t.Fatalf("changePercent = %.1f, want in [%.1f,%.1f]", got, tt.min, tt.max)
			}
		})
	}
}

func TestDetectChangesFirstSnapshot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	det, err := e.DetectChanges(ctx, "https://example.com/a", "initial content here", &Meta{Title: "A"})
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}
	if det.HasChanged {
		t.Fatal("first snapshot must not report a change")
	}
	if det.PreviousSnapshot != nil {
		t.Fatal("first snapshot has no previous")
	}
	if det.CurrentSnapshot.ContentHash != hashContent("initial content here") {
		t.Fatal("wrong current hash")
	}
	if det.Summary != "first snapshot" {
		t.Fatalf("summary = %q", det.Summary)
	}
}

func TestDetectChangesIdenticalContent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	url := "https://example.com/same"

	if _, err := e.DetectChanges(ctx, url, "stable content", nil); err != nil {
		t.Fatal(err)
	}
	det, err := e.DetectChanges(ctx, url, "stable content", nil)
	if err != nil {
		t.Fatal(err)
	}
	if det.HasChanged || det.ChangePercent != 0 {
		t.Fatalf("identical content flagged changed: %+v", det)
	}

	// No history growth either.
	hist, err := e.GetHistory(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("history = %d rows, want 1", len(hist))
	}
}

func TestDetectChangesReportsDelta(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	url := "https://example.com/news"

	c1 := "headline one body text about the event today"
	c2 := "headline two body text about a different event entirely tomorrow"
	if _, err := e.DetectChanges(ctx, url, c1, nil); err != nil {
		t.Fatal(err)
	}
	det, err := e.DetectChanges(ctx, url, c2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !det.HasChanged {
		t.Fatal("change not detected")
	}
	if det.ChangePercent < 5 || det.ChangePercent > 100 {
		t.Fatalf("changePercent = %.1f", det.ChangePercent)
	}
	if det.PreviousSnapshot == nil || det.PreviousSnapshot.ContentHash != hashContent(c1) {
		t.Fatalf("previous snapshot wrong: %+v", det.PreviousSnapshot)
	}
	if det.CurrentSnapshot.ContentHash != hashContent(c2) {
		t.Fatal("current snapshot wrong")
	}
	if !strings.Contains(det.Summary, "%") {
		t.Fatalf("summary = %q", det.Summary)
	}
}

func TestGetHistoryNewestFirst(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	url := "https://example.com/seq"

	contents := []string{"version one alpha", "version two beta", "version three gamma"}
	for _, c := range contents {
		if _, err := e.DetectChanges(ctx, url, c, nil); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := e.GetHistory(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("history = %d rows, want 3", len(hist))
	}
	if hist[0].ContentHash != hashContent(contents[2]) {
		t.Fatal("history not newest-first")
	}
	if !hist[0].CapturedAt.After(hist[2].CapturedAt) {
		t.Fatal("timestamps not descending")
	}
}

func TestHistoryCap(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(snapshotSchema))
	e := NewSQLiteEngine(db, WithMaxHistory(3))
	ctx := context.Background()
	url := "https://example.com/capped"

	for i := 0; i < 6; i++ {
		content := strings.Repeat("word ", i+1) + "tail" + string(rune('a'+i))
		if _, err := e.DetectChanges(ctx, url, content, nil); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := e.GetHistory(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("history = %d rows, want cap of 3", len(hist))
	}
}
