package agentic

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sievelabs/sieve/distill"
	"github.com/sievelabs/sieve/extractor"
)

const thinHTML = `<html><head><title>Thin</title></head><body>
<article><p>Short teaser.</p></article>
</body></html>`

var richHTML = `<html><head><title>Full Story</title></head><body><article>` +
	strings.Repeat(`<p>This paragraph carries the substance of the article. It is long enough to count as real prose, with sentences. It keeps going for a while.</p>`, 6) +
	`</article></body></html>`

// fakeLocator reports nothing visible so strategies that probe selectors
// fall through.
type fakeLocator struct{}

func (fakeLocator) IsVisible(context.Context, time.Duration) (bool, error) { return false, nil }
func (fakeLocator) Click(context.Context) error                           { return nil }
func (fakeLocator) Fill(context.Context, string) error                    { return nil }
func (fakeLocator) Type(context.Context, string) error                    { return nil }

// fakePage serves one HTML snapshot per Content call and scripted
// scrollHeight answers per query.
type fakePage struct {
	url     string
	htmls   []string
	reads   int
	heights []float64
	hreads  int
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Content(context.Context) (string, error) {
	i := p.reads
	if i >= len(p.htmls) {
		i = len(p.htmls) - 1
	}
	p.reads++
	return p.htmls[i], nil
}

func (p *fakePage) Goto(context.Context, string, string) error { return nil }

func (p *fakePage) Evaluate(_ context.Context, expr string, _ ...any) (any, error) {
	if strings.Contains(expr, "scrollHeight") {
		i := p.hreads
		if i >= len(p.heights) {
			i = len(p.heights) - 1
		}
		p.hreads++
		return p.heights[i], nil
	}
	if strings.Contains(expr, "el.remove()") {
		return float64(0), nil
	}
	return nil, nil
}

func (p *fakePage) WaitForTimeout(context.Context, time.Duration) error { return nil }

func (p *fakePage) WaitForSelector(context.Context, string, string, time.Duration) error {
	return nil
}

func (p *fakePage) Locator(string) Locator { return fakeLocator{} }

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	d := distill.New([]extractor.Extractor{
		&extractor.ReadabilityExtractor{},
		&extractor.DensityExtractor{},
	}, distill.Config{})
	return New(d, nil)
}

func TestExtractStopsWhenQualityMet(t *testing.T) {
	page := &fakePage{url: "https://example.org/story", htmls: []string{richHTML}}

	res, err := newTestExtractor(t).Extract(context.Background(), page, Options{
		ConfidenceThreshold: 0.1,
		MinContentLength:    200,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.QualityMet {
		t.Fatalf("quality not met: %+v", res.Attempts)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(res.Attempts))
	}
	if len(res.Improvements) != 0 {
		t.Fatalf("unexpected improvements %v", res.Improvements)
	}
	if res.Distillation == nil || res.Distillation.ContentLength < 200 {
		t.Fatalf("best distillation too small: %+v", res.Distillation)
	}
}

func TestExtractAppliesStrategyThenSucceeds(t *testing.T) {
	// First snapshot is thin; the scroll strategy observes growth
	// (100 -> 400) and the second snapshot is the full page.
	page := &fakePage{
		url:     "https://example.org/lazy",
		htmls:   []string{thinHTML, richHTML},
		heights: []float64{100, 400},
	}

	res, err := newTestExtractor(t).Extract(context.Background(), page, Options{
		ConfidenceThreshold: 0.1,
		MinContentLength:    200,
		EnableScrolling:     true,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.QualityMet {
		t.Fatalf("quality not met after improvement: %+v", res.Attempts)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(res.Attempts))
	}
	if len(res.Improvements) != 1 || res.Improvements[0] != "scroll" {
		t.Fatalf("improvements = %v, want [scroll]", res.Improvements)
	}
	if res.Attempts[0].Improvement != "scroll" {
		t.Fatalf("first attempt improvement = %q", res.Attempts[0].Improvement)
	}
	if res.Distillation.ContentLength < 200 {
		t.Fatalf("best content length = %d", res.Distillation.ContentLength)
	}
}

func TestExtractStopsWhenNoStrategyChanges(t *testing.T) {
	// Page never grows and no overlays exist: every strategy is a no-op,
	// so the loop ends after the first attempt instead of burning budget.
	page := &fakePage{
		url:     "https://example.org/static",
		htmls:   []string{thinHTML},
		heights: []float64{100, 100},
	}

	res, err := newTestExtractor(t).Extract(context.Background(), page, Options{
		ConfidenceThreshold: 0.1,
		MinContentLength:    200,
		EnableScrolling:     true,
		MaxAttempts:         5,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.QualityMet {
		t.Fatal("quality reported met for thin page")
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (loop should stop without a change)", len(res.Attempts))
	}
	if res.Distillation == nil {
		t.Fatal("best-so-far distillation missing")
	}
}

func TestExtractKeepsBestAcrossAttempts(t *testing.T) {
	// Quality degrades on the second attempt; the returned distillation
	// must still be the first, better one.
	page := &fakePage{
		url:     "https://example.org/regressing",
		htmls:   []string{richHTML, thinHTML},
		heights: []float64{100, 400},
	}

	res, err := newTestExtractor(t).Extract(context.Background(), page, Options{
		ConfidenceThreshold: 0.99, // unreachable, forces the full loop
		MinContentLength:    200,
		EnableScrolling:     true,
		MaxAttempts:         2,
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.QualityMet {
		t.Fatal("threshold 0.99 should not be met")
	}
	if res.Distillation == nil || res.Distillation.ContentLength < 200 {
		t.Fatalf("best result was not retained: %+v", res.Distillation)
	}
}

func TestStrategiesHonourOptionGates(t *testing.T) {
	e := newTestExtractor(t)

	names := func(opts Options) []string {
		var out []string
		for _, s := range e.strategies(opts) {
			out = append(out, s.name)
		}
		return out
	}

	all := names(Options{EnableScrolling: true, EnableInteraction: true, EnableAlternateExtraction: true})
	want := []string{"scroll", "dismiss-overlays", "click-show-more", "wait-for-loading", "strip-interference", "alternate-container"}
	if len(all) != len(want) {
		t.Fatalf("strategies = %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Fatalf("strategies[%d] = %q, want %q", i, all[i], want[i])
		}
	}

	none := names(Options{})
	if len(none) != 2 {
		t.Fatalf("ungated strategies = %v, want wait+strip only", none)
	}
}

func TestBetterOrdering(t *testing.T) {
	hiConf := &distill.Result{ExtractionConfidence: 0.8, ContentLength: 100}
	loConf := &distill.Result{ExtractionConfidence: 0.4, ContentLength: 5000}
	longer := &distill.Result{ExtractionConfidence: 0.8, ContentLength: 200}

	if !better(hiConf, nil) {
		t.Fatal("anything beats nil")
	}
	if !better(hiConf, loConf) {
		t.Fatal("confidence dominates length")
	}
	if !better(longer, hiConf) {
		t.Fatal("equal confidence falls back to length")
	}
	if better(hiConf, longer) {
		t.Fatal("shorter must not beat longer at equal confidence")
	}
}
