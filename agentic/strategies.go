package agentic

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// overlaySelectors match cookie banners, paywall teasers, and modal
// curtains that hide or truncate content.
var overlaySelectors = []string{
	`[class*="cookie"]`,
	`[class*="consent"]`,
	`[class*="gdpr"]`,
	`[id*="cookie"]`,
	`[class*="modal"]`,
	`[class*="overlay"]`,
	`[class*="popup"]`,
	`[class*="paywall"]`,
	`[role="dialog"]`,
}

// dismissTexts are button labels that close an overlay.
var dismissTexts = []string{"accept", "agree", "ok", "got it", "close", "dismiss", "no thanks", "continue", "x"}

// showMoreTexts are button labels that expand truncated content.
var showMoreTexts = []string{"show more", "read more", "load more", "see more", "view more", "continue reading", "expand"}

// loadingSelectors match visible loading indicators.
var loadingSelectors = []string{
	`[class*="loading"]`,
	`[class*="spinner"]`,
	`[class*="skeleton"]`,
	`[class*="placeholder-glow"]`,
	`[aria-busy="true"]`,
}

// interferenceSelectors match fixed chrome that pollutes serialized HTML.
var interferenceSelectors = []string{
	`header[class*="sticky"]`,
	`[class*="fixed-header"]`,
	`[class*="sticky-nav"]`,
	`[class*="ad-container"]`,
	`[class*="advert"]`,
	`[id*="google_ads"]`,
	`aside[class*="promo"]`,
}

// alternateContainers are the semantic containers tried by the alternate
// extraction strategy, in order.
var alternateContainers = []string{"article", "main", `[role="main"]`}

// waitLoadingCap bounds how long the loading-indicator strategy waits.
const waitLoadingCap = 5 * time.Second

// strategy is one improvement applied between extraction attempts. apply
// reports whether it changed the page.
type strategy struct {
	name  string
	apply func(ctx context.Context, page Page) (bool, error)
}

// strategies returns the ordered strategy list for one run, honouring the
// option gates. Order matters: cheap and safe first.
func (e *Extractor) strategies(opts Options) []strategy {
	var out []strategy
	if opts.EnableScrolling {
		out = append(out, strategy{name: "scroll", apply: scrollIncremental})
	}
	if opts.EnableInteraction {
		out = append(out,
			strategy{name: "dismiss-overlays", apply: dismissOverlays},
			strategy{name: "click-show-more", apply: clickShowMore},
		)
	}
	out = append(out,
		strategy{name: "wait-for-loading", apply: waitForLoading},
		strategy{name: "strip-interference", apply: stripInterference},
	)
	if opts.EnableAlternateExtraction {
		out = append(out, strategy{name: "alternate-container", apply: alternateContainer})
	}
	return out
}

// scrollIncremental scrolls down in steps to trigger lazy loading, and
// reports whether document.scrollHeight grew.
func scrollIncremental(ctx context.Context, page Page) (bool, error) {
	before, err := scrollHeight(ctx, page)
	if err != nil {
		return false, err
	}
	for i := 0; i < 4; i++ {
		if _, err := page.Evaluate(ctx, `() => window.scrollBy(0, window.innerHeight)`); err != nil {
			return false, err
		}
		if err := page.WaitForTimeout(ctx, 400*time.Millisecond); err != nil {
			return false, err
		}
	}
	after, err := scrollHeight(ctx, page)
	if err != nil {
		return false, err
	}
	return after > before, nil
}

func scrollHeight(ctx context.Context, page Page) (float64, error) {
	v, err := page.Evaluate(ctx, `() => document.body ? document.body.scrollHeight : 0`)
	if err != nil {
		return 0, err
	}
	return toFloat(v), nil
}

// dismissOverlays clicks dismissal buttons inside known overlay containers.
func dismissOverlays(ctx context.Context, page Page) (bool, error) {
	dismissed := false
	for _, sel := range overlaySelectors {
		visible, err := page.Locator(sel).IsVisible(ctx, 200*time.Millisecond)
		if err != nil || !visible {
			continue
		}
		clicked, err := clickByText(ctx, page, sel, dismissTexts)
		if err != nil {
			continue
		}
		if clicked {
			dismissed = true
		}
	}
	return dismissed, nil
}

// clickShowMore clicks expansion buttons anywhere in the document.
func clickShowMore(ctx context.Context, page Page) (bool, error) {
	return clickByText(ctx, page, "body", showMoreTexts)
}

// clickByText clicks descendants of root whose visible text matches one of
// the given labels. Returns whether anything was clicked.
func clickByText(ctx context.Context, page Page, root string, labels []string) (bool, error) {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	expr := fmt.Sprintf(`(root) => {
		const labels = [%s];
		const scope = document.querySelector(root);
		if (!scope) return 0;
		let clicked = 0;
		const nodes = scope.querySelectorAll('button, a, [role="button"], input[type="button"]');
		for (const el of nodes) {
			const text = (el.innerText || el.value || '').trim().toLowerCase();
			if (!text || text.length > 40) continue;
			if (labels.some(l => text === l || text.startsWith(l))) {
				el.click();
				clicked++;
				if (clicked >= 3) break;
			}
		}
		return clicked;
	}`, strings.Join(quoted, ", "))

	v, err := page.Evaluate(ctx, expr, root)
	if err != nil {
		return false, err
	}
	if toFloat(v) == 0 {
		return false, nil
	}
	// Give the page a beat to settle after the click.
	_ = page.WaitForTimeout(ctx, 500*time.Millisecond)
	return true, nil
}

// waitForLoading waits for visible loading indicators to disappear, capped
// at waitLoadingCap.
func waitForLoading(ctx context.Context, page Page) (bool, error) {
	waited := false
	deadline := time.Now().Add(waitLoadingCap)
	for _, sel := range loadingSelectors {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		visible, err := page.Locator(sel).IsVisible(ctx, 200*time.Millisecond)
		if err != nil || !visible {
			continue
		}
		if err := page.WaitForSelector(ctx, sel, "hidden", remaining); err == nil {
			waited = true
		}
	}
	return waited, nil
}

// stripInterference removes fixed headers, ad containers, and sticky nav
// from the live DOM.
func stripInterference(ctx context.Context, page Page) (bool, error) {
	quoted := make([]string, len(interferenceSelectors))
	for i, s := range interferenceSelectors {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	expr := fmt.Sprintf(`() => {
		const selectors = [%s];
		let removed = 0;
		for (const sel of selectors) {
			for (const el of document.querySelectorAll(sel)) {
				el.remove();
				removed++;
			}
		}
		return removed;
	}`, strings.Join(quoted, ", "))

	v, err := page.Evaluate(ctx, expr)
	if err != nil {
		return false, err
	}
	return toFloat(v) > 0, nil
}

// alternateContainer replaces the document body with the innerHTML of the
// first non-empty semantic container so the next extraction sees only it.
func alternateContainer(ctx context.Context, page Page) (bool, error) {
	for _, sel := range alternateContainers {
		v, err := page.Evaluate(ctx, `(sel) => {
			const el = document.querySelector(sel);
			if (!el || el.innerText.trim().length < 100) return false;
			document.body.innerHTML = el.innerHTML;
			return true;
		}`, sel)
		if err != nil {
			continue
		}
		if b, ok := v.(bool); ok && b {
			return true, nil
		}
	}
	return false, nil
}

// toFloat coerces Evaluate's loosely-typed return into a float64.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
