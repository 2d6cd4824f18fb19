package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sievelabs/sieve/agentic"
)

// Page wraps a Rod page behind the capability interface the agentic loop
// and rendered fetching consume.
type Page struct {
	page       *rod.Page
	url        string
	navTimeout time.Duration
}

var _ agentic.Page = (*Page)(nil)

// URL returns the last navigated URL.
func (p *Page) URL() string { return p.url }

// Goto navigates and waits for the requested readiness. waitUntil is "load"
// (default) or "networkidle".
func (p *Page) Goto(ctx context.Context, pageURL, waitUntil string) error {
	navCtx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()

	pg := p.page.Context(navCtx)
	if err := pg.Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", pageURL, err)
	}
	if waitUntil == "networkidle" {
		wait := pg.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
		wait()
	}
	p.url = pageURL
	return nil
}

// Content serialises the current DOM as HTML.
func (p *Page) Content(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: serialize DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Evaluate runs a JavaScript function expression with arguments and returns
// its value decoded into Go types.
func (p *Page) Evaluate(ctx context.Context, expr string, args ...any) (any, error) {
	res, err := p.page.Context(ctx).Eval(expr, args...)
	if err != nil {
		return nil, fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Val(), nil
}

// WaitForTimeout sleeps for d, honouring ctx.
func (p *Page) WaitForTimeout(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitForSelector waits until the selector reaches the given state:
// "attached", "visible", or "hidden". A missing element already satisfies
// "hidden".
func (p *Page) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	pg := p.page.Context(ctx).Timeout(timeout)

	el, err := pg.Element(selector)
	if err != nil {
		if state == "hidden" {
			return nil
		}
		return fmt.Errorf("browser: wait for %q: %w", selector, err)
	}

	switch strings.ToLower(state) {
	case "hidden":
		err = el.WaitInvisible()
	case "visible":
		err = el.WaitVisible()
	default: // attached
		err = nil
	}
	if err != nil {
		return fmt.Errorf("browser: wait for %q %s: %w", selector, state, err)
	}
	return nil
}

// Locator returns a handle on elements matching the selector.
func (p *Page) Locator(selector string) agentic.Locator {
	return &locator{page: p.page, selector: selector}
}

// Screenshot captures the page as PNG and writes it to path, creating
// parent directories as needed.
func (p *Page) Screenshot(ctx context.Context, path string, fullPage bool) error {
	data, err := p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("browser: screenshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("browser: screenshot: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("browser: screenshot: %w", err)
	}
	return nil
}

// Close closes the tab.
func (p *Page) Close() error {
	if p.page != nil {
		return p.page.Close()
	}
	return nil
}

type locator struct {
	page     *rod.Page
	selector string
}

func (l *locator) element(ctx context.Context, timeout time.Duration) (*rod.Element, error) {
	pg := l.page.Context(ctx)
	if timeout > 0 {
		pg = pg.Timeout(timeout)
	}
	return pg.Element(l.selector)
}

// IsVisible reports whether a matching element is visible. Missing elements
// are not an error.
func (l *locator) IsVisible(ctx context.Context, timeout time.Duration) (bool, error) {
	el, err := l.element(ctx, timeout)
	if err != nil {
		return false, nil
	}
	return el.Visible()
}

// Click clicks the first matching element.
func (l *locator) Click(ctx context.Context) error {
	el, err := l.element(ctx, 0)
	if err != nil {
		return fmt.Errorf("browser: click %q: %w", l.selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Fill replaces the value of the first matching input.
func (l *locator) Fill(ctx context.Context, text string) error {
	el, err := l.element(ctx, 0)
	if err != nil {
		return fmt.Errorf("browser: fill %q: %w", l.selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("browser: fill %q: %w", l.selector, err)
	}
	return el.Input(text)
}

// Type types text into the first matching input key by key.
func (l *locator) Type(ctx context.Context, text string) error {
	el, err := l.element(ctx, 0)
	if err != nil {
		return fmt.Errorf("browser: type %q: %w", l.selector, err)
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("browser: type %q: %w", l.selector, err)
	}
	return el.Input(text)
}
