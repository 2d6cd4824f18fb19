// Package agentic drives a live browser page through iterative
// extract/evaluate/improve cycles until a quality threshold is reached or
// the attempt budget runs out.
//
// The package never owns the page: callers hand in anything satisfying Page
// (a real rod-backed page or a test double) and get back the best
// distillation seen across all attempts.
package agentic

import (
	"context"
	"time"
)

// Locator is a handle on elements matching a selector.
type Locator interface {
	// IsVisible reports whether a matching element is visible within the
	// timeout.
	IsVisible(ctx context.Context, timeout time.Duration) (bool, error)
	// Click clicks the first matching element.
	Click(ctx context.Context) error
	// Fill replaces the value of the first matching input.
	Fill(ctx context.Context, text string) error
	// Type types text into the first matching input key by key.
	Type(ctx context.Context, text string) error
}

// Page is the capability set the agentic loop needs from a live browser
// page. It is not safe for concurrent use; the loop is single-threaded per
// page.
type Page interface {
	URL() string
	// Content returns the current serialized HTML of the page.
	Content(ctx context.Context) (string, error)
	// Goto navigates to a URL. waitUntil is one of "load", "networkidle".
	Goto(ctx context.Context, url, waitUntil string) error
	// Evaluate runs a JavaScript expression and returns its value.
	Evaluate(ctx context.Context, expr string, args ...any) (any, error)
	// WaitForTimeout sleeps for the given duration, honouring ctx.
	WaitForTimeout(ctx context.Context, d time.Duration) error
	// WaitForSelector waits until a selector reaches the given state
	// ("visible", "hidden", "attached").
	WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error
	// Locator returns a handle on elements matching the selector.
	Locator(selector string) Locator
}
