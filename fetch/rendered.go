package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/sievelabs/sieve/browser"
)

// RenderedClient fetches through a headless browser, so script-built pages
// serialize with their final DOM. Requests with ModeHTTP (or no mode) are
// delegated to the plain client.
type RenderedClient struct {
	plain   Client
	manager *browser.Manager
	// validate guards URLs before they reach the browser.
	validate func(string) error
}

var _ Client = (*RenderedClient)(nil)

// NewRenderedClient composes a plain client with a browser manager. manager
// may be nil, in which case rendered requests fail cleanly.
func NewRenderedClient(plain Client, manager *browser.Manager) *RenderedClient {
	return &RenderedClient{plain: plain, manager: manager, validate: ValidateURL}
}

// Fetch dispatches on req.Mode.
func (c *RenderedClient) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.Mode != ModeRendered {
		return c.plain.Fetch(ctx, req)
	}
	if c.manager == nil {
		return nil, fmt.Errorf("fetch: rendered mode requested but no browser configured")
	}
	if err := c.validate(req.URL); err != nil {
		return nil, fmt.Errorf("fetch: URL blocked: %w", err)
	}

	page, err := c.manager.NewPage(ctx, req.URL, "networkidle")
	if err != nil {
		return nil, fmt.Errorf("fetch: render %s: %w", req.URL, err)
	}
	defer page.Close()

	html, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: render %s: %w", req.URL, err)
	}

	body := []byte(html)
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	return &Result{
		Body:     body,
		FinalURL: page.URL(),
		Status:   http.StatusOK,
		Hash:     hash,
		Changed:  req.PrevHash == "" || hash != req.PrevHash,
	}, nil
}
