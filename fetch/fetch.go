// Package fetch retrieves page content over plain HTTP or through a
// rendering browser, with conditional GET, SSRF-guarded redirects, bounded
// reads, and optional read-through caching.
package fetch

import (
	"context"
	"errors"
)

// Mode selects how a URL is retrieved.
type Mode string

const (
	ModeHTTP     Mode = "http"     // plain GET
	ModeRendered Mode = "rendered" // headless browser, scripts executed
)

// ErrHTTPStatus marks responses with status >= 400. The Result is still
// populated for inspection.
var ErrHTTPStatus = errors.New("fetch: http error status")

// Request describes one fetch.
type Request struct {
	URL      string
	Mode     Mode
	UseCache bool

	// Conditional GET hints, usually carried over from a previous Result.
	ETag         string
	LastModified string
	// PrevHash enables content dedup for servers that ignore conditional
	// headers.
	PrevHash string
}

// Result is the outcome of a fetch.
type Result struct {
	Body      []byte `json:"-"`
	FinalURL  string `json:"final_url"`
	Status    int    `json:"status"`
	FromCache bool   `json:"from_cache"`

	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	// Hash is the SHA-256 hex of Body.
	Hash string `json:"hash,omitempty"`
	// Changed is false on 304 Not Modified or when Hash equals PrevHash.
	Changed bool `json:"changed"`
}

// Client retrieves URLs. Implementations must be safe for concurrent use.
type Client interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}
