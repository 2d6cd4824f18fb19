// Package extractor defines the extraction candidate model and the
// heterogeneous extractors that propose article content for a fetched page.
//
// Every extractor is independent and side-effect free: given raw HTML and the
// page URL it either returns a candidate or an error. The distiller runs all
// registered extractors in parallel and feeds surviving candidates to the
// ensemble.
package extractor

import (
	"context"
	"strings"
)

// Method identifies which extraction strategy produced a candidate.
type Method string

const (
	MethodOllama       Method = "ollama"
	MethodReadability  Method = "readability"
	MethodDOMHeuristic Method = "dom-heuristic"
	MethodTrafilatura  Method = "trafilatura"
	MethodEbay         Method = "ebay-adapter"
	MethodEbaySearch   Method = "ebay-search-adapter"
	MethodFallback     Method = "fallback"
)

// Metadata carries optional article metadata found during extraction.
type Metadata struct {
	Author      string `json:"author,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
}

// Candidate is one extractor's proposal for the distilled content.
type Candidate struct {
	Method         Method   `json:"method"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	ParagraphCount int      `json:"paragraph_count"`
	Confidence     float64  `json:"confidence"`
	Metadata       Metadata `json:"metadata"`
}

// WordCount returns the number of whitespace-separated words in the content.
func (c *Candidate) WordCount() int {
	return len(strings.Fields(c.Content))
}

// Extractor produces a candidate from raw HTML. A nil candidate with a nil
// error means the extractor declined (nothing worth proposing).
type Extractor interface {
	// Method returns the discriminator this extractor tags candidates with.
	Method() Method
	// Extract parses html and proposes a candidate, or declines.
	Extract(ctx context.Context, html, baseURL string) (*Candidate, error)
}

// MarketplaceAdapter is a site-specific extractor dispatched by URL before the
// generic pipeline runs. The first adapter whose CanHandle returns true and
// whose Extract returns a candidate short-circuits distillation.
type MarketplaceAdapter interface {
	Extractor
	// CanHandle reports whether this adapter understands the given URL.
	CanHandle(pageURL string) bool
}

// Paragraphs splits text into non-empty paragraph blocks.
func Paragraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			out = append(out, strings.TrimSpace(block))
		}
	}
	return out
}
