// Package distill turns raw HTML into a clean, ordered sequence of article
// nodes. It runs every registered extractor over the document, scores the
// candidates through an ensemble, guards against incomplete selections, and
// attaches confidence, structured metadata, and tables to the result.
package distill

import (
	"context"
	"time"

	"github.com/sievelabs/sieve/extractor"
)

// NodeType distinguishes distilled node kinds.
type NodeType string

const (
	NodeParagraph NodeType = "paragraph"
	NodeHeading   NodeType = "heading"
)

// SourceSpan locates a piece of distilled text in the original HTML.
type SourceSpan struct {
	URL         string    `json:"url"`
	Timestamp   time.Time `json:"timestamp"`
	ContentHash string    `json:"content_hash"`
	ByteStart   int       `json:"byte_start"`
	ByteEnd     int       `json:"byte_end"`
	Selector    string    `json:"selector,omitempty"`
}

// DistilledNode is one ordered unit of distilled content. Orders are dense
// and start at 0.
type DistilledNode struct {
	ID          string       `json:"id"`
	Order       int          `json:"order"`
	Type        NodeType     `json:"type"`
	Text        string       `json:"text"`
	SourceSpans []SourceSpan `json:"source_spans,omitempty"`
}

// ExtractionScore is the ensemble's scoring of one candidate.
type ExtractionScore struct {
	Composite float64            `json:"composite_score"`
	Subscores map[string]float64 `json:"subscores"`
}

// ConfidenceBreakdown holds the multi-dimensional confidence subscores.
// Overall is the weighted combination documented in confidence.go.
type ConfidenceBreakdown struct {
	Extraction        float64 `json:"extraction"`
	ContentQuality    float64 `json:"content_quality"`
	Metadata          float64 `json:"metadata"`
	SourceCredibility float64 `json:"source_credibility"`
	Consensus         float64 `json:"consensus"`
	Overall           float64 `json:"overall"`
}

// Table is a table lifted from the document.
type Table struct {
	Caption string     `json:"caption,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// StructuredMetadata aggregates machine-readable page metadata.
type StructuredMetadata struct {
	JSONLD      []map[string]any  `json:"json_ld,omitempty"`
	OpenGraph   map[string]string `json:"open_graph,omitempty"`
	TwitterCard map[string]string `json:"twitter_card,omitempty"`
	Microdata   []MicrodataItem   `json:"microdata,omitempty"`
}

// MicrodataItem is one itemscope with its itemprop values.
type MicrodataItem struct {
	Type       string            `json:"type,omitempty"`
	Properties map[string]string `json:"properties"`
}

// PolicyResult is what a policy engine returns for a page.
type PolicyResult struct {
	TransformedHTML string   `json:"-"`
	PolicyApplied   string   `json:"policy_applied"`
	RulesMatched    []string `json:"rules_matched,omitempty"`
	FieldsValidated int      `json:"fields_validated"`
}

// PolicyEngine applies site or caller policy transforms to raw HTML before
// extraction. Implementations live outside this package.
type PolicyEngine interface {
	ApplyPolicy(ctx context.Context, html, pageURL, hint string) (*PolicyResult, error)
}

// Result is the complete outcome of one distillation.
type Result struct {
	Title                string              `json:"title"`
	Nodes                []DistilledNode     `json:"nodes"`
	ContentText          string              `json:"content_text"`
	ContentLength        int                 `json:"content_length"`
	ContentMarkdown      string              `json:"content_markdown,omitempty"`
	ContentHash          string              `json:"content_hash"`
	FallbackUsed         bool                `json:"fallback_used"`
	ExtractionMethod     extractor.Method    `json:"extraction_method"`
	ExtractionConfidence float64             `json:"extraction_confidence"`
	Confidence           ConfidenceBreakdown `json:"confidence"`
	Score                *ExtractionScore    `json:"score,omitempty"`
	Explanation          string              `json:"explanation,omitempty"`
	PolicyMetadata       *PolicyResult       `json:"policy_metadata,omitempty"`
	StructuredMetadata   *StructuredMetadata `json:"structured_metadata,omitempty"`
	Tables               []Table             `json:"tables,omitempty"`
}
