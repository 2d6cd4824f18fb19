package distill

import (
	"net/url"
	"strings"

	"github.com/sievelabs/sieve/extractor"
)

// Confidence dimension weights. They are fixed and sum to 1:
//
//	overall = 0.35*extraction + 0.25*contentQuality + 0.15*metadata +
//	          0.15*sourceCredibility + 0.10*consensus
const (
	confWeightExtraction  = 0.35
	confWeightQuality     = 0.25
	confWeightMetadata    = 0.15
	confWeightCredibility = 0.15
	confWeightConsensus   = 0.10
)

// credibleTLDs get a source-credibility bonus.
var credibleTLDs = []string{".gov", ".edu", ".org"}

// ConfidenceScorer computes the multi-dimensional confidence breakdown for a
// distillation. It is deterministic: identical inputs produce identical
// outputs.
type ConfidenceScorer struct{}

// ConfidenceInput is everything the scorer considers.
type ConfidenceInput struct {
	Selected   *extractor.Candidate
	Candidates []*extractor.Candidate
	PageURL    string
	// StructuralNodes is the distilled node count, a proxy for how much
	// document structure survived extraction.
	StructuralNodes int
}

// NewConfidenceScorer creates a ConfidenceScorer.
func NewConfidenceScorer() *ConfidenceScorer { return &ConfidenceScorer{} }

// ComputeFull produces the complete breakdown.
func (s *ConfidenceScorer) ComputeFull(in ConfidenceInput) ConfidenceBreakdown {
	var b ConfidenceBreakdown
	if in.Selected != nil {
		b.Extraction = clamp01(in.Selected.Confidence)
		b.ContentQuality = s.ComputeContentQuality(in.Selected.Content, in.StructuralNodes)
		b.Metadata = metadataSubscore(in.Selected.Metadata)
	}
	b.SourceCredibility = sourceCredibility(in.PageURL)
	b.Consensus = consensus(in.Selected, in.Candidates)
	b.Overall = clamp01(confWeightExtraction*b.Extraction +
		confWeightQuality*b.ContentQuality +
		confWeightMetadata*b.Metadata +
		confWeightCredibility*b.SourceCredibility +
		confWeightConsensus*b.Consensus)
	return b
}

// ComputeContentQuality is a cheap heuristic proxy used by the agentic loop
// when a full breakdown is unavailable. Scores the text by length, sentence
// shape, and surviving structure.
func (s *ConfidenceScorer) ComputeContentQuality(text string, structuralNodeCount int) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	q := 0.2
	if len(text) >= 300 {
		q += 0.2
	}
	if len(text) >= 1500 {
		q += 0.15
	}
	words := strings.Fields(text)
	if len(words) >= 80 {
		q += 0.15
	}
	// Sentence punctuation suggests prose rather than scraped menu text.
	if strings.Count(text, ". ")+strings.Count(text, ".\n") >= 3 {
		q += 0.15
	}
	if structuralNodeCount >= 3 {
		q += 0.15
	}
	return clamp01(q)
}

// sourceCredibility scores the page URL: https, a registrable host, and a
// credible TLD each add weight.
func sourceCredibility(pageURL string) float64 {
	if pageURL == "" {
		return 0.3
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return 0.2
	}
	score := 0.4
	if u.Scheme == "https" {
		score += 0.2
	}
	host := strings.ToLower(u.Hostname())
	if strings.Count(host, ".") >= 1 && !strings.HasPrefix(host, "localhost") {
		score += 0.2
	}
	for _, tld := range credibleTLDs {
		if strings.HasSuffix(host, tld) {
			score += 0.2
			break
		}
	}
	return clamp01(score)
}

// consensus measures agreement between candidates: higher when two or more
// produced overlapping titles and content of comparable length.
func consensus(selected *extractor.Candidate, candidates []*extractor.Candidate) float64 {
	if selected == nil || len(candidates) < 2 {
		return 0
	}
	agreeing := 0
	for _, c := range candidates {
		if c == selected {
			continue
		}
		if titlesOverlap(selected.Title, c.Title) && comparableLength(len(selected.Content), len(c.Content)) {
			agreeing++
		}
	}
	switch {
	case agreeing >= 2:
		return 1
	case agreeing == 1:
		return 0.7
	default:
		return 0.2
	}
}

func titlesOverlap(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

// comparableLength reports whether two lengths are within a factor of two.
func comparableLength(a, b int) bool {
	if a == 0 || b == 0 {
		return false
	}
	if a > b {
		a, b = b, a
	}
	return b <= 2*a
}
