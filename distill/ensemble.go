package distill

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sievelabs/sieve/extractor"
)

// Ensemble subscore weights. They sum to 1.
const (
	weightLength      = 0.30
	weightParagraphs  = 0.20
	weightTitle       = 0.15
	weightMetadata    = 0.15
	weightMethodPrior = 0.20
)

// Saturation targets for the normalized subscores.
const (
	lengthTarget    = 2000 // chars at which the length subscore reaches 1.0
	paragraphTarget = 8    // paragraphs at which the paragraph subscore reaches 1.0
)

// methodPriors order the extraction methods by historical reliability.
var methodPriors = map[extractor.Method]float64{
	extractor.MethodReadability:  0.90,
	extractor.MethodTrafilatura:  0.85,
	extractor.MethodOllama:       0.75,
	extractor.MethodDOMHeuristic: 0.70,
	extractor.MethodEbay:         0.85,
	extractor.MethodEbaySearch:   0.80,
	extractor.MethodFallback:     0.40,
}

// Completeness guard thresholds: a selection missing any of these is
// replaced by a fuller candidate when one exists.
const (
	guardMinParagraphs = 3
	guardMinChars      = 300
	guardMinWords      = 80
)

// Ensemble scores extraction candidates and picks the best one.
type Ensemble struct{}

// Selection is the outcome of SelectBest.
type Selection struct {
	Selected    *extractor.Candidate
	Score       ExtractionScore
	Explanation string
}

// NewEnsemble creates an Ensemble.
func NewEnsemble() *Ensemble { return &Ensemble{} }

// SelectBest scores every candidate and returns the winner with an
// explanation naming the winner and runner-up. Returns nil when candidates
// is empty; the caller must then take the fallback path.
func (e *Ensemble) SelectBest(candidates []*extractor.Candidate) *Selection {
	if len(candidates) == 0 {
		return nil
	}

	type scored struct {
		cand  *extractor.Candidate
		score ExtractionScore
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{cand: c, score: e.Score(c)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score.Composite != b.score.Composite {
			return a.score.Composite > b.score.Composite
		}
		// Tie-breaks: paragraph count, content length, method prior.
		if a.cand.ParagraphCount != b.cand.ParagraphCount {
			return a.cand.ParagraphCount > b.cand.ParagraphCount
		}
		if len(a.cand.Content) != len(b.cand.Content) {
			return len(a.cand.Content) > len(b.cand.Content)
		}
		return methodPrior(a.cand.Method) > methodPrior(b.cand.Method)
	})

	winner := ranked[0]
	var sb strings.Builder
	fmt.Fprintf(&sb, "selected %s (score %.3f", winner.cand.Method, winner.score.Composite)
	for _, k := range []string{"length", "paragraphs", "title", "metadata", "methodPrior"} {
		fmt.Fprintf(&sb, ", %s %.2f", k, winner.score.Subscores[k])
	}
	sb.WriteString(")")
	if len(ranked) > 1 {
		ru := ranked[1]
		fmt.Fprintf(&sb, "; runner-up %s (score %.3f, %d paragraphs, %d chars)",
			ru.cand.Method, ru.score.Composite, ru.cand.ParagraphCount, len(ru.cand.Content))
	}

	return &Selection{
		Selected:    winner.cand,
		Score:       winner.score,
		Explanation: sb.String(),
	}
}

// Score computes the weighted composite score for one candidate.
func (e *Ensemble) Score(c *extractor.Candidate) ExtractionScore {
	sub := map[string]float64{
		"length":      clamp01(float64(len(c.Content)) / lengthTarget),
		"paragraphs":  clamp01(float64(c.ParagraphCount) / paragraphTarget),
		"title":       titleSubscore(c),
		"metadata":    metadataSubscore(c.Metadata),
		"methodPrior": methodPrior(c.Method),
	}
	composite := weightLength*sub["length"] +
		weightParagraphs*sub["paragraphs"] +
		weightTitle*sub["title"] +
		weightMetadata*sub["metadata"] +
		weightMethodPrior*sub["methodPrior"]
	return ExtractionScore{Composite: clamp01(composite), Subscores: sub}
}

// ApplyCompletenessGuard replaces a thin selection with a fuller candidate
// when one exists. Returns the (possibly replaced) candidate and whether a
// replacement happened.
func ApplyCompletenessGuard(selected *extractor.Candidate, candidates []*extractor.Candidate) (*extractor.Candidate, bool) {
	if !isThin(selected) {
		return selected, false
	}
	var best *extractor.Candidate
	for _, c := range candidates {
		if c == selected {
			continue
		}
		if c.ParagraphCount >= guardMinParagraphs || len(c.Content) >= guardMinChars {
			if best == nil || len(c.Content) > len(best.Content) {
				best = c
			}
		}
	}
	if best == nil {
		return selected, false
	}
	return best, true
}

// isThin reports whether a candidate falls below any completeness
// threshold. Complete means all three are met.
func isThin(c *extractor.Candidate) bool {
	return c.ParagraphCount < guardMinParagraphs ||
		len(c.Content) < guardMinChars ||
		c.WordCount() < guardMinWords
}

func titleSubscore(c *extractor.Candidate) float64 {
	t := strings.TrimSpace(c.Title)
	if t == "" || strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return 0
	}
	return 1
}

func metadataSubscore(m extractor.Metadata) float64 {
	present := 0
	if m.Author != "" {
		present++
	}
	if m.PublishDate != "" {
		present++
	}
	if m.Excerpt != "" {
		present++
	}
	return float64(present) / 3
}

func methodPrior(m extractor.Method) float64 {
	if p, ok := methodPriors[m]; ok {
		return p
	}
	return 0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
