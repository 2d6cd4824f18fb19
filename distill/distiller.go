package distill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/sync/errgroup"

	"github.com/sievelabs/sieve/extractor"
)

// fallbackConfidence is the extraction confidence reported when only the
// paragraph-harvest fallback produced content.
const fallbackConfidence = 0.2

// Config configures a Distiller.
type Config struct {
	// ExtractorParallelism bounds concurrent extractor runs. Default: 4.
	ExtractorParallelism int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Now is an injectable clock for source span timestamps.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.ExtractorParallelism <= 0 {
		c.ExtractorParallelism = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Distiller orchestrates policy transforms, marketplace dispatch, the
// extractor fan-out, ensemble selection, and result assembly. Safe to call
// concurrently on disjoint inputs: all per-call state is local.
type Distiller struct {
	extractors []extractor.Extractor
	adapters   []extractor.MarketplaceAdapter
	policy     PolicyEngine
	ensemble   *Ensemble
	scorer     *ConfidenceScorer
	fallback   *extractor.FallbackExtractor
	md         *converter.Converter
	cfg        Config
}

// Option configures a Distiller.
type Option func(*Distiller)

// WithPolicyEngine sets the policy engine applied before extraction.
func WithPolicyEngine(p PolicyEngine) Option {
	return func(d *Distiller) { d.policy = p }
}

// WithAdapters sets the marketplace adapters, dispatched in order.
func WithAdapters(adapters ...extractor.MarketplaceAdapter) Option {
	return func(d *Distiller) { d.adapters = adapters }
}

// New creates a Distiller over the given extractors. Extractors run
// concurrently in the generic pipeline; adapters are checked in registration
// order first.
func New(extractors []extractor.Extractor, cfg Config, opts ...Option) *Distiller {
	cfg.defaults()
	d := &Distiller{
		extractors: extractors,
		ensemble:   NewEnsemble(),
		scorer:     NewConfidenceScorer(),
		fallback:   &extractor.FallbackExtractor{},
		cfg:        cfg,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ContentHash returns the canonical SHA-256 hex digest of raw HTML bytes.
func ContentHash(rawHTML string) string {
	h := sha256.Sum256([]byte(rawHTML))
	return hex.EncodeToString(h[:])
}

// Distill turns raw HTML into a Result. Domain-level failures (extractor
// errors, policy errors, empty pages) never return an error; they degrade to
// a low-confidence or fallback result. The error return is reserved for
// context cancellation.
func (d *Distiller) Distill(ctx context.Context, rawHTML, baseURL, policyHint string) (*Result, error) {
	log := d.cfg.Logger.With("url", baseURL)
	contentHash := ContentHash(rawHTML)

	// Policy transforms run first; on failure we proceed with the
	// unprocessed HTML and record the failure.
	workingHTML := rawHTML
	var policyMeta *PolicyResult
	if d.policy != nil {
		pr, err := d.policy.ApplyPolicy(ctx, rawHTML, baseURL, policyHint)
		if err != nil {
			log.Warn("distill: policy transform failed, continuing with raw HTML", "error", err)
			policyMeta = &PolicyResult{PolicyApplied: "error: " + err.Error()}
		} else if pr != nil {
			policyMeta = pr
			if pr.TransformedHTML != "" {
				workingHTML = pr.TransformedHTML
			}
		}
	}

	// Marketplace adapters short-circuit the generic pipeline.
	for _, a := range d.adapters {
		if !a.CanHandle(baseURL) {
			continue
		}
		cand, err := a.Extract(ctx, workingHTML, baseURL)
		if err != nil {
			log.Warn("distill: marketplace adapter failed", "method", a.Method(), "error", err)
			continue
		}
		if cand != nil {
			log.Debug("distill: marketplace adapter handled page", "method", a.Method())
			return d.assemble(cand, nil, rawHTML, baseURL, contentHash, policyMeta, false, nil), nil
		}
	}

	// Generic pipeline: run every extractor concurrently, tolerating
	// per-extractor failure.
	candidates := d.collectCandidates(ctx, workingHTML, baseURL, log)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if len(candidates) == 0 {
		return d.fallbackResult(ctx, workingHTML, rawHTML, baseURL, contentHash, policyMeta, log), nil
	}

	sel := d.ensemble.SelectBest(candidates)
	selected, replaced := ApplyCompletenessGuard(sel.Selected, candidates)
	explanation := sel.Explanation
	if replaced {
		explanation += "; completeness guard replaced selection with " + string(selected.Method)
		log.Debug("distill: completeness guard replaced selection",
			"original", sel.Selected.Method, "replacement", selected.Method)
	} else if isThin(selected) {
		// No fuller candidate: pad with fallback paragraphs until the
		// thresholds are met.
		selected = d.padWithFallback(ctx, selected, workingHTML, baseURL)
	}

	score := d.ensemble.Score(selected)
	return d.assemble(selected, candidates, rawHTML, baseURL, contentHash, policyMeta, false, &resultScore{score: score, explanation: explanation}), nil
}

type resultScore struct {
	score       ExtractionScore
	explanation string
}

// collectCandidates fans out to every extractor with bounded parallelism.
func (d *Distiller) collectCandidates(ctx context.Context, workingHTML, baseURL string, log *slog.Logger) []*extractor.Candidate {
	results := make([]*extractor.Candidate, len(d.extractors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.ExtractorParallelism)
	for i, ex := range d.extractors {
		g.Go(func() error {
			cand, err := ex.Extract(gctx, workingHTML, baseURL)
			if err != nil {
				log.Warn("distill: extractor failed", "method", ex.Method(), "error", err)
				return nil // tolerate per-extractor failure
			}
			results[i] = cand
			return nil
		})
	}
	g.Wait()

	var candidates []*extractor.Candidate
	for _, c := range results {
		if c != nil && strings.TrimSpace(c.Content) != "" {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// padWithFallback appends fallback paragraphs to a thin selection until the
// completeness thresholds are met.
func (d *Distiller) padWithFallback(ctx context.Context, selected *extractor.Candidate, workingHTML, baseURL string) *extractor.Candidate {
	fb, err := d.fallback.Extract(ctx, workingHTML, baseURL)
	if err != nil || fb == nil || fb.Content == "" {
		return selected
	}
	merged := *selected
	existing := extractor.Paragraphs(merged.Content)
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range extractor.Paragraphs(fb.Content) {
		if !isThin(&merged) {
			break
		}
		if seen[p] {
			continue
		}
		if merged.Content == "" {
			merged.Content = p
		} else {
			merged.Content += "\n\n" + p
		}
		merged.ParagraphCount++
		seen[p] = true
	}
	return &merged
}

// fallbackResult builds the result used when no extractor produced a
// candidate.
func (d *Distiller) fallbackResult(ctx context.Context, workingHTML, rawHTML, baseURL, contentHash string, policyMeta *PolicyResult, log *slog.Logger) *Result {
	cand, err := d.fallback.Extract(ctx, workingHTML, baseURL)
	if err != nil || cand == nil {
		log.Warn("distill: fallback extraction failed", "error", err)
		cand = &extractor.Candidate{Method: extractor.MethodFallback, Confidence: fallbackConfidence}
	}
	return d.assemble(cand, nil, rawHTML, baseURL, contentHash, policyMeta, true, nil)
}

// assemble builds the final Result from a chosen candidate.
func (d *Distiller) assemble(selected *extractor.Candidate, candidates []*extractor.Candidate, rawHTML, baseURL, contentHash string, policyMeta *PolicyResult, fallbackUsed bool, rs *resultScore) *Result {
	now := d.cfg.Now()
	nodes := buildNodes(selected, rawHTML, baseURL, contentHash, now)
	contentText := nodesText(nodes)

	breakdown := d.scorer.ComputeFull(ConfidenceInput{
		Selected:        selected,
		Candidates:      candidates,
		PageURL:         baseURL,
		StructuralNodes: len(nodes),
	})
	if fallbackUsed && breakdown.Overall > fallbackConfidence {
		breakdown.Overall = fallbackConfidence
	}

	res := &Result{
		Title:                selected.Title,
		Nodes:                nodes,
		ContentText:          contentText,
		ContentLength:        len(contentText),
		ContentHash:          contentHash,
		FallbackUsed:         fallbackUsed,
		ExtractionMethod:     selected.Method,
		ExtractionConfidence: breakdown.Overall,
		Confidence:           breakdown,
		PolicyMetadata:       policyMeta,
	}
	if rs != nil {
		res.Score = &rs.score
		res.Explanation = rs.explanation
	}

	// Structured metadata and tables come from a fresh DOM instance since
	// extraction may have consumed the working document. Failures here do
	// not fail the call.
	res.StructuredMetadata = extractStructuredMetadata(rawHTML)
	res.Tables = extractTables(rawHTML)
	res.ContentMarkdown = d.renderMarkdown(selected.Title, nodes, contentText, baseURL)

	return res
}

// renderMarkdown converts the distilled nodes to markdown. On conversion
// failure the plain content text is returned instead.
func (d *Distiller) renderMarkdown(title string, nodes []DistilledNode, fallback, baseURL string) string {
	if len(nodes) == 0 {
		return fallback
	}
	out, err := d.md.ConvertString(nodesToHTML(title, nodes), converter.WithDomain(baseURL))
	if err != nil || strings.TrimSpace(out) == "" {
		return fallback
	}
	return strings.TrimSpace(out)
}
