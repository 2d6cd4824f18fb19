package agentic

import (
	"context"
	"log/slog"
	"time"

	"github.com/sievelabs/sieve/distill"
	"github.com/sievelabs/sieve/extractor"
)

// Options tunes the agentic loop.
type Options struct {
	// ConfidenceThreshold stops the loop once reached. Default: 0.7.
	ConfidenceThreshold float64
	// MinContentLength is the minimum acceptable content size. Default: 200.
	MinContentLength int
	// MaxAttempts bounds extract/improve cycles. Default: 3.
	MaxAttempts int
	// Timeout bounds the whole run. Default: 30s.
	Timeout time.Duration
	// EnableScrolling allows the incremental scroll strategy.
	EnableScrolling bool
	// EnableInteraction allows overlay dismissal and show-more clicking.
	EnableInteraction bool
	// EnableAlternateExtraction allows extracting from semantic containers
	// directly.
	EnableAlternateExtraction bool
}

func (o *Options) defaults() {
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = 0.7
	}
	if o.MinContentLength <= 0 {
		o.MinContentLength = 200
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// AttemptRecord captures one extract/evaluate cycle.
type AttemptRecord struct {
	Attempt       int              `json:"attempt"`
	Method        extractor.Method `json:"method"`
	Confidence    float64          `json:"confidence"`
	ContentLength int              `json:"content_length"`
	Improvement   string           `json:"improvement,omitempty"`
	Duration      time.Duration    `json:"duration"`
}

// Result is the outcome of an agentic run: the best distillation seen plus
// the full attempt trail.
type Result struct {
	Distillation *distill.Result  `json:"distillation"`
	Attempts     []AttemptRecord  `json:"attempts"`
	Improvements []string         `json:"improvements,omitempty"`
	FinalMethod  extractor.Method `json:"final_method"`
	Duration     time.Duration    `json:"duration"`
	QualityMet   bool             `json:"quality_met"`
}

// Extractor runs the agentic loop over a Distiller.
type Extractor struct {
	distiller *distill.Distiller
	logger    *slog.Logger
}

// New creates an agentic Extractor.
func New(d *distill.Distiller, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{distiller: d, logger: logger}
}

// Extract runs the loop: extract, evaluate, and apply at most one untried
// improvement strategy per cycle. It never returns an error for quality
// problems; on unrecoverable failure the best-so-far result is returned.
func (e *Extractor) Extract(ctx context.Context, page Page, opts Options) (*Result, error) {
	opts.defaults()
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	log := e.logger.With("url", page.URL())
	strategies := e.strategies(opts)
	tried := make(map[string]bool, len(strategies))

	res := &Result{}
	var best *distill.Result

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			log.Warn("agentic: timeout before attempt", "attempt", attempt)
			break
		}
		attemptStart := time.Now()

		dr, err := e.extractOnce(ctx, page)
		if err != nil {
			log.Warn("agentic: extraction failed", "attempt", attempt, "error", err)
			res.Attempts = append(res.Attempts, AttemptRecord{
				Attempt:  attempt,
				Duration: time.Since(attemptStart),
			})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		rec := AttemptRecord{
			Attempt:       attempt,
			Method:        dr.ExtractionMethod,
			Confidence:    dr.ExtractionConfidence,
			ContentLength: dr.ContentLength,
			Duration:      time.Since(attemptStart),
		}
		res.Attempts = append(res.Attempts, rec)

		if better(dr, best) {
			best = dr
		}

		if dr.ExtractionConfidence >= opts.ConfidenceThreshold && dr.ContentLength >= opts.MinContentLength {
			res.QualityMet = true
			break
		}
		if attempt == opts.MaxAttempts {
			break
		}

		improvement := e.improve(ctx, page, strategies, tried, log)
		if improvement == "" {
			log.Debug("agentic: no strategy produced a change, stopping", "attempt", attempt)
			break
		}
		res.Attempts[len(res.Attempts)-1].Improvement = improvement
		res.Improvements = append(res.Improvements, improvement)
	}

	res.Distillation = best
	res.Duration = time.Since(start)
	if best != nil {
		res.FinalMethod = best.ExtractionMethod
	}
	return res, nil
}

// extractOnce snapshots the page HTML and distills it.
func (e *Extractor) extractOnce(ctx context.Context, page Page) (*distill.Result, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return nil, err
	}
	return e.distiller.Distill(ctx, html, page.URL(), "")
}

// improve runs the first untried strategy that reports a page change.
// Strategies run exactly once per run regardless of outcome.
func (e *Extractor) improve(ctx context.Context, page Page, strategies []strategy, tried map[string]bool, log *slog.Logger) string {
	for _, s := range strategies {
		if tried[s.name] {
			continue
		}
		if ctx.Err() != nil {
			return ""
		}
		tried[s.name] = true
		changed, err := s.apply(ctx, page)
		if err != nil {
			log.Debug("agentic: strategy failed", "strategy", s.name, "error", err)
			continue
		}
		if changed {
			log.Debug("agentic: strategy applied", "strategy", s.name)
			return s.name
		}
	}
	return ""
}

// better orders results by (confidence, content length), lexicographically.
func better(a, b *distill.Result) bool {
	if b == nil {
		return true
	}
	if a.ExtractionConfidence != b.ExtractionConfidence {
		return a.ExtractionConfidence > b.ExtractionConfidence
	}
	return a.ContentLength > b.ContentLength
}
