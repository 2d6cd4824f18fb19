// Package policy implements the transform step that runs before
// extraction: site rules strip known chrome by selector, then a bluemonday
// sanitizer removes scripts, event handlers, and embedded trackers while
// keeping the structural attributes the extractors score on.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/sievelabs/sieve/distill"
)

// Rule names a per-site transform. A rule applies when the page host ends
// with HostSuffix, or when the caller's hint equals Name.
type Rule struct {
	Name           string
	HostSuffix     string
	StripSelectors []string
}

// Engine is the default policy engine. Safe for concurrent use: bluemonday
// policies are read-only after construction.
type Engine struct {
	sanitizer *bluemonday.Policy
	rules     []Rule
	logger    *slog.Logger
}

var _ distill.PolicyEngine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithRules registers site rules, checked in order.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.rules = append(e.rules, rules...) }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an Engine with the default sanitizer.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sanitizer: newSanitizer(),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// newSanitizer builds the bluemonday policy. Start from UGC and re-allow
// the structural elements and attributes the extraction ensemble relies on
// (class and id drive the density and landmark scorers).
func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements(
		"article", "main", "section", "header", "footer", "nav", "aside",
		"figure", "figcaption", "time", "picture", "source",
		"div", "span", "caption",
	)
	p.AllowAttrs("class", "id", "role").Globally()
	p.AllowAttrs("itemprop", "itemscope", "itemtype").Globally()
	p.AllowAttrs("datetime").OnElements("time")
	p.AllowAttrs("srcset", "media").OnElements("source")
	return p
}

// ApplyPolicy strips matched rule selectors, sanitizes the body, and
// reports which rules fired. The returned HTML is body-only; callers keep
// the original document for metadata.
func (e *Engine) ApplyPolicy(ctx context.Context, html, pageURL, hint string) (*distill.PolicyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("policy: parse document: %w", err)
	}

	host := hostOf(pageURL)
	var matched []string
	for _, r := range e.rules {
		if !r.applies(host, hint) {
			continue
		}
		matched = append(matched, r.Name)
		for _, sel := range r.StripSelectors {
			doc.Find(sel).Remove()
		}
	}

	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		body, err = doc.Html()
		if err != nil {
			return nil, fmt.Errorf("policy: serialize document: %w", err)
		}
	}

	res := &distill.PolicyResult{
		TransformedHTML: e.sanitizer.Sanitize(body),
		PolicyApplied:   "sanitize",
		RulesMatched:    matched,
		FieldsValidated: countMetadataFields(doc),
	}
	if len(matched) > 0 {
		res.PolicyApplied = "sanitize+" + strings.Join(matched, "+")
		e.logger.Debug("policy: rules applied", "url", pageURL, "rules", matched)
	}
	return res, nil
}

func (r Rule) applies(host, hint string) bool {
	if hint != "" && hint == r.Name {
		return true
	}
	return r.HostSuffix != "" && strings.HasSuffix(host, r.HostSuffix)
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// countMetadataFields counts the machine-readable head fields present, a
// cheap proxy for how well-formed the page is.
func countMetadataFields(doc *goquery.Document) int {
	n := 0
	if strings.TrimSpace(doc.Find("head title").First().Text()) != "" {
		n++
	}
	for _, sel := range []string{
		`meta[property="og:title"]`,
		`meta[property="og:description"]`,
		`meta[name="description"]`,
		`meta[name="author"]`,
		`link[rel="canonical"]`,
		`script[type="application/ld+json"]`,
	} {
		if doc.Find(sel).Length() > 0 {
			n++
		}
	}
	return n
}
