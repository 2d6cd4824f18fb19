package extractor

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FallbackExtractor harvests every <p> with visible text. It is the path of
// last resort: it never declines on a parseable document, even when the
// result is empty.
type FallbackExtractor struct{}

func (e *FallbackExtractor) Method() Method { return MethodFallback }

func (e *FallbackExtractor) Extract(_ context.Context, rawHTML, _ string) (*Candidate, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	title := documentTitle(doc)

	var blocks []string
	for _, p := range findAllByTag(doc, atom.P) {
		if text := strings.TrimSpace(collectText(p)); text != "" {
			blocks = append(blocks, text)
		}
	}
	content := strings.Join(blocks, "\n\n")
	return &Candidate{
		Method:         MethodFallback,
		Title:          title,
		Content:        content,
		ParagraphCount: len(blocks),
		Confidence:     0.2,
	}, nil
}
