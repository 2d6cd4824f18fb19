package extractor

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DensityExtractor finds the DOM subtree with the highest text-to-markup
// ratio, filtering out boilerplate (nav, footer, sidebar, ads). It is the
// dom-heuristic method: cheap, dependency-free, and reliable on plain
// article pages.
type DensityExtractor struct {
	// MinLen is the minimum text length for a subtree to be considered.
	// Default: 100.
	MinLen int
}

func (e *DensityExtractor) Method() Method { return MethodDOMHeuristic }

func (e *DensityExtractor) Extract(_ context.Context, rawHTML, _ string) (*Candidate, error) {
	minLen := e.MinLen
	if minLen <= 0 {
		minLen = 100
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	title := documentTitle(doc)
	body := findBody(doc)
	if body == nil {
		body = doc
	}

	best := findDensestNode(body, minLen)
	if best == nil {
		return nil, nil
	}

	text := collectText(best)
	paragraphs := Paragraphs(text)
	return &Candidate{
		Method:         MethodDOMHeuristic,
		Title:          title,
		Content:        text,
		ParagraphCount: len(paragraphs),
		Confidence:     densityConfidence(len(text), len(paragraphs)),
	}, nil
}

// densityConfidence maps raw size signals onto a bounded confidence. The
// heuristic cannot see semantics, so it never claims more than 0.75.
func densityConfidence(textLen, paragraphs int) float64 {
	conf := 0.3
	if textLen >= 500 {
		conf += 0.2
	}
	if textLen >= 2000 {
		conf += 0.1
	}
	if paragraphs >= 3 {
		conf += 0.1
	}
	if paragraphs >= 8 {
		conf += 0.05
	}
	return conf
}

// nodeScore holds density analysis for a DOM subtree.
type nodeScore struct {
	node     *html.Node
	textLen  int
	density  float64
	linkDens float64 // fraction of text inside <a> tags
}

// findDensestNode walks the DOM and finds the node with highest content
// density, skipping subtrees that are mostly links (navigation).
func findDensestNode(root *html.Node, minLen int) *html.Node {
	var candidates []nodeScore

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || isBoilerplate(n) {
			return
		}
		if !isContentTag(n.DataAtom) && n.DataAtom != atom.Body {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			return
		}

		text := collectText(n)
		textLen := len(text)
		if textLen < minLen {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			return
		}

		markupLen := len(renderNode(n))
		if markupLen == 0 {
			markupLen = 1
		}
		linkDens := float64(len(collectLinkText(n))) / float64(textLen)

		candidates = append(candidates, nodeScore{
			node:     n,
			textLen:  textLen,
			density:  float64(textLen) / float64(markupLen),
			linkDens: linkDens,
		})

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var best *nodeScore
	var bestScore float64
	for i := range candidates {
		c := &candidates[i]
		if c.linkDens > 0.5 {
			continue // mostly links - probably navigation
		}
		score := c.density * logScale(c.textLen) * (1 - c.linkDens)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if best == nil {
		return nil
	}
	return best.node
}

// logScale returns a log-based scale factor for text length.
func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	scale := 1.0
	v := n
	for v > 100 {
		scale++
		v /= 2
	}
	return scale
}
