package extractor

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// defaultLandmarkSelectors are attribute markers checked after the semantic
// tags, in priority order.
var defaultLandmarkSelectors = []struct{ key, val string }{
	{"role", "main"},
	{"itemprop", "articleBody"},
	{"class", "article-body"},
	{"class", "post-content"},
	{"id", "content"},
}

// LandmarkExtractor extracts from semantic HTML5 landmarks: <article>, then
// <main>, then a short list of conventional attribute markers. Registered
// under the trafilatura method name: same precision-first approach, trusting
// explicit document structure before falling back to statistics.
type LandmarkExtractor struct {
	// MinLen is the minimum text length for a landmark to count. Default: 80.
	MinLen int
}

func (e *LandmarkExtractor) Method() Method { return MethodTrafilatura }

func (e *LandmarkExtractor) Extract(_ context.Context, rawHTML, _ string) (*Candidate, error) {
	minLen := e.MinLen
	if minLen <= 0 {
		minLen = 80
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	title := documentTitle(doc)

	nodes := landmarkNodes(doc)
	if len(nodes) == 0 {
		return nil, nil
	}

	var blocks []string
	for _, n := range nodes {
		if isBoilerplate(n) {
			continue
		}
		text := collectText(n)
		if len(text) >= minLen {
			blocks = append(blocks, text)
		}
	}
	if len(blocks) == 0 {
		return nil, nil
	}

	content := strings.Join(blocks, "\n\n")
	paragraphs := Paragraphs(content)
	conf := 0.55
	if len(content) >= 1000 {
		conf += 0.15
	}
	if len(paragraphs) >= 5 {
		conf += 0.1
	}
	return &Candidate{
		Method:         MethodTrafilatura,
		Title:          title,
		Content:        content,
		ParagraphCount: len(paragraphs),
		Confidence:     conf,
	}, nil
}

// landmarkNodes returns the highest-priority non-empty landmark set.
func landmarkNodes(doc *html.Node) []*html.Node {
	for _, tag := range []atom.Atom{atom.Article, atom.Main} {
		if nodes := findAllByTag(doc, tag); len(nodes) > 0 {
			return nodes
		}
	}
	for _, sel := range defaultLandmarkSelectors {
		if nodes := findAllByAttr(doc, sel.key, sel.val); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

// findAllByAttr finds elements whose attribute contains the given value.
func findAllByAttr(root *html.Node, key, val string) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			attr := getAttr(n, key)
			if attr == val || (key == "class" && containsField(attr, val)) {
				results = append(results, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func containsField(haystack, needle string) bool {
	for _, f := range strings.Fields(haystack) {
		if f == needle {
			return true
		}
	}
	return false
}
