package extractor

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// positiveHints boost a container's readability score; negativeHints sink it.
var (
	positiveHints = []string{"article", "body", "content", "entry", "main", "post", "story", "text"}
	negativeHints = []string{"combx", "comment", "footer", "masthead", "media", "meta", "promo", "related", "scroll", "share", "shoutbox", "sidebar", "sponsor", "widget"}
)

// ReadabilityExtractor scores block containers the way the classic
// readability algorithm does: paragraphs vote for their parents, class and
// id names adjust the vote, and the best-scoring container wins.
type ReadabilityExtractor struct{}

func (e *ReadabilityExtractor) Method() Method { return MethodReadability }

func (e *ReadabilityExtractor) Extract(_ context.Context, rawHTML, _ string) (*Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	scores := map[*goquery.Selection]float64{}
	var order []*goquery.Selection

	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if len(text) < 25 {
			return
		}
		parent := p.Parent()
		if parent.Length() == 0 {
			return
		}
		if _, seen := scores[parent]; !seen {
			order = append(order, parent)
			scores[parent] = classWeight(parent)
		}
		score := 1.0 + float64(strings.Count(text, ",")) + minf(float64(len(text))/100, 3)
		scores[parent] += score
	})

	var best *goquery.Selection
	var bestScore float64
	for _, sel := range order {
		// Discount link-heavy containers.
		s := scores[sel] * (1 - linkDensity(sel))
		if s > bestScore {
			bestScore = s
			best = sel
		}
	}
	if best == nil {
		return nil, nil
	}

	var blocks []string
	best.Find("p, h2, h3, blockquote, pre, li").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			blocks = append(blocks, t)
		}
	})
	if len(blocks) == 0 {
		if t := strings.TrimSpace(best.Text()); t != "" {
			blocks = []string{t}
		}
	}
	content := strings.Join(blocks, "\n\n")
	if content == "" {
		return nil, nil
	}

	title := pageTitle(doc)
	return &Candidate{
		Method:         MethodReadability,
		Title:          title,
		Content:        content,
		ParagraphCount: len(Paragraphs(content)),
		Confidence:     readabilityConfidence(bestScore, len(content)),
		Metadata:       metaFromHead(doc),
	}, nil
}

// classWeight adjusts a container's base score from its class/id names.
func classWeight(sel *goquery.Selection) float64 {
	marker := strings.ToLower(sel.AttrOr("class", "") + " " + sel.AttrOr("id", ""))
	w := 0.0
	for _, h := range positiveHints {
		if strings.Contains(marker, h) {
			w += 25
			break
		}
	}
	for _, h := range negativeHints {
		if strings.Contains(marker, h) {
			w -= 25
			break
		}
	}
	return w
}

// linkDensity returns the fraction of a container's text inside links.
func linkDensity(sel *goquery.Selection) float64 {
	total := len(sel.Text())
	if total == 0 {
		return 0
	}
	links := 0
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		links += len(a.Text())
	})
	d := float64(links) / float64(total)
	if d > 1 {
		d = 1
	}
	return d
}

func readabilityConfidence(score float64, contentLen int) float64 {
	conf := 0.5
	if score > 40 {
		conf += 0.15
	}
	if contentLen >= 1000 {
		conf += 0.15
	}
	if contentLen >= 3000 {
		conf += 0.1
	}
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

// pageTitle prefers og:title, then <title>, then the first <h1>.
func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// metaFromHead pulls author, publish date, and description from meta tags.
func metaFromHead(doc *goquery.Document) Metadata {
	var m Metadata
	for _, sel := range []string{`meta[name="author"]`, `meta[property="article:author"]`} {
		if v, ok := doc.Find(sel).Attr("content"); ok && v != "" {
			m.Author = strings.TrimSpace(v)
			break
		}
	}
	for _, sel := range []string{`meta[property="article:published_time"]`, `meta[name="date"]`, `meta[itemprop="datePublished"]`} {
		if v, ok := doc.Find(sel).Attr("content"); ok && v != "" {
			m.PublishDate = strings.TrimSpace(v)
			break
		}
	}
	for _, sel := range []string{`meta[property="og:description"]`, `meta[name="description"]`} {
		if v, ok := doc.Find(sel).Attr("content"); ok && v != "" {
			m.Excerpt = strings.TrimSpace(v)
			break
		}
	}
	return m
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
