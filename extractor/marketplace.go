package extractor

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// EbayListingAdapter extracts structured data from a single eBay item page.
// Listing pages have a predictable layout that the generic extractors mangle
// (price tables, seller panels), so it is dispatched by URL before the
// generic pipeline.
type EbayListingAdapter struct{}

func (a *EbayListingAdapter) Method() Method { return MethodEbay }

func (a *EbayListingAdapter) CanHandle(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.Contains(host, "ebay.") && strings.Contains(u.Path, "/itm/")
}

func (a *EbayListingAdapter) Extract(_ context.Context, rawHTML, _ string) (*Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	title := firstText(doc,
		"h1.x-item-title__mainTitle",
		"h1#itemTitle",
		`meta[property="og:title"]`)
	price := firstText(doc,
		".x-price-primary",
		"span#prcIsum",
		`div[data-testid="x-price-primary"]`)
	condition := firstText(doc,
		".x-item-condition-text",
		"div#vi-itm-cond")
	seller := firstText(doc,
		".x-sellercard-atf__info__about-seller",
		"span.mbg-nw")

	var blocks []string
	if price != "" {
		blocks = append(blocks, "Price: "+price)
	}
	if condition != "" {
		blocks = append(blocks, "Condition: "+condition)
	}
	if seller != "" {
		blocks = append(blocks, "Seller: "+seller)
	}
	doc.Find("div.d-item-description, div#desc_div, div.x-item-description").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			blocks = append(blocks, t)
		}
	})

	if title == "" && len(blocks) == 0 {
		return nil, nil
	}
	content := strings.Join(blocks, "\n\n")
	return &Candidate{
		Method:         MethodEbay,
		Title:          title,
		Content:        content,
		ParagraphCount: len(blocks),
		Confidence:     0.85,
		Metadata:       Metadata{Excerpt: price},
	}, nil
}

// EbaySearchAdapter extracts result listings from an eBay search page as one
// item per paragraph.
type EbaySearchAdapter struct {
	// MaxResults caps the number of listings extracted. Default: 25.
	MaxResults int
}

func (a *EbaySearchAdapter) Method() Method { return MethodEbaySearch }

func (a *EbaySearchAdapter) CanHandle(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.Contains(host, "ebay.") && strings.Contains(u.Path, "/sch/")
}

func (a *EbaySearchAdapter) Extract(_ context.Context, rawHTML, _ string) (*Candidate, error) {
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = 25
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	var blocks []string
	doc.Find("li.s-item, li.s-card").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name := firstTextIn(s, ".s-item__title", ".s-card__title")
		price := firstTextIn(s, ".s-item__price", ".s-card__price")
		if name == "" || strings.EqualFold(name, "shop on ebay") {
			return true
		}
		line := name
		if price != "" {
			line += " - " + price
		}
		blocks = append(blocks, line)
		return len(blocks) < maxResults
	})

	if len(blocks) == 0 {
		return nil, nil
	}
	return &Candidate{
		Method:         MethodEbaySearch,
		Title:          pageTitle(doc),
		Content:        strings.Join(blocks, "\n\n"),
		ParagraphCount: len(blocks),
		Confidence:     0.8,
	}, nil
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if strings.HasPrefix(sel, "meta") {
			if v, ok := node.Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
			continue
		}
		if t := strings.TrimSpace(node.Text()); t != "" {
			return t
		}
	}
	return ""
}

func firstTextIn(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}
