package distill

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractStructuredMetadata parses JSON-LD, OpenGraph, Twitter Card, and
// microdata from a fresh DOM instance. Failures yield a partial (possibly
// empty) result, never an error: structured extraction must not fail the
// distillation.
func extractStructuredMetadata(rawHTML string) *StructuredMetadata {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	meta := &StructuredMetadata{}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			meta.JSONLD = append(meta.JSONLD, obj)
			return
		}
		// Some pages wrap multiple entities in a top-level array.
		var list []map[string]any
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			meta.JSONLD = append(meta.JSONLD, list...)
		}
	})

	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		if prop != "" && content != "" {
			if meta.OpenGraph == nil {
				meta.OpenGraph = map[string]string{}
			}
			meta.OpenGraph[strings.TrimPrefix(prop, "og:")] = content
		}
	})

	doc.Find(`meta[name^="twitter:"]`).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		if name != "" && content != "" {
			if meta.TwitterCard == nil {
				meta.TwitterCard = map[string]string{}
			}
			meta.TwitterCard[strings.TrimPrefix(name, "twitter:")] = content
		}
	})

	doc.Find("[itemscope]").Each(func(_ int, scope *goquery.Selection) {
		item := MicrodataItem{
			Type:       scope.AttrOr("itemtype", ""),
			Properties: map[string]string{},
		}
		scope.Find("[itemprop]").Each(func(_ int, prop *goquery.Selection) {
			name := prop.AttrOr("itemprop", "")
			if name == "" {
				return
			}
			val := prop.AttrOr("content", "")
			if val == "" {
				val = strings.TrimSpace(prop.Text())
			}
			if val != "" {
				item.Properties[name] = val
			}
		})
		if len(item.Properties) > 0 {
			meta.Microdata = append(meta.Microdata, item)
		}
	})

	if meta.JSONLD == nil && meta.OpenGraph == nil && meta.TwitterCard == nil && meta.Microdata == nil {
		return nil
	}
	return meta
}

// extractTables lifts <table> elements into row/column form. Layout tables
// (single cell, no rows) are skipped.
func extractTables(rawHTML string) []Table {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	var tables []Table
	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		table := Table{Caption: strings.TrimSpace(t.Find("caption").First().Text())}

		t.Find("thead th, tr:first-child th").Each(func(_ int, th *goquery.Selection) {
			table.Headers = append(table.Headers, strings.TrimSpace(th.Text()))
		})

		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			if tr.Find("th").Length() > 0 && tr.Find("td").Length() == 0 {
				return // header row, already captured
			}
			var row []string
			tr.Find("td").Each(func(_ int, td *goquery.Selection) {
				row = append(row, strings.TrimSpace(td.Text()))
			})
			if len(row) > 0 {
				table.Rows = append(table.Rows, row)
			}
		})

		if len(table.Rows) > 0 {
			tables = append(tables, table)
		}
	})
	return tables
}
