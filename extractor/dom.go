package extractor

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// boilerplateClasses mark subtrees that are navigation chrome, not content.
var boilerplateClasses = []string{
	"nav", "navbar", "menu", "sidebar", "footer", "header", "banner",
	"advert", "ad-", "ads", "promo", "cookie", "consent", "newsletter",
	"share", "social", "comment", "related", "breadcrumb",
}

// isBoilerplate reports whether a node is structural chrome that should be
// excluded from content extraction.
func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Aside, atom.Form,
		atom.Script, atom.Style, atom.Noscript, atom.Iframe:
		return true
	}
	marker := strings.ToLower(getAttr(n, "class") + " " + getAttr(n, "id") + " " + getAttr(n, "role"))
	for _, cls := range boilerplateClasses {
		if strings.Contains(marker, cls) {
			return true
		}
	}
	return false
}

// isContentTag reports whether a tag can plausibly hold article content.
func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Article, atom.Main, atom.Section, atom.Div, atom.P,
		atom.Td, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}

// collectText extracts visible text from a subtree, paragraph-separated at
// block boundaries.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
			if isBlockTag(n.DataAtom) && sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return normalizeBlocks(sb.String())
}

// normalizeBlocks collapses runs of blank lines into single paragraph breaks.
func normalizeBlocks(s string) string {
	blocks := Paragraphs(s)
	return strings.Join(blocks, "\n\n")
}

func isBlockTag(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Li,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Tr, atom.Br:
		return true
	}
	return false
}

// collectLinkText extracts text only from <a> subtrees.
func collectLinkText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
	}
	walk(n, false)
	return sb.String()
}

// renderNode serialises a subtree back to HTML.
func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// findBody returns the <body> element, or nil.
func findBody(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return body
}

// findAllByTag finds all elements with a specific tag.
func findAllByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

// documentTitle returns the text of the first <title> element.
func documentTitle(doc *html.Node) string {
	titles := findAllByTag(doc, atom.Title)
	if len(titles) == 0 {
		return ""
	}
	return strings.TrimSpace(collectText(titles[0]))
}

// getAttr returns the value of an attribute on a node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
