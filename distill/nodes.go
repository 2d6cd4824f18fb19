package distill

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sievelabs/sieve/extractor"
)

// headingMaxLen is the longest a block can be and still classify as a
// heading.
const headingMaxLen = 80

// buildNodes maps a candidate's content onto ordered distilled nodes and
// attaches source spans where the block text can be located in the raw HTML.
func buildNodes(c *extractor.Candidate, rawHTML, pageURL, contentHash string, now time.Time) []DistilledNode {
	blocks := extractor.Paragraphs(c.Content)
	nodes := make([]DistilledNode, 0, len(blocks))
	for _, block := range blocks {
		order := len(nodes)
		node := DistilledNode{
			ID:    nodeID(contentHash, order, block),
			Order: order,
			Type:  classifyBlock(block),
			Text:  block,
		}
		if span, ok := locateSpan(rawHTML, block, pageURL, contentHash, now); ok {
			node.SourceSpans = []SourceSpan{span}
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// nodeID derives a stable ID from the document hash, position, and text.
func nodeID(contentHash string, order int, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", contentHash, order, text)))
	return hex.EncodeToString(h[:6])
}

// classifyBlock distinguishes headings from paragraphs: headings are short
// and do not end in sentence punctuation.
func classifyBlock(block string) NodeType {
	if len(block) <= headingMaxLen && !strings.ContainsAny(lastRuneString(block), ".!?;:") {
		if len(strings.Fields(block)) <= 12 {
			return NodeHeading
		}
	}
	return NodeParagraph
}

func lastRuneString(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(s)
	return string(runes[len(runes)-1])
}

// locateSpan finds a block's text in the raw HTML. Markup inside the block
// usually prevents an exact match, so a prefix probe is used as fallback.
func locateSpan(rawHTML, block, pageURL, contentHash string, now time.Time) (SourceSpan, bool) {
	probe := block
	start := strings.Index(rawHTML, probe)
	if start < 0 && len(block) > 40 {
		probe = block[:40]
		start = strings.Index(rawHTML, probe)
	}
	if start < 0 {
		return SourceSpan{}, false
	}
	return SourceSpan{
		URL:         pageURL,
		Timestamp:   now,
		ContentHash: contentHash,
		ByteStart:   start,
		ByteEnd:     start + len(probe),
	}, true
}

// nodesText joins node text back into the canonical content string.
func nodesText(nodes []DistilledNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.Text
	}
	return strings.Join(parts, "\n\n")
}

// nodesToHTML renders nodes as minimal HTML for markdown conversion.
func nodesToHTML(title string, nodes []DistilledNode) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString("<h1>" + htmlEscape(title) + "</h1>\n")
	}
	for _, n := range nodes {
		switch n.Type {
		case NodeHeading:
			sb.WriteString("<h2>" + htmlEscape(n.Text) + "</h2>\n")
		default:
			sb.WriteString("<p>" + htmlEscape(n.Text) + "</p>\n")
		}
	}
	return sb.String()
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func htmlEscape(s string) string { return htmlEscaper.Replace(s) }
