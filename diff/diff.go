// Package diff detects content changes between successive snapshots of a
// URL. The default engine persists snapshots in SQLite and scores changes
// by word-token overlap, so markup churn without text changes scores zero.
package diff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Snapshot is one captured version of a URL's distilled content.
type Snapshot struct {
	URL         string    `json:"url"`
	ContentHash string    `json:"content_hash"`
	Title       string    `json:"title,omitempty"`
	Length      int       `json:"length"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Detection is the outcome of comparing new content against the previous
// snapshot of the same URL.
type Detection struct {
	HasChanged       bool      `json:"has_changed"`
	ChangePercent    float64   `json:"change_percent"` // 0..100
	CurrentSnapshot  Snapshot  `json:"current_snapshot"`
	PreviousSnapshot *Snapshot `json:"previous_snapshot,omitempty"`
	Summary          string    `json:"summary"`
}

// HistoryEntry is one row of a URL's snapshot history, newest first.
type HistoryEntry struct {
	Snapshot
	ChangePercent float64 `json:"change_percent"`
}

// Meta carries optional context for DetectChanges.
type Meta struct {
	Title string
}

// Engine detects and records content changes per URL. Implementations own
// their persistence.
type Engine interface {
	DetectChanges(ctx context.Context, url, content string, meta *Meta) (*Detection, error)
	GetHistory(ctx context.Context, url string) ([]HistoryEntry, error)
}

// hashContent returns the SHA-256 hex digest of content.
func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// changePercent scores the dissimilarity of two texts by word-token
// multiset overlap, as a percentage in [0,100]. Identical texts score 0; a
// complete replacement scores 100.
func changePercent(oldText, newText string) float64 {
	oldTokens := tokenize(oldText)
	newTokens := tokenize(newText)
	if len(oldTokens) == 0 && len(newTokens) == 0 {
		return 0
	}
	if len(oldTokens) == 0 || len(newTokens) == 0 {
		return 100
	}

	counts := make(map[string]int, len(oldTokens))
	for _, t := range oldTokens {
		counts[t]++
	}
	common := 0
	for _, t := range newTokens {
		if counts[t] > 0 {
			counts[t]--
			common++
		}
	}

	similarity := 2 * float64(common) / float64(len(oldTokens)+len(newTokens))
	pct := (1 - similarity) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// tokenize lowercases and splits on whitespace and punctuation boundaries.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r < 128
	})
}

// summarize renders a human-readable change description.
func summarize(prev *Snapshot, cur Snapshot, pct float64) string {
	if prev == nil {
		return "first snapshot"
	}
	if pct == 0 {
		return "no change"
	}
	delta := cur.Length - prev.Length
	sign := "+"
	if delta < 0 {
		sign = "-"
		delta = -delta
	}
	return fmt.Sprintf("content changed %.1f%% (%s%d chars)", pct, sign, delta)
}
