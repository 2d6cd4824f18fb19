package diff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sievelabs/sieve/dbopen"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	url            TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	content        TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	length         INTEGER NOT NULL,
	change_percent REAL NOT NULL DEFAULT 0,
	captured_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_url ON snapshots(url, id DESC);
`

// SQLiteEngine is the default Engine: snapshots live in SQLite, one row per
// observed version, with per-URL history capped at maxHistory rows.
type SQLiteEngine struct {
	db         *sql.DB
	now        func() time.Time
	maxHistory int
}

// EngineOption configures a SQLiteEngine.
type EngineOption func(*SQLiteEngine)

// WithEngineClock sets a custom clock (for testing).
func WithEngineClock(fn func() time.Time) EngineOption {
	return func(e *SQLiteEngine) { e.now = fn }
}

// WithMaxHistory caps the retained snapshots per URL. Default: 50.
func WithMaxHistory(n int) EngineOption {
	return func(e *SQLiteEngine) { e.maxHistory = n }
}

// OpenSQLiteEngine opens (and creates if needed) the snapshot store at path.
func OpenSQLiteEngine(path string, opts ...EngineOption) (*SQLiteEngine, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(snapshotSchema))
	if err != nil {
		return nil, fmt.Errorf("diff: open snapshot store: %w", err)
	}
	return NewSQLiteEngine(db, opts...), nil
}

// NewSQLiteEngine wraps an existing database handle. The snapshot schema
// must already exist.
func NewSQLiteEngine(db *sql.DB, opts ...EngineOption) *SQLiteEngine {
	e := &SQLiteEngine{db: db, now: time.Now, maxHistory: 50}
	for _, o := range opts {
		o(e)
	}
	return e
}

// DetectChanges compares content against the latest stored snapshot for
// url. A new snapshot row is written only when the content hash differs, so
// identical fetches do not grow history.
func (e *SQLiteEngine) DetectChanges(ctx context.Context, url, content string, meta *Meta) (*Detection, error) {
	title := ""
	if meta != nil {
		title = meta.Title
	}
	cur := Snapshot{
		URL:         url,
		ContentHash: hashContent(content),
		Title:       title,
		Length:      len(content),
		CapturedAt:  e.now(),
	}

	prev, prevContent, err := e.latest(ctx, url)
	if err != nil {
		return nil, err
	}

	det := &Detection{CurrentSnapshot: cur, PreviousSnapshot: prev}
	if prev == nil {
		det.Summary = summarize(nil, cur, 0)
		if err := e.insert(ctx, cur, content, 0); err != nil {
			return nil, err
		}
		return det, nil
	}

	if prev.ContentHash == cur.ContentHash {
		det.Summary = summarize(prev, cur, 0)
		return det, nil
	}

	pct := changePercent(prevContent, content)
	det.HasChanged = true
	det.ChangePercent = pct
	det.Summary = summarize(prev, cur, pct)

	if err := e.insert(ctx, cur, content, pct); err != nil {
		return nil, err
	}
	return det, nil
}

// GetHistory returns the stored snapshots for url, newest first.
func (e *SQLiteEngine) GetHistory(ctx context.Context, url string) ([]HistoryEntry, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT content_hash, title, length, change_percent, captured_at
		 FROM snapshots WHERE url = ? ORDER BY id DESC`, url)
	if err != nil {
		return nil, fmt.Errorf("diff: history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var capturedAt int64
		if err := rows.Scan(&h.ContentHash, &h.Title, &h.Length, &h.ChangePercent, &capturedAt); err != nil {
			return nil, fmt.Errorf("diff: history scan: %w", err)
		}
		h.URL = url
		h.CapturedAt = time.UnixMilli(capturedAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (e *SQLiteEngine) Close() error { return e.db.Close() }

func (e *SQLiteEngine) latest(ctx context.Context, url string) (*Snapshot, string, error) {
	var s Snapshot
	var content string
	var capturedAt int64
	err := e.db.QueryRowContext(ctx,
		`SELECT content_hash, content, title, length, captured_at
		 FROM snapshots WHERE url = ? ORDER BY id DESC LIMIT 1`, url).
		Scan(&s.ContentHash, &content, &s.Title, &s.Length, &capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("diff: latest snapshot: %w", err)
	}
	s.URL = url
	s.CapturedAt = time.UnixMilli(capturedAt)
	return &s, content, nil
}

func (e *SQLiteEngine) insert(ctx context.Context, s Snapshot, content string, pct float64) error {
	return dbopen.RunTx(ctx, e.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (url, content_hash, content, title, length, change_percent, captured_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.URL, s.ContentHash, content, s.Title, s.Length, pct, s.CapturedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("diff: insert snapshot: %w", err)
		}
		// Trim history beyond the cap.
		_, err = tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE url = ? AND id NOT IN (
				SELECT id FROM snapshots WHERE url = ? ORDER BY id DESC LIMIT ?)`,
			s.URL, s.URL, e.maxHistory)
		if err != nil {
			return fmt.Errorf("diff: trim history: %w", err)
		}
		return nil
	})
}
