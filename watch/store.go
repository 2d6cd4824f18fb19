package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// store persists targets and event logs on the filesystem, one directory
// per target.
type store struct {
	root string // <data>/watches
}

func newStore(dataDir string) (*store, error) {
	root := filepath.Join(dataDir, "watches")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("watch: create data dir: %w", err)
	}
	return &store{root: root}, nil
}

func (s *store) dir(id string) string        { return filepath.Join(s.root, id) }
func (s *store) configPath(id string) string { return filepath.Join(s.dir(id), "config.json") }
func (s *store) eventsPath(id string) string { return filepath.Join(s.dir(id), "events.jsonl") }

// saveTarget writes config.json atomically via rename.
func (s *store) saveTarget(t *Target) error {
	if err := os.MkdirAll(s.dir(t.ID), 0o755); err != nil {
		return fmt.Errorf("watch: create target dir: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("watch: marshal target: %w", err)
	}
	tmp := s.configPath(t.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("watch: write target: %w", err)
	}
	if err := os.Rename(tmp, s.configPath(t.ID)); err != nil {
		return fmt.Errorf("watch: rename target: %w", err)
	}
	return nil
}

// loadTargets reads every target directory under the root. Unreadable
// entries are skipped, not fatal.
func (s *store) loadTargets() ([]*Target, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("watch: read data dir: %w", err)
	}
	var out []*Target
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(s.configPath(e.Name()))
		if err != nil {
			continue
		}
		var t Target
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

// removeTarget deletes the whole target directory, events included.
func (s *store) removeTarget(id string) error {
	return os.RemoveAll(s.dir(id))
}

// appendEvent adds one line to the target's append-only event log.
func (s *store) appendEvent(id string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("watch: marshal event: %w", err)
	}
	f, err := os.OpenFile(s.eventsPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("watch: open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("watch: append event: %w", err)
	}
	return nil
}

// readEvents returns the target's events newest-first, capped at limit
// (0 = no cap). Malformed lines are skipped.
func (s *store) readEvents(id string, limit int) ([]Event, error) {
	f, err := os.Open(s.eventsPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("watch: open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("watch: read event log: %w", err)
	}

	// File order is oldest-first; queries return newest-first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}
