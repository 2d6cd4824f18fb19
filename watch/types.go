// Package watch polls registered URLs on their configured intervals, diffs
// successive content snapshots, persists change events, and dispatches
// webhook notifications.
//
// Each target owns a directory under the data dir:
//
//	<data>/watches/<id>/config.json   serialized Target
//	<data>/watches/<id>/events.jsonl  newline-delimited Event, append-only
package watch

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a watch id does not resolve to a target.
var ErrNotFound = errors.New("watch: target not found")

// Status is the lifecycle state of a target.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// Target is a registered watch. It is exclusively owned by the Manager;
// accessors return copies.
type Target struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	// Interval between checks in seconds, never below 60.
	Interval int `json:"interval"`
	// WebhookURL receives a POSTed Event on each detected change.
	WebhookURL string `json:"webhook_url,omitempty"`
	// ChangeThreshold is the minimum change percent that emits an event.
	ChangeThreshold float64 `json:"change_threshold"`
	// ExtractPolicy is passed through to distillation as the policy hint.
	ExtractPolicy string `json:"extract_policy,omitempty"`
	// Rendered fetches through the browser instead of plain HTTP.
	Rendered bool `json:"rendered,omitempty"`

	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	LastChecked time.Time `json:"last_checked,omitzero"`
	LastChanged time.Time `json:"last_changed,omitzero"`
	CheckCount  int64     `json:"check_count"`
	ChangeCount int64     `json:"change_count"`
	LastError   string    `json:"last_error,omitempty"`
}

// Event records one detected change. Events are append-only in the log
// file and returned newest-first from queries.
type Event struct {
	WatchID       string    `json:"watch_id"`
	URL           string    `json:"url"`
	Timestamp     time.Time `json:"timestamp"`
	ChangePercent float64   `json:"change_percent"`
	Summary       string    `json:"summary"`
	PreviousHash  string    `json:"previous_hash,omitempty"`
	CurrentHash   string    `json:"current_hash"`
}

// AddOptions configures AddWatch.
type AddOptions struct {
	// IntervalSeconds is normalized to at least 60.
	IntervalSeconds int
	WebhookURL      string
	// ChangeThreshold in percent, within [0,100]. Nil defaults to 1;
	// an explicit 0 notifies on any change.
	ChangeThreshold *float64
	ExtractPolicy   string
	Rendered        bool
}

// Stats are point-in-time Manager counters.
type Stats struct {
	Targets           int   `json:"targets"`
	Ticks             int64 `json:"ticks"`
	SkippedTicks      int64 `json:"skipped_ticks"`
	Checks            int64 `json:"checks"`
	ChangesDetected   int64 `json:"changes_detected"`
	Errors            int64 `json:"errors"`
	WebhookDeliveries int64 `json:"webhook_deliveries"`
	WebhookFailures   int64 `json:"webhook_failures"`
}
