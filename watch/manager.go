package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sievelabs/sieve/diff"
	"github.com/sievelabs/sieve/distill"
	"github.com/sievelabs/sieve/fetch"
)

// minInterval is the floor for check intervals, in seconds.
const minInterval = 60

// Distiller is the distillation capability the Manager consumes.
type Distiller interface {
	Distill(ctx context.Context, rawHTML, baseURL, policyHint string) (*distill.Result, error)
}

// Config configures a Manager.
type Config struct {
	// DataDir roots the per-target persistence. Required.
	DataDir string
	// TickInterval is the scheduler period. Default: 30s.
	TickInterval time.Duration
	// CheckParallelism bounds concurrent target checks per tick. Default: 4.
	CheckParallelism int
	// WebhookRetries is passed to the sink. Default 0: the next change
	// produces a new event, so in-tick retries buy little.
	WebhookRetries int
	Logger         *slog.Logger
	// Now is an injectable clock.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.CheckParallelism <= 0 {
		c.CheckParallelism = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Manager owns the registered targets and the polling loop. All target
// mutation happens inside the Manager; accessors return copies.
type Manager struct {
	cfg     Config
	fetcher fetch.Client
	dist    Distiller
	differ  diff.Engine
	sink    *WebhookSink
	store   *store

	mu      sync.RWMutex
	targets map[string]*Target

	inFlight atomic.Bool

	ticks        atomic.Int64
	skippedTicks atomic.Int64
	checks       atomic.Int64
	changes      atomic.Int64
	errs         atomic.Int64
	webhookOK    atomic.Int64
	webhookFail  atomic.Int64
}

// NewManager creates a Manager and loads previously persisted targets from
// the data dir. Call Run to start the polling loop.
func NewManager(fetcher fetch.Client, dist Distiller, differ diff.Engine, cfg Config) (*Manager, error) {
	cfg.defaults()
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("watch: DataDir is required")
	}
	st, err := newStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		fetcher: fetcher,
		dist:    dist,
		differ:  differ,
		sink: NewWebhookSink(
			WithWebhookRetries(cfg.WebhookRetries),
			WithWebhookLogger(cfg.Logger),
		),
		store:   st,
		targets: map[string]*Target{},
	}

	loaded, err := st.loadTargets()
	if err != nil {
		return nil, err
	}
	for _, t := range loaded {
		normalizeLoaded(t)
		m.targets[t.ID] = t
	}
	if len(loaded) > 0 {
		cfg.Logger.Info("watch: restored targets", "count", len(loaded))
	}
	return m, nil
}

// normalizeLoaded re-applies the AddWatch invariants to a target read from
// disk: hand-edited or stale configs may carry values AddWatch would have
// rejected or normalized.
func normalizeLoaded(t *Target) {
	if t.Interval < minInterval {
		t.Interval = minInterval
	}
	if t.ChangeThreshold < 0 {
		t.ChangeThreshold = 1
	}
	if t.ChangeThreshold > 100 {
		t.ChangeThreshold = 100
	}
}

// Run blocks until ctx is cancelled, firing a tick every TickInterval.
func (m *Manager) Run(ctx context.Context) {
	log := m.cfg.Logger
	log.Info("watch: scheduler started", "tick", m.cfg.TickInterval)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: scheduler stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// AddWatch registers a URL. The interval is normalized to at least 60
// seconds; the change threshold defaults to 1 percent and an explicit 0
// notifies on any change.
func (m *Manager) AddWatch(url string, opts AddOptions) (Target, error) {
	if url == "" {
		return Target{}, fmt.Errorf("watch: url is required")
	}
	interval := opts.IntervalSeconds
	if interval < minInterval {
		interval = minInterval
	}
	threshold := 1.0
	if opts.ChangeThreshold != nil {
		threshold = *opts.ChangeThreshold
		if threshold < 0 || threshold > 100 {
			return Target{}, fmt.Errorf("watch: change threshold %v out of range [0,100]", threshold)
		}
	}

	t := &Target{
		ID:              uuid.NewString(),
		URL:             url,
		Interval:        interval,
		WebhookURL:      opts.WebhookURL,
		ChangeThreshold: threshold,
		ExtractPolicy:   opts.ExtractPolicy,
		Rendered:        opts.Rendered,
		Status:          StatusActive,
		CreatedAt:       m.cfg.Now(),
	}
	if err := m.store.saveTarget(t); err != nil {
		return Target{}, err
	}

	m.mu.Lock()
	m.targets[t.ID] = t
	m.mu.Unlock()

	m.cfg.Logger.Info("watch: target added", "id", t.ID, "url", url, "interval", interval)
	return *t, nil
}

// RemoveWatch unregisters a target and deletes its persisted directory.
// Returns false when the id is unknown.
func (m *Manager) RemoveWatch(id string) bool {
	m.mu.Lock()
	_, ok := m.targets[id]
	delete(m.targets, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := m.store.removeTarget(id); err != nil {
		m.cfg.Logger.Warn("watch: remove target dir failed", "id", id, "error", err)
	}
	m.cfg.Logger.Info("watch: target removed", "id", id)
	return true
}

// PauseWatch stops checks for a target until resumed.
func (m *Manager) PauseWatch(id string) error {
	return m.setStatus(id, StatusPaused, false)
}

// ResumeWatch reactivates a paused or errored target and clears its last
// error.
func (m *Manager) ResumeWatch(id string) error {
	return m.setStatus(id, StatusActive, true)
}

// GetWatch returns a copy of the target.
func (m *Manager) GetWatch(id string) (Target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return Target{}, false
	}
	return *t, true
}

// ListWatches returns copies of all targets, ordered by creation time.
func (m *Manager) ListWatches() []Target {
	m.mu.RLock()
	out := make([]Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, *t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetEvents returns the target's events newest-first, capped at limit.
func (m *Manager) GetEvents(id string, limit int) ([]Event, error) {
	m.mu.RLock()
	_, ok := m.targets[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.store.readEvents(id, limit)
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	n := len(m.targets)
	m.mu.RUnlock()
	return Stats{
		Targets:           n,
		Ticks:             m.ticks.Load(),
		SkippedTicks:      m.skippedTicks.Load(),
		Checks:            m.checks.Load(),
		ChangesDetected:   m.changes.Load(),
		Errors:            m.errs.Load(),
		WebhookDeliveries: m.webhookOK.Load(),
		WebhookFailures:   m.webhookFail.Load(),
	}
}

// Tick runs one scheduler pass: every active target whose interval has
// elapsed is checked, bounded-parallel. A tick that arrives while another
// is still running is skipped (single-flight).
func (m *Manager) Tick(ctx context.Context) {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.skippedTicks.Add(1)
		m.cfg.Logger.Debug("watch: tick skipped, previous still running")
		return
	}
	defer m.inFlight.Store(false)
	m.ticks.Add(1)

	now := m.cfg.Now()
	m.mu.RLock()
	var due []*Target
	for _, t := range m.targets {
		if t.Status != StatusActive {
			continue
		}
		if t.LastChecked.IsZero() || now.Sub(t.LastChecked) >= time.Duration(t.Interval)*time.Second {
			due = append(due, t)
		}
	}
	m.mu.RUnlock()

	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.CheckParallelism)
	for _, t := range due {
		g.Go(func() error {
			m.checkTarget(gctx, t.ID)
			return nil // individual failures never halt the tick
		})
	}
	g.Wait()
}

// checkTarget runs one fetch-distill-diff cycle for a target and persists
// the mutated record. All mutation is confined to this target. The lock
// covers only the record commit; event-log appends and webhook delivery run
// after release so a slow sink never blocks accessors or other targets.
func (m *Manager) checkTarget(ctx context.Context, id string) {
	log := m.cfg.Logger.With("watch_id", id)

	m.mu.RLock()
	t, ok := m.targets[id]
	if !ok {
		m.mu.RUnlock()
		return
	}
	url := t.URL
	policy := t.ExtractPolicy
	rendered := t.Rendered
	m.mu.RUnlock()

	m.checks.Add(1)
	det, err := m.runCheck(ctx, url, policy, rendered)
	now := m.cfg.Now()

	m.mu.Lock()
	t, ok = m.targets[id]
	if !ok {
		m.mu.Unlock()
		return // removed mid-check
	}
	t.LastChecked = now
	t.CheckCount++

	if err != nil {
		m.errs.Add(1)
		t.Status = StatusError
		t.LastError = err.Error()
		m.persist(t, log)
		m.mu.Unlock()
		log.Warn("watch: check failed", "url", url, "error", err)
		return
	}

	if t.Status == StatusError {
		t.Status = StatusActive
		t.LastError = ""
	}

	var ev *Event
	var webhookURL string
	if det.HasChanged && det.ChangePercent >= t.ChangeThreshold {
		t.LastChanged = now
		t.ChangeCount++
		m.changes.Add(1)

		e := Event{
			WatchID:       t.ID,
			URL:           url,
			Timestamp:     now,
			ChangePercent: det.ChangePercent,
			Summary:       det.Summary,
			CurrentHash:   det.CurrentSnapshot.ContentHash,
		}
		if det.PreviousSnapshot != nil {
			e.PreviousHash = det.PreviousSnapshot.ContentHash
		}
		ev = &e
		webhookURL = t.WebhookURL
	}
	m.persist(t, log)
	m.mu.Unlock()

	if ev == nil {
		return
	}
	// The event log is only ever appended from the single goroutine
	// checking this target, so no lock is needed here.
	if err := m.store.appendEvent(id, *ev); err != nil {
		log.Warn("watch: append event failed", "error", err)
	}
	log.Info("watch: change detected", "url", url, "change_percent", ev.ChangePercent)

	if webhookURL != "" {
		if err := m.sink.Send(ctx, webhookURL, *ev); err != nil {
			m.webhookFail.Add(1)
			log.Warn("watch: webhook delivery failed", "error", err)
		} else {
			m.webhookOK.Add(1)
		}
	}
}

// runCheck performs the fetch-distill-diff sequence outside the lock. The
// cache is bypassed: watches must observe the live origin.
func (m *Manager) runCheck(ctx context.Context, url, policy string, rendered bool) (*diff.Detection, error) {
	mode := fetch.ModeHTTP
	if rendered {
		mode = fetch.ModeRendered
	}
	res, err := m.fetcher.Fetch(ctx, fetch.Request{URL: url, Mode: mode})
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	dr, err := m.dist.Distill(ctx, string(res.Body), res.FinalURL, policy)
	if err != nil {
		return nil, fmt.Errorf("distill: %w", err)
	}

	det, err := m.differ.DetectChanges(ctx, url, dr.ContentText, &diff.Meta{Title: dr.Title})
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	return det, nil
}

func (m *Manager) setStatus(id string, status Status, clearError bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	if clearError {
		t.LastError = ""
	}
	m.persist(t, m.cfg.Logger)
	return nil
}

// persist writes the target config. Must be called with mu held.
func (m *Manager) persist(t *Target, log *slog.Logger) {
	if err := m.store.saveTarget(t); err != nil {
		log.Warn("watch: persist target failed", "id", t.ID, "error", err)
	}
}
