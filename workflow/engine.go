package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sievelabs/sieve/agentic"
	"github.com/sievelabs/sieve/distill"
)

// Run statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunTimeout   = "timeout"
)

// Step result statuses.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// errRunAborted signals that a failed step stopped the run (continueOnError
// off).
var errRunAborted = errors.New("workflow: run aborted")

// Screenshotter is the optional capability a session needs for screenshot
// steps.
type Screenshotter interface {
	Screenshot(ctx context.Context, path string, fullPage bool) error
}

// Distiller is the extraction capability extract steps consume.
type Distiller interface {
	Distill(ctx context.Context, rawHTML, baseURL, policyHint string) (*distill.Result, error)
}

// SessionFactory opens a fresh blank browser page.
type SessionFactory func(ctx context.Context) (agentic.Page, error)

// StepResult records one executed step.
type StepResult struct {
	Type     string        `json:"type"`
	Name     string        `json:"name,omitempty"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Output   any           `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the outcome of one workflow execution.
type RunResult struct {
	RunID     string         `json:"run_id"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Steps     []StepResult   `json:"steps"`
	Variables map[string]any `json:"variables,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Engine executes workflows. Steps within one run are sequential; nothing
// is shared across runs, so the Engine itself is safe for concurrent use.
type Engine struct {
	sessions SessionFactory
	dist     Distiller
	logger   *slog.Logger
}

// NewEngine creates an Engine. sessions may be nil for workflows that only
// use setVariable/if/loop steps.
func NewEngine(sessions SessionFactory, dist Distiller, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{sessions: sessions, dist: dist, logger: logger}
}

// run carries the mutable state of one execution.
type run struct {
	engine *Engine
	wf     *Workflow
	vars   map[string]any
	page   agentic.Page
	result *RunResult
	log    *slog.Logger
}

// Execute validates and runs a workflow. The whole run races against
// options.timeout; on expiry the completed steps are returned with status
// timeout. The browser session, if one was opened, is always closed.
func (e *Engine) Execute(ctx context.Context, wf *Workflow) (*RunResult, error) {
	if err := Validate(wf); err != nil {
		return nil, err
	}

	timeout := time.Duration(wf.Options.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	r := &run{
		engine: e,
		wf:     wf,
		vars:   make(map[string]any, len(wf.Variables)),
		result: &RunResult{
			RunID:  uuid.NewString(),
			Name:   wf.Name,
			Status: RunCompleted,
		},
		log: e.logger.With("workflow", wf.Name),
	}
	for k, v := range wf.Variables {
		r.vars[k] = v
	}
	defer r.closeSession()

	r.log.Info("workflow: run started", "run_id", r.result.RunID, "steps", len(wf.Steps))

	err := r.runSteps(ctx, wf.Steps)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.result.Status = RunTimeout
		r.result.Error = "workflow timeout"
	case errors.Is(err, errRunAborted):
		r.result.Status = RunFailed
	case err != nil:
		r.result.Status = RunFailed
		r.result.Error = err.Error()
	}

	r.result.Variables = r.vars
	r.result.Duration = time.Since(start)
	r.log.Info("workflow: run finished",
		"run_id", r.result.RunID, "status", r.result.Status, "duration", r.result.Duration)
	return r.result, nil
}

func (r *run) runSteps(ctx context.Context, steps []Step) error {
	for _, s := range steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.runStep(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) runStep(ctx context.Context, s Step) error {
	// Control-flow steps recurse and do not produce a StepResult of their
	// own failures beyond their children's.
	switch s.Type {
	case StepIf:
		return r.runIf(ctx, s)
	case StepLoop:
		return r.runLoop(ctx, s)
	}

	start := time.Now()
	output, err := r.execLeaf(ctx, s)
	res := StepResult{
		Type:     s.Type,
		Name:     s.Name,
		Status:   StepCompleted,
		Output:   output,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Status = StepFailed
		res.Error = err.Error()
	}
	r.result.Steps = append(r.result.Steps, res)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("workflow: step failed", "type", s.Type, "name", s.Name, "error", err)
		if r.wf.Options.ContinueOnError {
			return nil
		}
		return errRunAborted
	}
	return nil
}

func (r *run) runIf(ctx context.Context, s Step) error {
	ok, err := evalCondition(s.Condition, r.vars)
	if err != nil {
		r.result.Steps = append(r.result.Steps, StepResult{
			Type: StepIf, Name: s.Name, Status: StepFailed, Error: err.Error(),
		})
		if r.wf.Options.ContinueOnError {
			return nil
		}
		return errRunAborted
	}
	if ok {
		return r.runSteps(ctx, s.Then)
	}
	return r.runSteps(ctx, s.Else)
}

func (r *run) runLoop(ctx context.Context, s Step) error {
	max := s.MaxIterations
	if max <= 0 {
		max = defaultMaxIterations
	}

	var items []any
	iterations := 0
	if s.Over != "" {
		v, ok := r.vars[s.Over].([]any)
		if !ok {
			r.result.Steps = append(r.result.Steps, StepResult{
				Type: StepLoop, Name: s.Name, Status: StepFailed,
				Error: fmt.Sprintf("workflow: loop over %q: not an array variable", s.Over),
			})
			if r.wf.Options.ContinueOnError {
				return nil
			}
			return errRunAborted
		}
		items = v
		iterations = len(items)
	} else {
		iterations = s.Times
	}
	if iterations > max {
		iterations = max
	}

	for i := 0; i < iterations; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.vars["__index"] = i
		if items != nil {
			r.vars["__item"] = items[i]
		}
		if err := r.runSteps(ctx, s.Steps); err != nil {
			return err
		}
		if s.BreakIf != "" {
			stop, err := evalCondition(s.BreakIf, r.vars)
			if err != nil {
				r.log.Warn("workflow: breakIf failed", "error", err)
				continue
			}
			if stop {
				break
			}
		}
	}
	delete(r.vars, "__index")
	delete(r.vars, "__item")
	return nil
}

// execLeaf runs one non-control step and returns its output.
func (r *run) execLeaf(ctx context.Context, s Step) (any, error) {
	switch s.Type {
	case StepFetch:
		page, err := r.session(ctx)
		if err != nil {
			return nil, err
		}
		waitUntil := s.WaitUntil
		if waitUntil == "" {
			waitUntil = "load"
		}
		url := substitute(s.URL, r.vars)
		if err := page.Goto(ctx, url, waitUntil); err != nil {
			return nil, err
		}
		return map[string]any{"url": url}, nil

	case StepInteract:
		page, err := r.session(ctx)
		if err != nil {
			return nil, err
		}
		sel := substitute(s.Selector, r.vars)
		val := substitute(s.Value, r.vars)
		loc := page.Locator(sel)
		switch s.Action {
		case ActionClick:
			return nil, loc.Click(ctx)
		case ActionFill:
			return nil, loc.Fill(ctx, val)
		case ActionType:
			return nil, loc.Type(ctx, val)
		}
		return nil, fmt.Errorf("workflow: unknown action %q", s.Action)

	case StepExtract:
		page, err := r.session(ctx)
		if err != nil {
			return nil, err
		}
		if r.engine.dist == nil {
			return nil, errors.New("workflow: no distiller configured")
		}
		html, err := page.Content(ctx)
		if err != nil {
			return nil, err
		}
		dr, err := r.engine.dist.Distill(ctx, html, page.URL(), substitute(s.Policy, r.vars))
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"title":      dr.Title,
			"text":       dr.ContentText,
			"length":     dr.ContentLength,
			"method":     string(dr.ExtractionMethod),
			"confidence": dr.ExtractionConfidence,
		}
		if s.AssignTo != "" {
			r.vars[s.AssignTo] = out
		}
		return out, nil

	case StepWait:
		page, err := r.session(ctx)
		if err != nil {
			return nil, err
		}
		switch s.For {
		case WaitTimeout:
			return nil, page.WaitForTimeout(ctx, time.Duration(s.Seconds*float64(time.Second)))
		case WaitSelector:
			state := s.State
			if state == "" {
				state = "visible"
			}
			timeout := time.Duration(s.Seconds * float64(time.Second))
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			return nil, page.WaitForSelector(ctx, substitute(s.Selector, r.vars), state, timeout)
		case WaitNetworkIdle:
			return nil, waitNetworkIdle(ctx, page)
		}
		return nil, fmt.Errorf("workflow: unknown wait condition %q", s.For)

	case StepScreenshot:
		page, err := r.session(ctx)
		if err != nil {
			return nil, err
		}
		shooter, ok := page.(Screenshotter)
		if !ok {
			return nil, errors.New("workflow: session does not support screenshots")
		}
		path := substitute(s.Path, r.vars)
		if err := shooter.Screenshot(ctx, path, s.FullPage); err != nil {
			return nil, err
		}
		return map[string]any{"path": path}, nil

	case StepSetVariable:
		if s.FromEval != "" {
			v, err := evalExpr(s.FromEval, r.vars)
			if err != nil {
				return nil, err
			}
			r.vars[s.Variable] = v
			return v, nil
		}
		v := s.SetValue
		if str, ok := v.(string); ok {
			v = substitute(str, r.vars)
		}
		r.vars[s.Variable] = v
		return v, nil
	}
	return nil, fmt.Errorf("workflow: unknown step type %q", s.Type)
}

// session lazily opens the run's browser page.
func (r *run) session(ctx context.Context) (agentic.Page, error) {
	if r.page != nil {
		return r.page, nil
	}
	if r.engine.sessions == nil {
		return nil, errors.New("workflow: no browser session factory configured")
	}
	page, err := r.engine.sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: open session: %w", err)
	}
	r.page = page
	return page, nil
}

// closeSession releases the browser page on every exit path.
func (r *run) closeSession() {
	if r.page == nil {
		return
	}
	if closer, ok := r.page.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			r.log.Warn("workflow: close session failed", "error", err)
		}
	}
	r.page = nil
}

// waitNetworkIdle polls document readiness and then allows a settle
// window. Coarse, but sufficient for scripted flows between steps.
func waitNetworkIdle(ctx context.Context, page agentic.Page) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		v, err := page.Evaluate(ctx, `() => document.readyState`)
		if err != nil {
			return err
		}
		if s, ok := v.(string); ok && s == "complete" {
			break
		}
		if err := page.WaitForTimeout(ctx, 250*time.Millisecond); err != nil {
			return err
		}
	}
	return page.WaitForTimeout(ctx, 500*time.Millisecond)
}
