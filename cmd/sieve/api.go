package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sievelabs/sieve/agentic"
	"github.com/sievelabs/sieve/browser"
	"github.com/sievelabs/sieve/cache"
	"github.com/sievelabs/sieve/distill"
	"github.com/sievelabs/sieve/fetch"
	"github.com/sievelabs/sieve/rollout"
	"github.com/sievelabs/sieve/watch"
	"github.com/sievelabs/sieve/workflow"
)

// service bundles the wired components behind the HTTP and MCP surfaces.
type service struct {
	distiller    *distill.Distiller
	agent        *agentic.Extractor
	fetcher      fetch.Client
	bodyCache    interface{ Stats() cache.Stats }
	watches      *watch.Manager
	engine       *workflow.Engine
	browser      *browser.Manager
	renderedFlag *rollout.Flag
	logger       *slog.Logger
}

func (s *service) routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/distill", s.handleDistill)

		r.Route("/watches", func(r chi.Router) {
			r.Post("/", s.handleAddWatch)
			r.Get("/", s.handleListWatches)
			r.Get("/stats", s.handleWatchStats)
			r.Get("/{id}", s.handleGetWatch)
			r.Delete("/{id}", s.handleRemoveWatch)
			r.Post("/{id}/pause", s.handlePauseWatch)
			r.Post("/{id}/resume", s.handleResumeWatch)
			r.Get("/{id}/events", s.handleWatchEvents)
		})

		r.Get("/cache/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, s.bodyCache.Stats())
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/validate", s.handleValidateWorkflow)
			r.Post("/run", s.handleRunWorkflow)
		})
	})
}

// --- Distillation ---

type distillRequest struct {
	URL      string `json:"url,omitempty"`
	HTML     string `json:"html,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	Policy   string `json:"policy,omitempty"`
	Mode     string `json:"mode,omitempty"` // http (default), rendered, agentic
	UseCache bool   `json:"use_cache,omitempty"`
}

func (s *service) handleDistill(w http.ResponseWriter, r *http.Request) {
	var req distillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.URL == "" && req.HTML == "" {
		writeJSON(w, 400, map[string]string{"error": "url or html is required"})
		return
	}

	// Inline HTML needs no fetch.
	if req.HTML != "" {
		res, err := s.distiller.Distill(r.Context(), req.HTML, req.BaseURL, req.Policy)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, res)
		return
	}

	if req.Mode == "agentic" {
		s.handleAgenticDistill(w, r, req)
		return
	}

	mode := fetch.ModeHTTP
	if req.Mode == "rendered" {
		mode = fetch.ModeRendered
	}
	fres, err := s.fetcher.Fetch(r.Context(), fetch.Request{
		URL:      req.URL,
		Mode:     mode,
		UseCache: req.UseCache,
	})
	if err != nil {
		code := 502
		if errors.Is(err, fetch.ErrUnsafeScheme) || errors.Is(err, fetch.ErrPrivateAddress) {
			code = 400
		}
		writeError(w, code, err)
		return
	}

	res, err := s.distiller.Distill(r.Context(), string(fres.Body), fres.FinalURL, req.Policy)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]any{
		"result":     res,
		"final_url":  fres.FinalURL,
		"status":     fres.Status,
		"from_cache": fres.FromCache,
	})
}

func (s *service) handleAgenticDistill(w http.ResponseWriter, r *http.Request, req distillRequest) {
	if s.browser == nil {
		writeJSON(w, 503, map[string]string{"error": "browser rendering is disabled"})
		return
	}
	page, err := s.browser.NewPage(r.Context(), req.URL, "networkidle")
	if err != nil {
		writeError(w, 502, err)
		return
	}
	defer page.Close()

	res, err := s.agent.Extract(r.Context(), page, agentic.Options{
		EnableScrolling:           true,
		EnableInteraction:         true,
		EnableAlternateExtraction: true,
	})
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, res)
}

// --- Watches ---

type addWatchRequest struct {
	URL             string `json:"url"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
	WebhookURL      string `json:"webhook_url,omitempty"`
	// Pointer so an explicit 0 ("notify on any change") survives decoding.
	ChangeThreshold *float64 `json:"change_threshold,omitempty"`
	ExtractPolicy   string   `json:"extract_policy,omitempty"`
	Rendered        bool     `json:"rendered,omitempty"`
}

func (s *service) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req addWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.URL == "" {
		writeJSON(w, 400, map[string]string{"error": "url is required"})
		return
	}
	if req.ChangeThreshold != nil && (*req.ChangeThreshold < 0 || *req.ChangeThreshold > 100) {
		writeJSON(w, 400, map[string]string{"error": "change_threshold out of range [0,100]"})
		return
	}

	// Rendered fetching rolls out gradually; explicit requests always win.
	rendered := req.Rendered
	if rendered && !s.renderedFlag.Enabled(req.URL) {
		rendered = false
	}

	target, err := s.watches.AddWatch(req.URL, watch.AddOptions{
		IntervalSeconds: req.IntervalSeconds,
		WebhookURL:      req.WebhookURL,
		ChangeThreshold: req.ChangeThreshold,
		ExtractPolicy:   req.ExtractPolicy,
		Rendered:        rendered,
	})
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 201, target)
}

func (s *service) handleListWatches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, s.watches.ListWatches())
}

func (s *service) handleWatchStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, s.watches.Stats())
}

func (s *service) handleGetWatch(w http.ResponseWriter, r *http.Request) {
	target, ok := s.watches.GetWatch(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, 404, map[string]string{"error": "watch not found"})
		return
	}
	writeJSON(w, 200, target)
}

func (s *service) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	if !s.watches.RemoveWatch(chi.URLParam(r, "id")) {
		writeJSON(w, 404, map[string]string{"error": "watch not found"})
		return
	}
	writeJSON(w, 200, map[string]string{"status": "removed"})
}

func (s *service) handlePauseWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.watches.PauseWatch(chi.URLParam(r, "id")); err != nil {
		s.watchError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "paused"})
}

func (s *service) handleResumeWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.watches.ResumeWatch(chi.URLParam(r, "id")); err != nil {
		s.watchError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "active"})
}

func (s *service) handleWatchEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events, err := s.watches.GetEvents(chi.URLParam(r, "id"), limit)
	if err != nil {
		s.watchError(w, err)
		return
	}
	if events == nil {
		events = []watch.Event{}
	}
	writeJSON(w, 200, events)
}

func (s *service) watchError(w http.ResponseWriter, err error) {
	if errors.Is(err, watch.ErrNotFound) {
		writeJSON(w, 404, map[string]string{"error": "watch not found"})
		return
	}
	writeError(w, 500, err)
}

// --- Workflows ---

func (s *service) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf := s.readWorkflow(w, r)
	if wf == nil {
		return
	}
	if err := workflow.Validate(wf); err != nil {
		writeJSON(w, 400, map[string]any{
			"valid":  false,
			"errors": strings.Split(err.Error(), "\n"),
		})
		return
	}
	writeJSON(w, 200, map[string]any{"valid": true, "name": wf.Name, "steps": len(wf.Steps)})
}

func (s *service) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	wf := s.readWorkflow(w, r)
	if wf == nil {
		return
	}
	res, err := s.engine.Execute(r.Context(), wf)
	if err != nil {
		// Execute only errors on validation problems.
		writeJSON(w, 400, map[string]any{
			"valid":  false,
			"errors": strings.Split(err.Error(), "\n"),
		})
		return
	}
	writeJSON(w, 200, res)
}

// readWorkflow decodes a YAML workflow body; writes the error response
// itself and returns nil on failure.
func (s *service) readWorkflow(w http.ResponseWriter, r *http.Request) *workflow.Workflow {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, 400, err)
		return nil
	}
	wf, err := workflow.Parse(body)
	if err != nil {
		writeError(w, 400, err)
		return nil
	}
	return wf
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
