package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sievelabs/sieve/agentic"
	"github.com/sievelabs/sieve/browser"
	"github.com/sievelabs/sieve/cache"
	"github.com/sievelabs/sieve/diff"
	"github.com/sievelabs/sieve/distill"
	"github.com/sievelabs/sieve/extractor"
	"github.com/sievelabs/sieve/fetch"
	"github.com/sievelabs/sieve/middleware"
	"github.com/sievelabs/sieve/policy"
	"github.com/sievelabs/sieve/rollout"
	"github.com/sievelabs/sieve/watch"
	"github.com/sievelabs/sieve/workflow"
)

func main() {
	port := env("PORT", "8080")
	dataDir := env("DATA_DIR", "data")
	cacheDBPath := env("CACHE_DB", "db/cache.db")
	snapshotDBPath := env("SNAPSHOT_DB", "db/snapshots.db")
	logLevel := env("LOG_LEVEL", "info")
	browserEnabled := env("BROWSER_ENABLED", "") == "true"
	browserRemote := env("BROWSER_REMOTE_URL", "")
	ollamaURL := env("OLLAMA_URL", "")
	renderedPct := envInt("RENDERED_ROLLOUT_PCT", 100)
	cacheTTL := time.Duration(envInt("CACHE_TTL_SECONDS", 3600)) * time.Second

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Remote cache tier + circuit breaker.
	remote, err := cache.OpenSQLiteStore(cacheDBPath)
	if err != nil {
		slog.Error("cache db", "error", err)
		os.Exit(1)
	}
	defer remote.Close()
	breaker := cache.NewBreaker(cache.WithBreakerLogger(logger))

	bodyCache, err := fetch.NewBodyCache(remote, breaker, cache.Config{
		TTL:    cacheTTL,
		Logger: logger,
	})
	if err != nil {
		slog.Error("body cache", "error", err)
		os.Exit(1)
	}

	// Browser manager is optional; rendered fetches and workflows fail with
	// a clear error when disabled.
	var bm *browser.Manager
	if browserEnabled || browserRemote != "" {
		bm = browser.NewManager(browser.Config{
			RemoteURL: browserRemote,
			Logger:    logger,
		})
		if err := bm.Start(ctx); err != nil {
			slog.Warn("browser unavailable, continuing without rendering", "error", err)
			bm = nil
		} else {
			defer bm.Close()
		}
	}

	// Fetch pipeline: HTTP -> rendered dispatch -> cache read-through.
	httpClient := fetch.NewHTTPClient(fetch.Config{})
	rendered := fetch.NewRenderedClient(httpClient, bm)
	fetcher := fetch.NewCachedClient(rendered, bodyCache)

	// Diff engine.
	differ, err := diff.OpenSQLiteEngine(snapshotDBPath)
	if err != nil {
		slog.Error("snapshot db", "error", err)
		os.Exit(1)
	}
	defer differ.Close()

	// Distiller: policy transform + extractor ensemble + adapters.
	extractors := []extractor.Extractor{
		&extractor.ReadabilityExtractor{},
		&extractor.DensityExtractor{},
		&extractor.LandmarkExtractor{},
	}
	if ollamaURL != "" {
		extractors = append(extractors, &extractor.OllamaExtractor{BaseURL: ollamaURL})
	}
	distiller := distill.New(extractors,
		distill.Config{Logger: logger},
		distill.WithPolicyEngine(policy.NewEngine(policy.WithLogger(logger))),
		distill.WithAdapters(&extractor.EbayListingAdapter{}, &extractor.EbaySearchAdapter{}),
	)
	agent := agentic.New(distiller, logger)

	// Rendered-fetch rollout gate for new watches.
	renderedFlag, err := rollout.NewFlag("rendered-fetch", renderedPct)
	if err != nil {
		slog.Error("rollout", "error", err)
		os.Exit(1)
	}

	// Watch manager.
	watches, err := watch.NewManager(fetcher, distiller, differ, watch.Config{
		DataDir: dataDir,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("watch manager", "error", err)
		os.Exit(1)
	}
	go watches.Run(ctx)

	// Workflow engine shares the browser manager.
	var sessions workflow.SessionFactory
	if bm != nil {
		sessions = func(ctx context.Context) (agentic.Page, error) {
			return bm.NewPage(ctx, "", "")
		}
	}
	engine := workflow.NewEngine(sessions, distiller, logger)

	svc := &service{
		distiller:    distiller,
		agent:        agent,
		fetcher:      fetcher,
		bodyCache:    bodyCache,
		watches:      watches,
		engine:       engine,
		browser:      bm,
		renderedFlag: renderedFlag,
		logger:       logger,
	}

	r := chi.NewRouter()
	for _, mw := range middleware.DefaultStack(logger) {
		r.Use(mw)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	svc.routes(r)
	r.Handle("/mcp", svc.mcpHandler())

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
