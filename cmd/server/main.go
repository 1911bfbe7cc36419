package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/refgest/internal/api"
	"github.com/dgallion1/refgest/internal/cache"
	"github.com/dgallion1/refgest/internal/config"
	"github.com/dgallion1/refgest/internal/extract"
	"github.com/dgallion1/refgest/internal/pipeline"
	"github.com/dgallion1/refgest/internal/search"
	"github.com/dgallion1/refgest/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	// Initialize the LLM client: provider, then rate limit, then stats.
	var (
		base   extract.Completer
		closer func()
	)
	switch cfg.LLMProvider {
	case "openai":
		base = extract.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		closer = func() {}
	default:
		claude := extract.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		base = claude
		closer = claude.Close
	}
	llm := extract.NewObserved(extract.NewRateLimited(base, cfg.LLMRateLimit, cfg.LLMRateBurst), extract.NewLLMStats(time.Hour))
	rc := cache.New(st, log)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, llm, st, rc, log)
	orch.Start(ctx)

	svc := search.NewService(llm, st, rc, search.Options{
		Concurrency:     cfg.SearchConcurrency,
		DefaultStrategy: cfg.DefaultScorer,
		Retry:           extract.RetryPolicy{Attempts: cfg.LLMMaxAttempts, Delay: cfg.LLMRetryDelay},
	}, log)

	// Initialize HTTP server.
	srv := api.NewServer(orch, st, svc, llm, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		closer()
		st.Close()
	}()

	log.Info("starting refgest", "port", cfg.Port, "provider", cfg.LLMProvider, "model", llm.Model())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
