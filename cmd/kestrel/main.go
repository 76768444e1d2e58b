// Kestrel - Retrieval-grounded decisions for banking support.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/chunker"
	"github.com/opensource-finance/kestrel/internal/complaints"
	"github.com/opensource-finance/kestrel/internal/completion"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/fraud"
	indexmem "github.com/opensource-finance/kestrel/internal/index/memory"
	indexoai "github.com/opensource-finance/kestrel/internal/index/openai"
	indexqdrant "github.com/opensource-finance/kestrel/internal/index/qdrant"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/retrieval"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"index", cfg.Index.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Similarity Index
	index, err := buildIndex(cfg.Index)
	if err != nil {
		slog.Error("failed to initialize similarity index", "error", err)
		os.Exit(1)
	}
	defer index.Close()
	slog.Info("similarity index initialized", "type", cfg.Index.Type, "embedder", cfg.Index.Embedder)

	// Initialize Retrieval Engine
	engine := retrieval.NewEngine(index, cacheImpl, cfg.Retrieval)
	slog.Info("retrieval engine initialized",
		"default_collection", cfg.Retrieval.DefaultCollection,
		"relevance_threshold", cfg.Retrieval.RelevanceThreshold,
	)

	// Initialize Policy Constants
	constants := policy.NewConstants()

	// Initialize Flag Engine with the built-in derivation rules
	flagEngine, err := fraud.NewFlagEngine(100)
	if err != nil {
		slog.Error("failed to initialize flag engine", "error", err)
		os.Exit(1)
	}
	defer flagEngine.Close()
	if err := flagEngine.LoadRules(fraud.DefaultFlagRules()); err != nil {
		slog.Error("failed to load flag rules", "error", err)
		os.Exit(1)
	}
	slog.Info("flag engine initialized", "rules_count", flagEngine.RulesCount())

	// Initialize Fraud Scorer
	scorer := fraud.NewScorer(constants, engine)

	// Initialize optional Completion Provider for advisory labels
	var completer complaints.CompletionProvider
	if cfg.Completion.Enabled && cfg.Completion.APIKey != "" {
		provider, err := completion.NewOpenAIProvider(completion.Config{
			APIKey:  cfg.Completion.APIKey,
			Model:   cfg.Completion.Model,
			BaseURL: cfg.Completion.BaseURL,
		})
		if err != nil {
			slog.Warn("completion provider unavailable, labels stay heuristic", "error", err)
		} else {
			completer = provider
			slog.Info("completion provider initialized", "model", cfg.Completion.Model)
		}
	}

	// Initialize Complaint Router
	router := complaints.NewRouter(constants, engine, completer)

	// Initialize Eligibility Validator
	validator := eligibility.NewValidator(engine)

	// Initialize Ingestion Service
	ingester := ingest.NewService(chunker.New(chunker.Config{}), repo, index, busImpl)

	// Initialize async Worker
	asyncWorker := worker.NewWorker(busImpl, repo, flagEngine, scorer, router)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, index, engine, flagEngine, scorer, router, validator, ingester, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// buildIndex constructs the similarity index for the configured tier.
func buildIndex(cfg domain.IndexConfig) (domain.SimilarityIndex, error) {
	switch cfg.Type {
	case "", "memory":
		return indexmem.New(), nil

	case "qdrant":
		embedder, err := indexoai.New(indexoai.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		})
		if err != nil {
			return nil, err
		}
		return indexqdrant.New(indexqdrant.Config{
			URL:    cfg.QdrantURL,
			APIKey: cfg.QdrantAPIKey,
		}, embedder)

	default:
		return nil, fmt.Errorf("unsupported index type: %s", cfg.Type)
	}
}

// applyEnvOverrides folds deployment secrets and endpoints from the
// environment into the tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_QDRANT_URL"); v != "" {
		cfg.Index.QdrantURL = v
	}
	if v := os.Getenv("KESTREL_QDRANT_API_KEY"); v != "" {
		cfg.Index.QdrantAPIKey = v
	}
	if v := os.Getenv("KESTREL_OPENAI_API_KEY"); v != "" {
		cfg.Index.OpenAIAPIKey = v
		cfg.Completion.APIKey = v
	}
	if os.Getenv("KESTREL_COMPLETION") == "true" {
		cfg.Completion.Enabled = true
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Kestrel - grounded answers, routed complaints, scored risk.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /query                 - Answer a question from the knowledge base")
	fmt.Println("    POST /query/batch           - Answer multiple questions")
	fmt.Println("    POST /grounding/check       - Verify a statement against policy")
	fmt.Println("    POST /fraud/score           - Score a transaction synchronously")
	fmt.Println("    POST /transactions          - Queue a transaction for async scoring")
	fmt.Println("    POST /complaints/route      - Route a complaint synchronously")
	fmt.Println("    POST /complaints            - Queue a complaint for async routing")
	fmt.Println("    POST /eligibility/validate  - Validate product eligibility")
	fmt.Println("    POST /documents             - Ingest a policy document")
	fmt.Println("    GET  /documents             - List documents")
	fmt.Println("    DELETE /documents/{id}      - Remove a document")
	fmt.Println("    GET  /decisions?subject=    - List decisions for a subject")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
