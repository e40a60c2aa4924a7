// Copyright 2025 Kellogg Brengel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command talkingrock runs the portfolio chat service: a zero-trust LLM
// inference pipeline over local Ollama models.
//
// Usage:
//
//	talkingrock serve
//	talkingrock serve --fast=false
//	talkingrock prewarm
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kbrengel/talkingrock/pkg/analytics"
	"github.com/kbrengel/talkingrock/pkg/audit"
	"github.com/kbrengel/talkingrock/pkg/config"
	"github.com/kbrengel/talkingrock/pkg/contact"
	"github.com/kbrengel/talkingrock/pkg/conversation"
	"github.com/kbrengel/talkingrock/pkg/logger"
	"github.com/kbrengel/talkingrock/pkg/observability"
	"github.com/kbrengel/talkingrock/pkg/ollama"
	"github.com/kbrengel/talkingrock/pkg/pipeline"
	"github.com/kbrengel/talkingrock/pkg/ratelimit"
	"github.com/kbrengel/talkingrock/pkg/server"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the chat server."`
	Prewarm PrewarmCmd `cmd:"" help:"Compute and cache context embeddings, then exit."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("talkingrock version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Fast    bool `default:"true" negatable:"" help:"Use the fused low-latency pipeline (use --no-fast for the full 9-stage pipeline)."`
	Prewarm bool `default:"true" negatable:"" help:"Prewarm embedding caches on startup."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}

	if health := app.llm.HealthCheck(ctx); health {
		slog.Info("Ollama connection verified", "url", cfg.Models.OllamaURL)
	} else {
		slog.Warn("Ollama not available at startup", "url", cfg.Models.OllamaURL)
	}

	if cfg.Retrieval.SemanticEnabled {
		if c.Prewarm {
			go func() {
				if err := app.semantic.Prewarm(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("Embedding prewarm failed", "error", err)
				}
			}()
		}
		go func() {
			if err := app.semantic.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Content watcher stopped", "error", err)
			}
		}()
	}

	opts := server.Options{
		Config:    cfg,
		Contacts:  app.contacts,
		Analytics: app.analyticsService,
		Logs:      app.transcripts,
		Metrics:   app.metrics,
	}
	// The fused pipeline needs both optimizations enabled; disabling
	// either via env falls back to the full pipeline.
	useFast := c.Fast && cfg.Pipeline.UseCombinedClassifier && cfg.Pipeline.UseFastSafetyCheck
	if useFast {
		opts.Pipeline = app.fast
		opts.Streamer = app.fast
	} else {
		opts.Pipeline = app.full
	}

	srv, err := server.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run(ctx)
}

// PrewarmCmd computes embeddings for every domain and exits.
type PrewarmCmd struct{}

func (c *PrewarmCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	if !cfg.Retrieval.SemanticEnabled {
		return fmt.Errorf("semantic retrieval is disabled, nothing to prewarm")
	}

	slog.Info("Prewarming embedding caches")
	if err := app.semantic.Prewarm(ctx); err != nil {
		return fmt.Errorf("prewarm failed: %w", err)
	}
	slog.Info("Prewarm complete")
	return nil
}

func loadConfig(cli *CLI) (*config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}
	cfg := config.Load()

	levelStr := cli.LogLevel
	if levelStr == "" {
		levelStr = cfg.Server.LogLevel
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, _, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
	}

	format := cli.LogFormat
	if format == "" {
		format = cfg.Server.LogFormat
	}
	logger.Init(level, output, format)

	return cfg, nil
}

// app holds the assembled components shared by the serve and prewarm
// commands.
type app struct {
	llm              *ollama.Client
	full             *pipeline.Orchestrator
	fast             *pipeline.FastOrchestrator
	semantic         *pipeline.SemanticRetriever
	contacts         *contact.Storage
	transcripts      *analytics.Storage
	analyticsService *analytics.Service
	metrics          observability.Metrics
}

func buildApp(cfg *config.Config) (*app, error) {
	llm := ollama.NewClientWithTimeout(cfg.Models.OllamaURL, cfg.Models.GeneratorTimeout)

	limiter, err := ratelimit.NewLimiter(ratelimit.Limits{
		PerIPPerMinute:  cfg.RateLimits.PerIPPerMinute,
		PerIPPerHour:    cfg.RateLimits.PerIPPerHour,
		GlobalPerMinute: cfg.RateLimits.GlobalPerMinute,
	}, ratelimit.NewMemoryStore())
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	metrics, err := observability.InitMetrics(cfg.Server.MetricsEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	auditLog := audit.NewLogger(logger.GetLogger())
	conversations := conversation.NewManager(cfg.Conversation.MaxTurns, cfg.Conversation.TTL, cfg.Conversation.MaxHistoryTokens)

	contacts, err := contact.NewStorage(cfg.Paths.ContactsDir())
	if err != nil {
		return nil, err
	}

	var transcripts *analytics.Storage
	var analyticsService *analytics.Service
	if cfg.Analytics.Enabled {
		transcripts, err = analytics.NewStorage(cfg.Paths.ConversationsDir())
		if err != nil {
			return nil, err
		}
		analyticsService = analytics.NewService(transcripts)
	}

	registry, err := pipeline.LoadSourceRegistry(filepath.Join(cfg.Paths.ContextDir, "sources.yaml"))
	if err != nil {
		return nil, err
	}

	retriever := pipeline.NewRetriever(registry, cfg.Paths.ContextDir, cfg.Security.MaxContextLength)
	semantic, err := pipeline.NewSemanticRetriever(retriever, llm, pipeline.SemanticOptions{
		ChunkSize:      cfg.Retrieval.ChunkSize,
		ChunkOverlap:   cfg.Retrieval.ChunkOverlap,
		TopK:           cfg.Retrieval.TopK,
		MinSimilarity:  cfg.Retrieval.MinSimilarity,
		EmbeddingModel: cfg.Models.EmbeddingModel,
		CacheDir:       cfg.Paths.CacheDir(),
	})
	if err != nil {
		return nil, err
	}

	// Classifier-tier models answer fast or not at all.
	clsLLM := pipeline.WithCallTimeout(llm, cfg.Models.ClassifierTimeout)

	gateway := pipeline.NewGateway(limiter, auditLog, cfg.Security.MaxRequestSize)
	sanitizer := pipeline.NewSanitizer(cfg.Security.MaxInputLength, auditLog)
	router := pipeline.NewRouter(cfg.Pipeline.ProjectNames)
	deliverer := pipeline.NewDeliverer(auditLog)

	full := pipeline.NewOrchestrator(pipeline.OrchestratorDeps{
		Gateway:       gateway,
		Sanitizer:     sanitizer,
		Detector:      pipeline.NewJailbreakDetector(clsLLM, cfg.Models.ClassifierModel, cfg.Paths.PromptsDir, auditLog),
		Intents:       pipeline.NewIntentParser(clsLLM, cfg.Models.RouterModel, cfg.Paths.PromptsDir),
		Router:        router,
		Retriever:     retriever,
		Generator:     pipeline.NewGenerator(llm, cfg.Models.GeneratorModel, cfg.Paths.PromptsDir, false),
		Reviser:       pipeline.NewReviser(llm, cfg.Models.GeneratorModel, cfg.Paths.PromptsDir),
		Safety:        pipeline.NewSafetyChecker(clsLLM, cfg.Models.VerifierModel, cfg.Paths.PromptsDir, auditLog),
		Verifier:      pipeline.NewSemanticVerifier(llm, cfg.Models.EmbeddingModel, 0),
		Deliverer:     deliverer,
		Conversations: conversations,
		Transcripts:   transcripts,
		Metrics:       metrics,
		LLM:           llm,
		SkipRevision:  cfg.Pipeline.SkipRevision,
	})

	fast := pipeline.NewFastOrchestrator(pipeline.FastOrchestratorDeps{
		Gateway:           gateway,
		Sanitizer:         sanitizer,
		Combined:          pipeline.NewCombinedClassifier(clsLLM, cfg.Models.ClassifierModel, auditLog),
		Router:            router,
		Retriever:         semantic,
		Generator:         pipeline.NewGenerator(llm, cfg.Models.GeneratorModel, cfg.Paths.PromptsDir, true),
		FastSafety:        pipeline.NewFastSafetyChecker(),
		Deliverer:         deliverer,
		Conversations:     conversations,
		Transcripts:       transcripts,
		Contacts:          contacts,
		Metrics:           metrics,
		LLM:               llm,
		MaxToolIterations: cfg.Pipeline.MaxToolIterations,
		MinContextQuality: cfg.Pipeline.MinContextQuality,
	})

	return &app{
		llm:              llm,
		full:             full,
		fast:             fast,
		semantic:         semantic,
		contacts:         contacts,
		transcripts:      transcripts,
		analyticsService: analyticsService,
		metrics:          metrics,
	}, nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("talkingrock"),
		kong.Description("Zero-trust LLM inference pipeline for a portfolio chat."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
