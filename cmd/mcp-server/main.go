// Command mcp-server runs the agent memory and tool-execution server:
// it wires config, logging, the embedding service (C1), the four memory
// tiers plus multi-model storage (C2-C6), the orchestrator (C7), the
// dreaming consolidation pipeline (C10), the tool registry (C8), and the
// JSON-RPC transport (C9), then serves either stdio or HTTP depending on
// configuration.
//
// Grounded on the teacher's cmd/mcp-manifold/main.go (tool registration +
// signal-driven graceful shutdown) and internal/observability/logging.go
// (zerolog setup), generalized from the teacher's single in-process tool
// list to this module's Deps-driven registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/intelligencedev/coremem/internal/config"
	"github.com/intelligencedev/coremem/internal/dreaming"
	"github.com/intelligencedev/coremem/internal/embedding"
	"github.com/intelligencedev/coremem/internal/llmclient"
	"github.com/intelligencedev/coremem/internal/logctx"
	"github.com/intelligencedev/coremem/internal/memory"
	"github.com/intelligencedev/coremem/internal/objectstore"
	"github.com/intelligencedev/coremem/internal/tools"
	"github.com/intelligencedev/coremem/internal/tools/kafka"
	"github.com/intelligencedev/coremem/internal/transport"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to config.json (optional, defaults layered with env overrides)")
		transportFlag = flag.String("transport", "stdio", "stdio | http")
		logLevel      = flag.String("log-level", "info", "zerolog level: debug|info|warn|error")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Stdio carries the JSON-RPC protocol on stdout, so logs must never
	// land there regardless of which transport ends up serving.
	log := newLogger(*logLevel)
	appCtx := logctx.New(log, cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("failed to create data dir")
	}

	deps, err := buildDeps(appCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire server dependencies")
	}

	registry := tools.BuildRegistry(deps)
	registry.SetLogger(appCtx)
	handler := transport.NewHandler(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	switch strings.ToLower(strings.TrimSpace(*transportFlag)) {
	case "stdio":
		log.Info().Msg("serving MCP over stdio")
		if err := transport.NewStdioServer(handler, appCtx).Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("stdio server error")
		}
	case "http":
		srv := transport.NewHTTPServer(handler, cfg.Transport, appCtx)
		httpSrv := &http.Server{Addr: cfg.Transport.HTTPAddr, Handler: srv}
		errChan := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.Transport.HTTPAddr).Msg("serving MCP over HTTP")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()
		select {
		case err := <-errChan:
			log.Fatal().Err(err).Msg("http server error")
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("http server shutdown error")
			}
		}
	default:
		log.Fatal().Str("transport", *transportFlag).Msg("unknown transport, want stdio|http")
	}

	log.Info().Msg("mcp-server stopped")
}

// newLogger builds a zerolog.Logger writing to stderr, mirroring the
// teacher's InitLogger except for the output stream: stdout is reserved
// for the stdio JSON-RPC transport's framed responses.
func newLogger(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// buildDeps wires every component the tool registry needs, including the
// optional dreaming pipeline (C10), which stays nil when no LLM provider
// API key is configured so the server still boots without it.
func buildDeps(appCtx *logctx.Context, cfg config.Config) (tools.Deps, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	embed, err := embedding.New(appCtx, cfg.Embedding)
	if err != nil {
		return tools.Deps{}, fmt.Errorf("embedding: %w", err)
	}

	working := memory.NewWorkingMemory(cfg.Working.MaxTokens, appCtx.Now)
	active := memory.NewActiveMemory(cfg.Active.MaxPages, appCtx.Now)
	archival := memory.NewArchivalMemory(cfg.DataDir, "archival", cfg.Archival.PersistEvery, appCtx.Now)
	knowledge := memory.NewKnowledgeBase(cfg.DataDir, cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap, appCtx.Now)
	multiModel := memory.NewMultiModelStore(cfg.DataDir, cfg.Orchestrator.MultiModelPriorityKeys, appCtx.Now)

	orchestrator := memory.NewOrchestrator(
		appCtx.With("orchestrator"),
		cfg.Orchestrator,
		embed,
		working,
		active,
		archival,
		knowledge,
		multiModel,
		appCtx.Now,
	)

	dreamingPipeline, err := buildDreamingPipeline(appCtx, cfg, httpClient)
	if err != nil {
		// A misconfigured (but present) dreaming config should be loud; an
		// absent one (no API key) is the normal no-dreaming deployment and
		// is handled inside buildDreamingPipeline by returning nil, nil.
		return tools.Deps{}, fmt.Errorf("dreaming: %w", err)
	}

	return tools.Deps{
		Orchestrator: orchestrator,
		Dreaming:     dreamingPipeline,
		Tools:        cfg.Tools,
		HTTPClient:   httpClient,
		Now:          appCtx.Now,
	}, nil
}

// buildDreamingPipeline constructs C10 when a dreaming LLM API key is
// configured, wiring the optional Kafka publish-on-archive and S3
// cold-storage tiers named in SPEC_FULL.md's dependency table. It returns
// (nil, nil) rather than an error when dreaming is simply unconfigured.
func buildDreamingPipeline(appCtx *logctx.Context, cfg config.Config, httpClient *http.Client) (*dreaming.Pipeline, error) {
	if strings.TrimSpace(cfg.Dreaming.APIKey) == "" {
		appCtx.Log.Info().Msg("dreaming pipeline disabled: no LLM API key configured")
		return nil, nil
	}

	dreamingCtx := appCtx.With("dreaming")

	llm, err := llmclient.New(context.Background(), cfg.Dreaming, httpClient)
	if err != nil {
		return nil, fmt.Errorf("llmclient: %w", err)
	}

	quality := cfg.Dreaming.QualityLevel
	if quality == "" {
		quality = "good"
	}

	chunker := dreaming.NewChunker(llm, quality, dreamingCtx)
	synthesizer := dreaming.NewSynthesizer(llm, quality, dreamingCtx)

	var publisher dreaming.Publisher
	if cfg.Dreaming.KafkaEnabled {
		writer, err := kafka.NewProducerFromBrokers(cfg.Dreaming.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		topic := cfg.Dreaming.KafkaTopic
		if topic == "" {
			topic = "dreaming.archives"
		}
		publisher = kafka.NewPublisher(writer, topic)
	}

	storageRoot := cfg.DataDir + "/dreaming"
	pipeline, err := dreaming.NewPipeline(chunker, synthesizer, storageRoot, quality, publisher, dreamingCtx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if cfg.Dreaming.S3ColdStorageEnabled {
		store, err := objectstore.NewS3Store(context.Background(), objectstore.S3Config{
			Bucket: cfg.Dreaming.S3Bucket,
			Region: cfg.Dreaming.S3Region,
		}, objectstore.WithHTTPClient(httpClient))
		if err != nil {
			return nil, fmt.Errorf("s3 cold store: %w", err)
		}
		pipeline.SetColdStore(store)
	}

	return pipeline, nil
}
