// Archiva - archive question answering service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/archiva-labs/archiva/internal/api"
	"github.com/archiva-labs/archiva/internal/domain/generation"
	"github.com/archiva-labs/archiva/internal/domain/guardrail"
	"github.com/archiva-labs/archiva/internal/domain/modelpool"
	"github.com/archiva-labs/archiva/internal/domain/orchestrator"
	"github.com/archiva-labs/archiva/internal/domain/retrieval"
	"github.com/archiva-labs/archiva/internal/domain/session"
	"github.com/archiva-labs/archiva/internal/infra/config"
	"github.com/archiva-labs/archiva/internal/infra/index"
	"github.com/archiva-labs/archiva/internal/infra/logging"
	"github.com/archiva-labs/archiva/internal/infra/runtime"
	"github.com/archiva-labs/archiva/internal/infra/sqlite"
	"github.com/archiva-labs/archiva/internal/server"
	"github.com/archiva-labs/archiva/internal/version"
)

const sweepInterval = time.Minute

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("archiva", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	showVersion := fs.Bool("version", false, "Show version information")
	configPath := fs.String("config", "", "Path to YAML configuration file")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(out, "usage: archiva [--version] [--config FILE] [--debug]")
		return 2
	}
	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}

	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(*debug || cfg.Server.Debug)
	defer logger.Sync() //nolint:errcheck

	if err := serve(cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		return 1
	}
	return 0
}

func serve(cfg config.Config, logger *zap.Logger) error {
	db, err := sqlite.NewDB(cfg.Session.DBPath)
	if err != nil {
		return err
	}
	if err := sqlite.MigrateUp(db); err != nil {
		db.Close()
		return err
	}

	rt := runtime.NewClient(runtime.Config{
		BaseURL:    cfg.Runtime.BaseURL,
		APIKey:     cfg.Runtime.APIKey,
		EmbedModel: cfg.Runtime.EmbedModel,
	})
	idx := index.NewClient(index.Config{
		URL:        cfg.Index.URL,
		APIKey:     cfg.Index.APIKey,
		Collection: cfg.Index.Collection,
		Timeout:    cfg.Index.Timeout,
	})

	engine := retrieval.NewEngine(idx, rt, nil, retrieval.Config{
		TopK:                cfg.Retrieval.TopK,
		RerankK:             cfg.Retrieval.RerankK,
		EvidenceTokenBudget: cfg.Retrieval.EvidenceTokenBudget,
		Timeout:             cfg.Index.Timeout,
		CacheSize:           cfg.Retrieval.CacheSize,
		CacheTTL:            cfg.Retrieval.CacheTTL,
	}, logger)

	pool := modelpool.NewManager(rt, modelpool.Config{
		MemoryBudgetMB: cfg.ModelPool.MemoryBudgetMB,
		LoadTimeout:    cfg.ModelPool.LoadTimeout,
		Models:         modelSpecs(cfg.ModelPool.Models),
	}, logger)

	guard := guardrail.NewPipeline(guardrail.Config{
		ToxicityThreshold:     cfg.Guardrail.ToxicityThreshold,
		ClaimSupportThreshold: cfg.Guardrail.ClaimSupportThreshold,
		ExtraToxicTerms:       cfg.Guardrail.ExtraToxicTerms,
	}, nil)

	gen := generation.NewService(pool, rt, guard, generation.Config{
		Timeout:            cfg.Generation.Timeout,
		MaxTokens:          cfg.Generation.MaxTokens,
		Temperature:        cfg.Generation.Temperature,
		LongContextTokens:  cfg.Generation.LongContextTokens,
		HistoryTokenBudget: cfg.Generation.HistoryTokenBudget,
		Fallback:           cfg.FallbackMessage,
	}, logger)

	store := session.NewSQLiteStore(db, logger)

	orch := orchestrator.New(engine, gen, guard, store, orchestrator.Config{
		ConfidenceThreshold: cfg.Retrieval.ConfidenceThreshold,
		SessionMaxTurns:     cfg.Session.MaxTurns,
		SessionTokenBudget:  cfg.Session.TokenBudget,
		Fallback:            cfg.FallbackMessage,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pinned models warm up in the background; the server accepts traffic
	// immediately and answers MODEL_LOADING until they are ready.
	go warmPinned(ctx, pool, cfg.ModelPool.Models, logger)
	go store.Sweep(ctx, cfg.Session.IdleTimeout, sweepInterval)

	srv := server.New(cfg.Server, api.Deps{
		Orchestrator: orch,
		Clients:      cfg.Clients,
		Logger:       logger,
	}, db, logger)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	return srv.Shutdown(context.Background())
}

func warmPinned(ctx context.Context, pool *modelpool.Manager, models []config.ModelSpec, logger *zap.Logger) {
	for _, m := range models {
		if !m.Pinned {
			continue
		}
		if err := pool.EnsureLoaded(ctx, m.ID); err != nil {
			logger.Warn("pinned model warmup failed", zap.String("model", m.ID), zap.Error(err))
		}
	}
}

func modelSpecs(models []config.ModelSpec) []modelpool.Spec {
	specs := make([]modelpool.Spec, 0, len(models))
	for _, m := range models {
		specs = append(specs, modelpool.Spec{
			ID:               m.ID,
			Class:            modelpool.Class(m.Class),
			MemoryMB:         m.MemoryMB,
			MaxContextTokens: m.MaxCtx,
			Pinned:           m.Pinned,
		})
	}
	return specs
}
