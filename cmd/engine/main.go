// Package main provides the entry point for the trip context engine.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/tripmesh/contextengine/internal/capture"
	"github.com/tripmesh/contextengine/internal/config"
	"github.com/tripmesh/contextengine/internal/embedding"
	"github.com/tripmesh/contextengine/internal/ingest"
	"github.com/tripmesh/contextengine/internal/metrics"
	"github.com/tripmesh/contextengine/internal/queue"
	"github.com/tripmesh/contextengine/internal/search"
	"github.com/tripmesh/contextengine/internal/source/sqlite"
	"github.com/tripmesh/contextengine/internal/sweep"
	"github.com/tripmesh/contextengine/internal/vector"
	"github.com/tripmesh/contextengine/internal/vector/chromem"
	"github.com/tripmesh/contextengine/internal/vector/pgvector"
	"github.com/tripmesh/contextengine/internal/worker"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dataDir := flag.String("data-dir", "", "data directory (default ~/.tripmesh-engine)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("version", Version).Msg("Starting trip context engine")

	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Engine failed")
	}
	log.Info().Msg("Engine shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	model, err := embedding.NewOpenAIModel(cfg.Embedding)
	if err != nil {
		return err
	}
	embedder, err := embedding.NewService(model)
	if err != nil {
		return err
	}
	defer embedder.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reader, err := sqlite.Open(cfg.SourceDBPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	// A metrics exporter is deployment-specific; the noop provider keeps the
	// instruments wired so one can be dropped in without touching callers.
	var meter otelmetric.Meter = noop.NewMeterProvider().Meter("tripmesh/contextengine")
	m, err := metrics.New(meter)
	if err != nil {
		return err
	}

	q := queue.New(queue.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff(),
		MaxBackoff:  cfg.MaxBackoff(),
	})
	if err := m.RegisterQueueDepth(func() (int, int) {
		stats := q.Stats()
		return stats.Pending, stats.InFlight
	}); err != nil {
		return err
	}

	capturer := capture.New(q, store, reader, embedder)
	poller := capture.NewPoller(reader, capturer, cfg.CapturePollInterval(), 0)
	pool := ingest.New(q, store, reader, embedder, m, ingest.Config{
		Workers:       cfg.Workers,
		BatchSize:     cfg.BatchSize,
		DrainInterval: cfg.DrainInterval(),
	})
	sweeper := sweep.New(reader, store, capturer, embedder, m, cfg.SweepInterval())
	if err := m.RegisterCoverage(sweeper.Coverage); err != nil {
		return err
	}

	resolver, err := search.New(store, embedder, search.Config{
		TopK:            cfg.TopK,
		MinSimilarity:   cfg.MinSimilarity,
		QueryTimeout:    cfg.QueryTimeout(),
		MaxBundleTokens: cfg.MaxBundleTokens,
	})
	if err != nil {
		return err
	}

	svc := worker.NewService(worker.Config{
		Capturer:  capturer,
		Resolver:  resolver,
		Sweeper:   sweeper,
		Queue:     q,
		Store:     store,
		Version:   Version,
		RateLimit: cfg.RateLimitRPS,
		Burst:     cfg.RateLimitBurst,
	})

	poller.Start(ctx)
	defer poller.Stop()
	sweeper.Start(ctx)
	defer sweeper.Stop()

	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()
	defer func() {
		pool.Stop()
		<-poolDone
	}()

	httpDone := make(chan error, 1)
	go func() { httpDone <- svc.Start(ctx, cfg.HTTPPort) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		if err := svc.Shutdown(); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown error")
		}
		return nil
	case err := <-httpDone:
		return err
	case err := <-poolDone:
		poolDone <- nil // keep the deferred wait from blocking
		return err
	}
}

func openStore(cfg *config.Config) (vector.Store, error) {
	switch cfg.VectorBackend {
	case "pgvector":
		return pgvector.NewStore(pgvector.Config{
			DSN:        cfg.PostgresDSN,
			Dimensions: cfg.Embedding.Dimensions,
			LogLevel:   logger.Silent,
		})
	default:
		return chromem.NewStore(chromem.Config{Path: cfg.ChromemPath})
	}
}
