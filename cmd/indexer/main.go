package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/events"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service",
		"output_dir", cfg.Indexer.OutputDir,
		"flush_interval", cfg.Indexer.FlushInterval,
		"workers", cfg.Indexer.Workers,
	)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []indexer.Option{
		indexer.WithMetrics(m),
		indexer.WithVersionFile(cfg.Segments.VersionPath()),
	}
	checker := health.NewChecker()

	var catalog indexer.CatalogReader
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pc := indexer.NewPostgresCatalog(db)
		if err := pc.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare segment catalog", "error", err)
			os.Exit(1)
		}
		opts = append(opts, indexer.WithCatalog(pc))
		catalog = pc
		checker.Register("postgres", health.Ping(db.Ping))
		slog.Info("segment catalog enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	// The collector outlives ctx so the final flush's event is still sent.
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	var collector *events.Collector
	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	if kafkaEnabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SegmentLifecycle)
		defer producer.Close()
		collector = events.NewCollector(producer, 50, 5*time.Second)
		collector.Start(collectorCtx)
		opts = append(opts, indexer.WithFlushHook(func(_ context.Context, res indexer.FlushResult) {
			collector.Track(events.LifecycleEvent{
				Type:      events.EventSegmentFlushed,
				Source:    "indexer",
				Segment:   res.Path,
				Version:   res.Version,
				Segments:  1,
				Timestamp: res.CreatedAt,
			})
		}))
	}

	engine, err := indexer.NewEngine(cfg.Indexer, opts...)
	if err != nil {
		slog.Error("failed to create indexing engine", "error", err)
		os.Exit(1)
	}
	engine.StartFlushLoop(ctx)
	checker.Register("engine", func(ctx context.Context) health.ComponentHealth {
		stats := engine.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d terms, %d postings unflushed", stats.Terms, stats.Postings),
		}
	})

	mux := http.NewServeMux()
	indexer.NewAdminHandler(engine, catalog).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if kafkaEnabled {
		workers := max(cfg.Indexer.Workers, 1)
		for i := 0; i < workers; i++ {
			kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.TermIngest, consumer.HandleMessage(engine))
			ic := consumer.New(kc)
			g.Go(func() error {
				return ic.Start(gctx)
			})
		}
		slog.Info("consuming term ingest events",
			"topic", cfg.Kafka.Topics.TermIngest,
			"group", cfg.Kafka.ConsumerGroup,
			"consumers", workers,
		)
	} else {
		slog.Warn("no kafka brokers configured, accepting documents over http only")
	}
	g.Go(func() error {
		slog.Info("indexer admin listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	stop()

	slog.Info("flushing remaining postings before shutdown")
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := engine.Close(flushCtx); err != nil {
		slog.Error("final flush failed", "error", err)
	}
	cancel()
	stopCollector()
	if collector != nil {
		collector.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}
