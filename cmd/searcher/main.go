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
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/configwatch"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/events"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/reloader"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/store"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	coordinator := flag.Bool("coordinator", false, "reload every segment when the version file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *coordinator {
		cfg.Segments.CoordinatorMode = true
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"segments_dir", cfg.Segments.Dir,
		"coordinator_mode", cfg.Segments.CoordinatorMode,
		"poll", cfg.Segments.Poll,
	)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := events.NewAggregator()
	sinks := []events.Sink{aggregator}
	var collector *events.Collector
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SegmentLifecycle)
		defer producer.Close()
		collector = events.NewCollector(producer, 100, 5*time.Second)
		collector.Start(ctx)
		sinks = append(sinks, collector)
		slog.Info("lifecycle events published to kafka", "topic", cfg.Kafka.Topics.SegmentLifecycle)
	}
	sink := events.Tee(sinks...)

	versionPath := cfg.Segments.VersionPath()
	scan, err := segment.Scan(ctx, cfg.Segments.Dir, segment.ScanOptions{
		Skip:    []string{versionPath},
		Workers: cfg.Segments.DecodeWorkers,
	})
	if err != nil {
		slog.Error("failed to scan segments directory", "dir", cfg.Segments.Dir, "error", err)
		os.Exit(1)
	}
	for _, s := range scan.Skipped {
		slog.Warn("segment skipped at startup", "path", s.Path, "error", s.Err)
	}

	st := store.New(scan.Segments,
		store.WithPublishHook(func(info store.PublishInfo) {
			kind := "update"
			if info.Replaced {
				kind = "replace"
			}
			m.StorePublishesTotal.WithLabelValues(kind).Inc()
			m.SegmentsLoaded.Set(float64(info.Segments))
			m.StoreGeneration.Set(float64(info.Generation))
			for _, ev := range events.FromPublish("store", info) {
				sink.Track(ev)
			}
		}),
		store.WithReclaimHook(func(uint64) {
			m.SnapshotsReclaimedTotal.Inc()
		}),
	)
	m.SegmentsLoaded.Set(float64(st.Len()))
	m.StoreGeneration.Set(float64(st.Generation()))
	slog.Info("segments loaded", "count", st.Len(), "skipped", len(scan.Skipped))

	messages, err := configwatch.New(cfg.Messages.Path, configwatch.DecodeMessages,
		configwatch.WithReloadHook(func(version uint64, err error) {
			ev := events.LifecycleEvent{
				Type:       events.EventConfigReloaded,
				Source:     "config",
				Generation: version,
				Timestamp:  time.Now().UTC(),
			}
			status := "success"
			if err != nil {
				status = "failure"
				ev.Type = events.EventConfigRejected
				ev.Error = err.Error()
			}
			m.ConfigReloadsTotal.WithLabelValues(status).Inc()
			sink.Track(ev)
		}),
	)
	if err != nil {
		slog.Error("failed to load messages config", "path", cfg.Messages.Path, "error", err)
		os.Exit(1)
	}

	segmentPaths := []string{cfg.Segments.Dir}
	if dir := filepath.Dir(versionPath); filepath.Clean(dir) != filepath.Clean(cfg.Segments.Dir) {
		segmentPaths = append(segmentPaths, dir)
	}
	segmentNotifier, err := newNotifier(cfg.Segments, segmentPaths)
	if err != nil {
		slog.Error("failed to watch segments directory", "error", err)
		os.Exit(1)
	}
	defer segmentNotifier.Close()

	configNotifier, err := newNotifier(cfg.Segments, []string{filepath.Dir(messages.Path())})
	if err != nil {
		slog.Error("failed to watch config directory", "error", err)
		os.Exit(1)
	}
	defer configNotifier.Close()

	rl := reloader.New(st, reloader.Config{
		Dir:             cfg.Segments.Dir,
		VersionPath:     versionPath,
		CoordinatorMode: cfg.Segments.CoordinatorMode,
		DecodeWorkers:   cfg.Segments.DecodeWorkers,
	}, reloader.WithMetrics(m))

	var lookupCache *cache.LookupCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, lookup caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			lookupCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("lookup cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	checker := health.NewChecker()
	checker.Register("store", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d segments, generation %d", st.Len(), st.Generation()),
		}
	})
	checker.Register("config", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("version %d", messages.Version()),
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.Optional(redisClient.Ping))
	}

	h := handler.New(handler.Deps{
		Store:       st,
		Messages:    messages,
		Reloader:    rl,
		Cache:       lookupCache,
		Lifecycle:   aggregator,
		Metrics:     m,
		SegmentsDir: cfg.Segments.Dir,
	})
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Timeout(cfg.Server.WriteTimeout),
		middleware.Metrics(m),
		middleware.RateLimit(middleware.NewLimiter(cfg.Search.RateLimit, cfg.Search.Burst), m),
	)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 && cfg.Metrics.Port != cfg.Server.Port {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rl.Run(gctx, segmentNotifier.Events())
	})
	g.Go(func() error {
		return configwatch.NewRunner(messages, configwatch.WithEventMetrics(m)).Run(gctx, configNotifier.Events())
	})
	g.Go(func() error {
		logNotifierErrors(gctx, "segments", segmentNotifier)
		return nil
	})
	g.Go(func() error {
		logNotifierErrors(gctx, "config", configNotifier)
		return nil
	})
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	stop()
	if collector != nil {
		collector.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func newNotifier(cfg config.SegmentsConfig, paths []string) (watcher.Notifier, error) {
	wcfg := watcher.Config{
		Paths:         paths,
		QueueCapacity: cfg.QueueCapacity,
		PollInterval:  cfg.PollInterval,
	}
	if cfg.Poll {
		return watcher.NewPoller(wcfg)
	}
	return watcher.NewFSNotify(wcfg)
}

func logNotifierErrors(ctx context.Context, name string, n watcher.Notifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-n.Errors():
			if !ok {
				return
			}
			slog.Warn("notifier error", "notifier", name, "error", err)
		}
	}
}
