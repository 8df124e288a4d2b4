package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/history"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/catalog"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/redis"
)

const (
	eventBatchSize     = 200
	eventFlushInterval = 5 * time.Second
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
	slog.Info("starting similarity search service",
		"port", cfg.Server.Port,
		"data_dir", cfg.Index.DataDir,
	)

	m := metrics.New()
	cat := catalog.New(cfg.Index.DataDir, m)
	defer cat.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()
	checker.Register("index_catalog", func(ctx context.Context) health.ComponentHealth {
		projects, err := cat.Projects()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		if len(projects) == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no project indexes"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d projects", len(projects))}
	})

	var resultCache *cache.ResultCache
	var store cache.Store
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, shared result cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			store = redisClient
			checker.Register("redis", health.PingCheck(redisClient.Ping, false))
		}
	}
	resultCache = cache.New(cfg.Redis, store, m)
	slog.Info("result cache enabled",
		"local_entries", cfg.Redis.LocalEntries,
		"shared", store != nil,
		"ttl", cfg.Redis.CacheTTL,
	)

	var runs handler.History
	if cfg.Postgres.Enabled() {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, search history disabled", "error", err)
		} else {
			defer db.Close()
			historyStore := history.NewStore(db)
			if err := historyStore.EnsureSchema(ctx); err != nil {
				slog.Error("failed to prepare history schema", "error", err)
				os.Exit(1)
			}
			runs = historyStore
			checker.Register("postgres", health.PingCheck(db.Ping, false))
			slog.Info("search history enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		}
	}

	var publisher kafka.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		publisher = producer
		slog.Info("search events enabled", "topic", cfg.Kafka.Topics.SearchEvents)
	}
	aggregator := analytics.NewAggregator()
	collector := analytics.NewCollector(publisher, aggregator, eventBatchSize, eventFlushInterval)
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collector.Start(collectorCtx)
	defer func() {
		stopCollector()
		collector.Wait()
	}()

	if interval := cfg.Index.RefreshInterval; interval > 0 {
		go refreshLoop(ctx, cat, resultCache, interval)
	}

	h := handler.New(handler.Deps{
		Catalog:   cat,
		Cache:     resultCache,
		Collector: collector,
		History:   runs,
		Metrics:   m,
	}, cfg.Search, cfg.Server.MaxBodyBytes)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/stats", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.Server.RateLimit, time.Minute))(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + 5*time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("similarity search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("similarity search service stopped")
}

// refreshLoop picks up segments written by the indexer and drops cached
// answers for the refreshed projects.
func refreshLoop(ctx context.Context, cat *catalog.Catalog, rc *cache.ResultCache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, project := range cat.Refresh() {
				if err := rc.Invalidate(ctx, project); err != nil {
					slog.Warn("cache invalidation failed", "project", project, "error", err)
				}
				slog.Info("project index refreshed", "project", project)
			}
		}
	}
}
