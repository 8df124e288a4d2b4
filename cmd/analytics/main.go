// Command analytics aggregates the search events that searchd instances
// publish to Kafka.
//
// It consumes the search-events topic, keeps running totals in memory
// (batch counts, latency percentiles, cache tier hits, busiest projects)
// and serves them at GET /api/v1/stats.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	port := flag.Int("port", 8081, "HTTP port for the stats API")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		fmt.Fprintln(os.Stderr, "analytics needs kafka.brokers")
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", *port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	aggregator := analytics.NewAggregator()
	// Each instance keeps its own totals, so it reads the whole topic
	// rather than sharing partitions with the indexer's group.
	kafkaCfg := cfg.Kafka
	kafkaCfg.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-analytics"
	consumer := kafka.NewConsumer(kafkaCfg, cfg.Kafka.Topics.SearchEvents, analytics.HandleEvent(aggregator))

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("search event consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", consumer.Topic(), "group", kafkaCfg.ConsumerGroup)

	checker := health.NewChecker()
	checker.Register("kafka_consumer", func(ctx context.Context) health.ComponentHealth {
		select {
		case <-consumerDone:
			return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "consuming " + consumer.Topic()}
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stats", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		slog.Warn("search event consumer did not stop in time")
	}
	if err := consumer.Close(); err != nil {
		slog.Error("closing consumer", "error", err)
	}
	slog.Info("analytics service stopped")
}
