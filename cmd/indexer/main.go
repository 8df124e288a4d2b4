// Command indexer builds project indexes from code-info extraction files,
// either once from the command line or continuously from Kafka build
// requests.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/catalog"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/codeinfo"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/resilience"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "indexer: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "indexer",
		Usage:     "Build usage-similarity indexes from code-info files",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)
			c.App.Metadata = map[string]any{"config": cfg}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "Index one code-info file (single) or every file under a directory (group)",
				ArgsUsage: "<code-info> <index>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "mode",
						Aliases: []string{"m"},
						Usage:   "single or group",
						Value:   "single",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Parallel project builds in group mode (overrides index.buildWorkers)",
					},
				},
				Action: func(c *cli.Context) error {
					return buildCommand(c, stdout)
				},
			},
			{
				Name:   "serve",
				Usage:  "Consume build requests from Kafka and write indexes under index.dataDir",
				Action: serveCommand,
			},
			{
				Name:      "enqueue",
				Usage:     "Publish a build request for a code-info file",
				ArgsUsage: "<code-info>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "project",
						Usage: "Project name (defaults to the file name without extension)",
					},
					&cli.BoolFlag{
						Name:  "inline",
						Usage: "Embed the file content instead of sending its path",
					},
				},
				Action: enqueueCommand,
			},
		},
	}
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func buildCommand(c *cli.Context, stdout io.Writer) error {
	if c.NArg() != 2 {
		return apperrors.Invalidf("usage: indexer build [--mode single|group] <code-info> <index>")
	}
	cfg := configFrom(c)
	if c.IsSet("workers") {
		cfg.Index.BuildWorkers = c.Int("workers")
	}
	source, target := c.Args().Get(0), c.Args().Get(1)
	builder := indexer.NewBuilder(cfg.Index, nil)

	switch mode := c.String("mode"); mode {
	case "single":
		res, err := builder.BuildProject(c.Context, source, target)
		if err != nil {
			return err
		}
		return writeJSON(stdout, res)
	case "group":
		results, err := builder.BuildGroup(c.Context, source, target)
		if err != nil {
			return err
		}
		if err := writeJSON(stdout, results); err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if r.Err != "" {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d projects failed to build", failed, len(results))
		}
		return nil
	default:
		return apperrors.Invalidf("unknown mode %q, want single or group", mode)
	}
}

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if len(cfg.Kafka.Brokers) == 0 {
		return apperrors.Invalidf("serve needs kafka.brokers")
	}
	ctx := c.Context

	m := metrics.New()
	shutdownMetrics := metrics.StartServer(cfg.Metrics)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}()

	builder := indexer.NewBuilder(cfg.Index, m)
	cat := catalog.New(cfg.Index.DataDir, m)
	defer cat.Close()

	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexBuild, consumer.HandleMessage(builder, cat, nil))
	kafkaConsumer.SetRetry(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Permanent: func(err error) bool {
			return apperrors.Is(err, apperrors.ErrInvalidInput)
		},
	})
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer ready, consuming build requests",
		"topic", cfg.Kafka.Topics.IndexBuild,
		"group", cfg.Kafka.ConsumerGroup,
		"data_dir", cfg.Index.DataDir,
	)
	if err := indexConsumer.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("consuming build requests: %w", err)
	}
	slog.Info("indexer stopped")
	return nil
}

func enqueueCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return apperrors.Invalidf("usage: indexer enqueue [--project name] [--inline] <code-info>")
	}
	cfg := configFrom(c)
	if len(cfg.Kafka.Brokers) == 0 {
		return apperrors.Invalidf("enqueue needs kafka.brokers")
	}
	req, err := buildRequest(c.Args().First(), c.String("project"), c.Bool("inline"))
	if err != nil {
		return err
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexBuild)
	defer producer.Close()
	if err := producer.Publish(c.Context, kafka.Event{Key: req.Project, Value: req}); err != nil {
		return err
	}
	slog.Info("build request published", "project", req.Project, "topic", cfg.Kafka.Topics.IndexBuild)
	return nil
}

func buildRequest(path, project string, inline bool) (consumer.BuildRequest, error) {
	if project == "" {
		project = codeinfo.ProjectName(path)
	}
	if !catalog.ValidProject(project) {
		return consumer.BuildRequest{}, apperrors.Invalidf("invalid project name %q", project)
	}
	req := consumer.BuildRequest{Project: project}
	if inline {
		data, err := os.ReadFile(path)
		if err != nil {
			return consumer.BuildRequest{}, fmt.Errorf("reading code info: %w", err)
		}
		if !json.Valid(data) {
			return consumer.BuildRequest{}, apperrors.Invalidf("%s is not valid JSON", path)
		}
		req.CodeInfo = data
		return req, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return consumer.BuildRequest{}, fmt.Errorf("resolving %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return consumer.BuildRequest{}, apperrors.Invalidf("code info %s: %v", path, err)
	}
	req.CodeInfoPath = abs
	return req, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
