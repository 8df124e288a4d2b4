// Command searcher runs one batch of usage-similarity queries against a
// project index and prints the ranked results as a JSON array.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/batch"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "searcher: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "searcher",
		Usage:     "Find methods whose call and field usage resembles the queried methods",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "project-root",
				Aliases:  []string{"p"},
				Usage:    "Root directory of the searched project",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "index",
				Aliases:  []string{"i"},
				Usage:    "Index directory (newest segment is used) or a single .cusx segment file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "query",
				Aliases:  []string{"q"},
				Usage:    "Query batch as a JSON array, or @file to read it from a file",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "top-k",
				Aliases: []string{"k"},
				Usage:   "Number of results to return (overrides search.topK)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
			},
			&cli.BoolFlag{
				Name:  "keep-self-match",
				Usage: "Keep perfect matches instead of treating them as the query's own definition",
			},
			&cli.BoolFlag{
				Name:  "include-location",
				Usage: "Add file and line range to every result",
			},
		},
		Action: func(c *cli.Context) error {
			return runSearch(c, stdout, stderr)
		},
	}
}

func runSearch(c *cli.Context, stdout, stderr io.Writer) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)

	projectRoot := c.String("project-root")
	if err := requireDir(projectRoot); err != nil {
		return err
	}
	indexPath := c.String("index")
	r, err := openIndex(indexPath)
	if err != nil {
		return err
	}
	defer r.Close()

	raw, err := readQuery(c.String("query"))
	if err != nil {
		return err
	}
	queries, err := parser.ParseBatch(raw)
	if err != nil {
		return err
	}

	opts := batch.OptionsFromConfig(cfg.Search)
	if c.IsSet("top-k") {
		k := c.Int("top-k")
		if k < 1 {
			return apperrors.Invalidf("--top-k must be positive, got %d", k)
		}
		opts.TopK = k
		if k > opts.Executor.TopK {
			opts.Executor.TopK = k
		}
	}
	if c.Bool("keep-self-match") {
		opts.FilterSelfMatch = false
	}
	if c.Bool("include-location") {
		opts.IncludeLocation = true
	}

	slog.Debug("running batch",
		"project_root", projectRoot,
		"segment", r.Path(),
		"queries", len(queries),
		"top_k", opts.TopK,
	)
	out, _, err := batch.Search(c.Context, r, queries, opts, nil)
	if err != nil {
		return err
	}
	return writeResults(stdout, out)
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.Invalidf("project root %s: %v", path, err)
	}
	if !info.IsDir() {
		return apperrors.Invalidf("project root %s is not a directory", path)
	}
	return nil
}

// openIndex accepts either a segment file or a directory of segments.
func openIndex(path string) (*segment.Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("index %s does not exist: %w", path, apperrors.ErrIndexNotFound)
		}
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	if info.IsDir() {
		return segment.OpenLatest(path)
	}
	return segment.OpenReader(path)
}

func readQuery(arg string) ([]byte, error) {
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading query file: %w", err)
		}
		return data, nil
	}
	return []byte(arg), nil
}

func writeResults(w io.Writer, results []merger.Result) error {
	if results == nil {
		results = []merger.Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
