// Package batch runs a list of queries against one index and produces the
// merged, ranked answer.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/dictionary"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/similarity"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/tracing"
)

// Options configures a session.
type Options struct {
	Executor        executor.Options
	TopK            int
	FilterSelfMatch bool
	IncludeLocation bool
}

// OptionsFromConfig maps the search section of the configuration.
func OptionsFromConfig(cfg config.SearchConfig) Options {
	return Options{
		Executor: executor.Options{
			CallWeight:  cfg.CallWeight,
			FieldWeight: cfg.FieldWeight,
			TopK:        cfg.QueryTopK,
		},
		TopK:            cfg.TopK,
		FilterSelfMatch: cfg.FilterSelfMatch,
		IncludeLocation: cfg.IncludeLocation,
	}
}

// Report summarises a finished run.
type Report struct {
	Queries  []executor.QueryStats `json:"queries"`
	Lookups  dictionary.Stats      `json:"lookups"`
	Merged   int                   `json:"merged"`
	Returned int                   `json:"returned"`
	Duration time.Duration         `json:"duration"`
}

// Session owns the term caches and the result set of one batch. The index
// reader is shared and stays owned by the caller. A Session is not safe for
// concurrent use.
type Session struct {
	exec     *executor.Executor
	resolver *dictionary.Resolver
	results  *merger.ResultSet
	opts     Options
	maxDoc   int
	report   Report
	closed   bool
	logger   *slog.Logger
}

// NewSession opens a session over r. m may be nil.
func NewSession(r *segment.Reader, opts Options, m *metrics.Metrics) *Session {
	resolver := dictionary.NewResolver(r)
	if m != nil {
		resolver.SetObserver(func(field index.Field, outcome string) {
			m.TermLookupsTotal.WithLabelValues(field.String(), outcome).Inc()
		})
	}
	return &Session{
		exec:     executor.New(similarity.FromSegment(r), r, resolver, opts.Executor, m),
		resolver: resolver,
		results:  merger.NewResultSet(),
		opts:     opts,
		maxDoc:   r.MaxDoc(),
		logger:   slog.Default().With("component", "batch"),
	}
}

// Run executes queries in order and returns the final ranking: sorted by
// score descending, self matches removed when configured, truncated to
// TopK. An error leaves no partial answer.
func (s *Session) Run(ctx context.Context, queries []parser.Query) ([]merger.Result, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed: %w", apperrors.ErrInternal)
	}
	start := time.Now()
	s.report.Queries = make([]executor.QueryStats, 0, len(queries))
	for i, q := range queries {
		_, span := tracing.StartChild(ctx, "query")
		span.SetAttr("sig", q.Sig)
		stats, err := s.exec.Execute(ctx, q, s.results)
		if err == nil {
			span.SetAttr("candidates", stats.Candidates)
			span.SetAttr("hits", stats.Hits)
		}
		span.End()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("query %d (%s): %w", i, q.Sig, apperrors.ErrTimeout)
			}
			return nil, fmt.Errorf("query %d (%s): %w", i, q.Sig, err)
		}
		s.report.Queries = append(s.report.Queries, *stats)
	}

	out := s.results.TopK(merger.TopKOptions{
		K:               s.opts.TopK,
		FilterSelfMatch: s.opts.FilterSelfMatch,
		IncludeLocation: s.opts.IncludeLocation,
	})
	s.report.Lookups = s.resolver.Stats()
	s.report.Merged = s.results.Len()
	s.report.Returned = len(out)
	s.report.Duration = time.Since(start)
	s.logger.Info("batch complete",
		"queries", len(queries),
		"merged", s.report.Merged,
		"returned", s.report.Returned,
		"term_cache_hits", s.report.Lookups.CacheHits,
		"unresolved_terms", s.report.Lookups.Unresolved,
		"duration_ms", s.report.Duration.Milliseconds(),
	)
	return out, nil
}

// Explain reports how docID scores against q using the session's caches.
func (s *Session) Explain(q parser.Query, docID int) (*similarity.Explanation, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed: %w", apperrors.ErrInternal)
	}
	if docID < 0 || docID >= s.maxDoc {
		return nil, fmt.Errorf("doc %d out of range [0,%d): %w", docID, s.maxDoc, apperrors.ErrDocNotFound)
	}
	exp, err := s.exec.Explain(q, docID)
	if err != nil {
		return nil, fmt.Errorf("explaining doc %d: %w", docID, err)
	}
	return exp, nil
}

// Report returns the statistics of the last Run.
func (s *Session) Report() Report {
	return s.report
}

// Close releases the session's caches and results.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.resolver.Reset()
	s.results.Reset()
	return nil
}

// Search runs queries in a fresh session and closes it.
func Search(ctx context.Context, r *segment.Reader, queries []parser.Query, opts Options, m *metrics.Metrics) ([]merger.Result, Report, error) {
	s := NewSession(r, opts, m)
	defer s.Close()
	out, err := s.Run(ctx, queries)
	if err != nil {
		return nil, Report{}, err
	}
	return out, s.Report(), nil
}
