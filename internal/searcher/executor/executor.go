package executor

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/dictionary"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/similarity"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
)

// DocumentStore loads the stored attributes of a document.
type DocumentStore interface {
	Document(docID int) (index.StoredDoc, error)
}

// Options holds the clause weights and the per-query hit limit.
type Options struct {
	CallWeight  float64
	FieldWeight float64
	TopK        int
}

// QueryStats summarises one executed query.
type QueryStats struct {
	Sig        string `json:"sig"`
	CallOrds   int    `json:"call_ords"`
	FieldOrds  int    `json:"field_ords"`
	Candidates int    `json:"candidates"`
	Hits       int    `json:"hits"`
}

// Executor runs single queries against one index and feeds their hits into
// a result set.
type Executor struct {
	src      similarity.Source
	docs     DocumentStore
	resolver *dictionary.Resolver
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an Executor. m may be nil.
func New(src similarity.Source, docs DocumentStore, resolver *dictionary.Resolver, opts Options, m *metrics.Metrics) *Executor {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	return &Executor{
		src:      src,
		docs:     docs,
		resolver: resolver,
		opts:     opts,
		metrics:  m,
		logger:   slog.Default().With("component", "query-executor"),
	}
}

// BuildQuery resolves q's terms and returns the weighted two-clause query.
func (e *Executor) BuildQuery(q parser.Query) similarity.Query {
	return similarity.Query{Clauses: []similarity.Clause{
		{
			Field:     index.FieldCalls,
			Ords:      e.resolver.Resolve(index.FieldCalls, q.Function),
			QuerySize: len(q.Function),
			Boost:     e.opts.CallWeight,
		},
		{
			Field:     index.FieldFields,
			Ords:      e.resolver.Resolve(index.FieldFields, q.Field),
			QuerySize: len(q.Field),
			Boost:     e.opts.FieldWeight,
		},
	}}
}

// Execute scores every candidate document, keeps the best TopK and upserts
// one result per hit into results, tagged with q.Sig. A hit whose stored
// attributes cannot be read is logged and skipped.
func (e *Executor) Execute(ctx context.Context, q parser.Query, results *merger.ResultSet) (*QueryStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := e.BuildQuery(q)
	stats := &QueryStats{
		Sig:       q.Sig,
		CallOrds:  len(query.Clauses[0].Ords),
		FieldOrds: len(query.Clauses[1].Ords),
	}

	scorer, err := query.Scorer(e.src)
	if err != nil {
		return nil, err
	}
	top := ranker.New(e.opts.TopK)
	for doc := scorer.NextDoc(); doc != similarity.NoMoreDocs; doc = scorer.NextDoc() {
		stats.Candidates++
		top.Collect(doc, scorer.Score())
	}

	for _, hit := range top.Results() {
		stored, err := e.docs.Document(hit.DocID)
		if err != nil {
			e.logger.Warn("loading stored document failed, skipping hit",
				"sig", q.Sig,
				"doc", hit.DocID,
				"error", err,
			)
			continue
		}
		results.Upsert(merger.Result{
			ClassFQN:       stored.ClassFQN,
			Signature:      stored.Signature,
			RelatedQueries: []string{q.Sig},
			Score:          hit.Score,
			File:           stored.File,
			StartLine:      stored.StartLine,
			EndLine:        stored.EndLine,
		})
		stats.Hits++
	}

	if e.metrics != nil {
		e.metrics.QueriesExecutedTotal.Inc()
		e.metrics.QueryCandidates.Observe(float64(stats.Candidates))
	}
	e.logger.Debug("query executed",
		"sig", q.Sig,
		"call_ords", stats.CallOrds,
		"field_ords", stats.FieldOrds,
		"candidates", stats.Candidates,
		"hits", stats.Hits,
	)
	return stats, nil
}

// Explain reports how docID scores against q.
func (e *Executor) Explain(q parser.Query, docID int) (*similarity.Explanation, error) {
	return similarity.Explain(e.src, e.BuildQuery(q), docID)
}
