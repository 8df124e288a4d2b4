// Package handler exposes batch similarity search over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/history"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/catalog"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/batch"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/similarity"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/tracing"
)

// Catalog hands out per-project index readers.
type Catalog interface {
	Acquire(project string) (*segment.Reader, func(), error)
	Reload(project string)
	Projects() ([]string, error)
}

// History stores answered batches.
type History interface {
	Record(ctx context.Context, run history.Run) (int64, error)
	Recent(ctx context.Context, project string, limit int) ([]history.Run, error)
}

// Deps are the handler's collaborators. Cache, Collector, History and
// Metrics may be nil.
type Deps struct {
	Catalog   Catalog
	Cache     *cache.ResultCache
	Collector *analytics.Collector
	History   History
	Metrics   *metrics.Metrics
}

type Handler struct {
	deps         Deps
	search       config.SearchConfig
	maxBodyBytes int64
	logger       *slog.Logger
}

func New(deps Deps, search config.SearchConfig, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 8 << 20
	}
	return &Handler{
		deps:         deps,
		search:       search,
		maxBodyBytes: maxBodyBytes,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/projects", h.Projects)
	mux.HandleFunc("POST /api/v1/projects/{project}/similar", h.Similar)
	mux.HandleFunc("POST /api/v1/projects/{project}/explain", h.Explain)
	mux.HandleFunc("POST /api/v1/projects/{project}/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/projects/{project}/history", h.History)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
}

// Projects lists the indexed projects.
func (h *Handler) Projects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.deps.Catalog.Projects()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// Similar runs a batch read from the request body against the project's
// index and answers with the ranked JSON array.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	project := r.PathValue("project")
	ctx, span := tracing.Start(r.Context(), "similar", middleware.GetRequestID(r.Context()))
	span.SetAttr("project", project)
	defer func() {
		span.End()
		span.Log(ctx, h.logger, slog.LevelDebug)
	}()

	opts, err := h.optionsFrom(r)
	if err != nil {
		h.fail(w, r, project, 0, start, err)
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, project, 0, start, err)
		return
	}
	queries, err := parser.ParseBatch(body)
	if err != nil {
		h.fail(w, r, project, 0, start, err)
		return
	}

	reader, release, err := h.deps.Catalog.Acquire(project)
	if err != nil {
		h.fail(w, r, project, len(queries), start, err)
		return
	}
	defer release()
	segmentName := filepath.Base(reader.Path())

	compute := func() ([]merger.Result, error) {
		var out []merger.Result
		err := resilience.WithTimeout(ctx, h.search.BatchTimeout, "similarity batch", func(ctx context.Context) error {
			var err error
			out, _, err = batch.Search(ctx, reader, queries, opts, h.deps.Metrics)
			return err
		})
		return out, err
	}

	var results []merger.Result
	status := cache.StatusMiss
	if h.deps.Cache != nil {
		key := cache.Key{Project: project, Segment: segmentName, Queries: queries, Options: opts}
		results, status, err = h.deps.Cache.GetOrCompute(ctx, key, compute)
	} else {
		results, err = compute()
	}
	if err != nil {
		h.fail(w, r, project, len(queries), start, err)
		return
	}
	if results == nil {
		results = []merger.Result{}
	}

	span.SetAttr("cache_status", string(status))
	span.SetAttr("returned", len(results))
	latency := time.Since(start)
	logger.FromContext(ctx).Info("similarity batch completed",
		"project", project,
		"segment", segmentName,
		"queries", len(queries),
		"returned", len(results),
		"cache_status", status,
		"latency_ms", latency.Milliseconds(),
	)
	if m := h.deps.Metrics; m != nil {
		outcome := "ok"
		if len(results) == 0 {
			outcome = "zero_result"
		}
		m.BatchesTotal.WithLabelValues(outcome).Inc()
		m.BatchLatency.WithLabelValues(string(status)).Observe(latency.Seconds())
		m.BatchResultsCount.Observe(float64(len(results)))
	}
	h.track(ctx, project, segmentName, len(queries), opts.TopK, results, latency, status, nil)
	h.record(ctx, history.Run{
		Project:     project,
		Segment:     segmentName,
		RequestID:   middleware.GetRequestID(ctx),
		Queries:     len(queries),
		Returned:    len(results),
		CacheStatus: string(status),
		LatencyMs:   latency.Milliseconds(),
		Results:     results,
	})

	w.Header().Set("X-Cache-Status", string(status))
	h.writeJSON(w, http.StatusOK, results)
}

type explainRequest struct {
	Doc   *int            `json:"doc"`
	Query json.RawMessage `json:"query"`
}

type explainResponse struct {
	Document    index.StoredDoc         `json:"document"`
	Explanation *similarity.Explanation `json:"explanation"`
}

// Explain reports how one document scores against one query.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	body, err := h.readBody(w, r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var req explainRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeErr(w, r, apperrors.Invalidf("decoding explain request: %v", err))
		return
	}
	if req.Doc == nil || len(req.Query) == 0 {
		h.writeErr(w, r, apperrors.Invalidf("explain request needs doc and query"))
		return
	}
	q, err := parser.ParseQuery(req.Query)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	opts, err := h.optionsFrom(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	reader, release, err := h.deps.Catalog.Acquire(project)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer release()

	session := batch.NewSession(reader, opts, h.deps.Metrics)
	defer session.Close()
	exp, err := session.Explain(q, *req.Doc)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	doc, err := reader.Document(*req.Doc)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, explainResponse{Document: doc, Explanation: exp})
}

// Reload makes the catalog reopen the project's newest segment and drops
// its cached answers.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if !catalog.ValidProject(project) {
		h.writeErr(w, r, apperrors.Invalidf("invalid project name %q", project))
		return
	}
	h.deps.Catalog.Reload(project)
	if h.deps.Cache != nil {
		if err := h.deps.Cache.Invalidate(r.Context(), project); err != nil {
			logger.FromContext(r.Context()).Warn("cache invalidation failed", "project", project, "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "project": project})
}

// History lists the project's recent runs.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history is disabled"})
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeErr(w, r, apperrors.Invalidf("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := h.deps.History.Recent(r.Context(), r.PathValue("project"), limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// CacheStats reports result cache counters.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	st := h.deps.Cache.Stats()
	total := st.LocalHits + st.RedisHits + st.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(st.LocalHits+st.RedisHits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"stats":    st,
		"total":    total,
		"hit_rate": hitRate,
	})
}

// optionsFrom applies top_k, filter_self and include_location overrides to
// the configured defaults. top_k is capped at MaxTopK and widens the
// per-query collector when it exceeds it.
func (h *Handler) optionsFrom(r *http.Request) (batch.Options, error) {
	opts := batch.OptionsFromConfig(h.search)
	params := r.URL.Query()
	if s := params.Get("top_k"); s != "" {
		k, err := strconv.Atoi(s)
		if err != nil || k < 1 {
			return opts, apperrors.Invalidf("top_k must be a positive integer")
		}
		if h.search.MaxTopK > 0 && k > h.search.MaxTopK {
			k = h.search.MaxTopK
		}
		opts.TopK = k
		if k > opts.Executor.TopK {
			opts.Executor.TopK = k
		}
	}
	for name, dst := range map[string]*bool{
		"filter_self":      &opts.FilterSelfMatch,
		"include_location": &opts.IncludeLocation,
	} {
		if s := params.Get(name); s != "" {
			v, err := strconv.ParseBool(s)
			if err != nil {
				return opts, apperrors.Invalidf("%s must be a boolean", name)
			}
			*dst = v
		}
	}
	return opts, nil
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
				"request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apperrors.Invalidf("reading request body: %v", err)
	}
	return body, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, project string, queries int, start time.Time, err error) {
	if m := h.deps.Metrics; m != nil {
		outcome := "error"
		if errors.Is(err, apperrors.ErrInvalidInput) {
			outcome = "invalid"
		}
		m.BatchesTotal.WithLabelValues(outcome).Inc()
	}
	h.track(r.Context(), project, "", queries, 0, nil, time.Since(start), cache.StatusMiss, err)
	h.writeErr(w, r, err)
}

func (h *Handler) track(ctx context.Context, project, segmentName string, queries, topK int, results []merger.Result, latency time.Duration, status cache.Status, err error) {
	if h.deps.Collector == nil {
		return
	}
	ev := analytics.NewSearchEvent(project, queries, len(results), latency, string(status), err)
	ev.Segment = segmentName
	ev.TopK = topK
	ev.RequestID = middleware.GetRequestID(ctx)
	h.deps.Collector.Track(ev)
}

func (h *Handler) record(ctx context.Context, run history.Run) {
	if h.deps.History == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := h.deps.History.Record(recordCtx, run); err != nil {
		logger.FromContext(ctx).Warn("recording search run failed", "project", run.Project, "error", err)
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Info("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
