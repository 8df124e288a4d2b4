// Package indexer turns code-info extraction files into on-disk project
// indexes, one segment per project directory.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/codeinfo"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
)

// BuildResult describes one project build.
type BuildResult struct {
	Project  string         `json:"project"`
	Source   string         `json:"source"`
	IndexDir string         `json:"index_dir"`
	Segment  string         `json:"segment,omitempty"`
	Docs     int            `json:"docs"`
	Terms    map[string]int `json:"terms,omitempty"`
	Duration time.Duration  `json:"duration"`
	Err      string         `json:"error,omitempty"`
}

// Builder writes project indexes. It is safe for concurrent use; builds of
// the same index directory are serialised.
type Builder struct {
	cfg     config.IndexConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBuilder creates a Builder. m may be nil.
func NewBuilder(cfg config.IndexConfig, m *metrics.Metrics) *Builder {
	return &Builder{
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// BuildProject indexes one code-info file into indexDir. The new segment
// replaces any previous ones unless KeepOldSegment is set.
func (b *Builder) BuildProject(ctx context.Context, codeInfoPath, indexDir string) (*BuildResult, error) {
	docs, err := codeinfo.ParseFile(codeInfoPath)
	if err != nil {
		b.observe("parse_error", 0)
		return nil, err
	}
	res, err := b.BuildDocuments(ctx, codeinfo.ProjectName(codeInfoPath), docs, indexDir)
	if res != nil {
		res.Source = codeInfoPath
	}
	return res, err
}

// BuildDocuments indexes already-parsed documents into indexDir.
func (b *Builder) BuildDocuments(ctx context.Context, project string, docs []index.Document, indexDir string) (*BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		b.observe("empty", 0)
		return nil, apperrors.Invalidf("project %s has no methods to index", project)
	}

	lock := b.dirLock(indexDir)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	mem := index.NewMemoryIndex()
	for _, doc := range docs {
		mem.AddDocument(doc)
	}
	snap := mem.Snapshot()

	previous, err := existingSegments(indexDir)
	if err != nil {
		return nil, err
	}
	name, err := segment.NewWriter(indexDir).Write(snap)
	if err != nil {
		b.observe("error", 0)
		return nil, fmt.Errorf("writing segment for %s: %w", project, err)
	}
	if !b.cfg.KeepOldSegment {
		for _, old := range previous {
			if err := os.Remove(old); err != nil {
				b.logger.Warn("failed to remove old segment", "segment", old, "error", err)
			}
		}
	}

	res := &BuildResult{
		Project:  project,
		IndexDir: indexDir,
		Segment:  name,
		Docs:     len(snap.Docs),
		Terms:    make(map[string]int, len(snap.Fields)),
		Duration: time.Since(start),
	}
	for _, fs := range snap.Fields {
		res.Terms[fs.Field.String()] = len(fs.Terms)
	}
	b.observe("ok", res.Duration)
	if b.metrics != nil {
		b.metrics.DocsIndexedTotal.Add(float64(res.Docs))
	}
	b.logger.Info("project indexed",
		"project", project,
		"segment", name,
		"docs", res.Docs,
		"call_terms", res.Terms[index.FieldCalls.String()],
		"field_terms", res.Terms[index.FieldFields.String()],
		"replaced_segments", len(previous),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// BuildGroup indexes every code-info file under root matching the configured
// glob into indexRoot/<project>. A file that fails is recorded in its result
// and does not stop the others.
func (b *Builder) BuildGroup(ctx context.Context, root, indexRoot string) ([]BuildResult, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, apperrors.Invalidf("code info root %s must be a directory", root)
	}
	pattern := b.cfg.CodeInfoGlob
	if pattern == "" {
		pattern = "*.json"
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("matching %q under %s: %w", pattern, root, err)
	}
	sort.Strings(matches)
	b.logger.Info("group build starting", "root", root, "pattern", pattern, "files", len(matches))

	results := make([]BuildResult, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	workers := b.cfg.BuildWorkers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, rel := range matches {
		path := filepath.Join(root, filepath.FromSlash(rel))
		project := codeinfo.ProjectName(path)
		g.Go(func() error {
			b.logger.Info("processing code info", "file", path, "project", project)
			res, err := b.BuildProject(gctx, path, filepath.Join(indexRoot, project))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.logger.Error("project build failed", "project", project, "file", path, "error", err)
				results[i] = BuildResult{Project: project, Source: path, Err: err.Error()}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("group build interrupted: %w", err)
	}
	return results, nil
}

func (b *Builder) dirLock(dir string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := filepath.Clean(dir)
	l, ok := b.locks[key]
	if !ok {
		l = &sync.Mutex{}
		b.locks[key] = l
	}
	return l
}

func (b *Builder) observe(status string, d time.Duration) {
	if b.metrics == nil {
		return
	}
	b.metrics.IndexBuildsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		b.metrics.IndexBuildDuration.Observe(d.Seconds())
	}
}

func existingSegments(dir string) ([]string, error) {
	segs, err := segment.ListSegments(dir)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrIndexNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return segs, nil
}
