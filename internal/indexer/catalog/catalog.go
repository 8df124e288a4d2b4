// Package catalog maps project names to open segment readers. Each project
// owns a sub-directory of the data directory; readers are opened on first
// use and swapped when the project is rebuilt.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
)

var projectName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// entry is a reference-counted reader. A retired entry is closed once the
// last holder releases it.
type entry struct {
	reader  *segment.Reader
	refs    int
	retired bool
}

// Catalog hands out readers for project indexes.
type Catalog struct {
	dataDir string
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New creates a Catalog rooted at dataDir. m may be nil.
func New(dataDir string, m *metrics.Metrics) *Catalog {
	return &Catalog{
		dataDir: dataDir,
		metrics: m,
		logger:  slog.Default().With("component", "catalog"),
		entries: make(map[string]*entry),
	}
}

// ValidProject reports whether name is usable as a project directory name.
func ValidProject(name string) bool {
	return projectName.MatchString(name) && name != ".." && name != "."
}

// Dir returns the index directory of a project.
func (c *Catalog) Dir(project string) string {
	return filepath.Join(c.dataDir, project)
}

// Acquire returns the project's reader and a release func that must be
// called when the caller is done with it.
func (c *Catalog) Acquire(project string) (*segment.Reader, func(), error) {
	if !ValidProject(project) {
		return nil, nil, apperrors.Invalidf("invalid project name %q", project)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, fmt.Errorf("catalog closed: %w", apperrors.ErrInternal)
	}

	e, ok := c.entries[project]
	if !ok {
		reader, err := segment.OpenLatest(c.Dir(project))
		if err != nil {
			if apperrors.Is(err, apperrors.ErrIndexNotFound) {
				return nil, nil, fmt.Errorf("project %s: %w", project, apperrors.ErrProjectNotFound)
			}
			return nil, nil, fmt.Errorf("opening index for %s: %w", project, err)
		}
		e = &entry{reader: reader}
		c.entries[project] = e
		c.observe(project, reader)
		c.logger.Info("project index opened",
			"project", project,
			"segment", reader.Path(),
			"docs", reader.MaxDoc(),
		)
	}
	e.refs++
	var once sync.Once
	release := func() {
		once.Do(func() { c.release(e) })
	}
	return e.reader, release, nil
}

func (c *Catalog) release(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.retired && e.refs == 0 {
		c.closeEntry(e)
	}
}

// Reload drops the cached reader for project so the next Acquire opens the
// newest segment. In-flight holders keep the old reader until they release.
func (c *Catalog) Reload(project string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[project]
	if !ok {
		return
	}
	delete(c.entries, project)
	e.retired = true
	if e.refs == 0 {
		c.closeEntry(e)
	}
	if c.metrics != nil {
		c.metrics.OpenIndexes.Set(float64(len(c.entries)))
	}
	c.logger.Info("project index retired", "project", project, "in_flight", e.refs)
}

// Refresh retires every open reader whose project directory now holds a
// newer segment and returns the affected projects.
func (c *Catalog) Refresh() []string {
	c.mu.Lock()
	open := make(map[string]string, len(c.entries))
	for project, e := range c.entries {
		open[project] = e.reader.Path()
	}
	c.mu.Unlock()

	var stale []string
	for project, current := range open {
		segs, err := segment.ListSegments(c.Dir(project))
		if err != nil || len(segs) == 0 {
			continue
		}
		if segs[len(segs)-1] != current {
			stale = append(stale, project)
		}
	}
	sort.Strings(stale)
	for _, project := range stale {
		c.Reload(project)
	}
	return stale
}

// Projects lists the project directories that hold at least one segment.
func (c *Catalog) Projects() ([]string, error) {
	dirEntries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading data directory: %w", err)
	}
	projects := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() || !ValidProject(de.Name()) {
			continue
		}
		segs, err := segment.ListSegments(c.Dir(de.Name()))
		if err != nil || len(segs) == 0 {
			continue
		}
		projects = append(projects, de.Name())
	}
	sort.Strings(projects)
	return projects, nil
}

// Close closes every idle reader and retires the rest.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var firstErr error
	for project, e := range c.entries {
		e.retired = true
		if e.refs == 0 {
			if err := c.closeEntry(e); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(c.entries, project)
	}
	return firstErr
}

func (c *Catalog) closeEntry(e *entry) error {
	if err := e.reader.Close(); err != nil {
		c.logger.Error("close failed", "segment", e.reader.Path(), "error", err)
		return err
	}
	return nil
}

func (c *Catalog) observe(project string, r *segment.Reader) {
	if c.metrics == nil {
		return
	}
	c.metrics.OpenIndexes.Set(float64(len(c.entries)))
	c.metrics.IndexDocCount.WithLabelValues(project).Set(float64(r.MaxDoc()))
}
