package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
)

const ordersInfo = `{"source": {"com.acme.Orders": {"file": "Orders.java", "methods": {
  "place": [{"signature": "place(Order)", "start_line": 1, "end_line": 9,
    "call_methods": [{"signature": "save(Order)"}], "external_fields": [{"name": "repo"}]}]}}}}`

const auditInfo = `{"source": {"com.acme.Audit": {"file": "Audit.java", "methods": {
  "log": [{"signature": "log(String)", "start_line": 1, "end_line": 3,
    "call_methods": [], "external_fields": [{"name": "out"}]}],
  "flush": [{"signature": "flush()", "start_line": 4, "end_line": 6,
    "call_methods": [{"signature": "sync()"}], "external_fields": []}]}}}}`

func newTestBuilder(cfg config.IndexConfig) *Builder {
	return NewBuilder(cfg, metrics.NewWithRegistry(prometheus.NewRegistry()))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestBuildProjectReplacesOldSegments(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "orders.json")
	writeFile(t, src, ordersInfo)
	indexDir := filepath.Join(dir, "index", "orders")

	b := newTestBuilder(config.IndexConfig{})
	res, err := b.BuildProject(context.Background(), src, indexDir)
	require.NoError(t, err)
	assert.Equal(t, "orders", res.Project)
	assert.Equal(t, 1, res.Docs)
	assert.Equal(t, 1, res.Terms["calls"])

	_, err = b.BuildProject(context.Background(), src, indexDir)
	require.NoError(t, err)
	segs, err := segment.ListSegments(indexDir)
	require.NoError(t, err)
	assert.Len(t, segs, 1)

	r, err := segment.OpenLatest(indexDir)
	require.NoError(t, err)
	defer r.Close()
	ord, err := r.LookupOrd(index.FieldFields, "repo")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ord)
}

func TestBuildProjectKeepsOldSegments(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "orders.json")
	writeFile(t, src, ordersInfo)
	indexDir := filepath.Join(dir, "idx")

	b := newTestBuilder(config.IndexConfig{KeepOldSegment: true})
	_, err := b.BuildProject(context.Background(), src, indexDir)
	require.NoError(t, err)
	_, err = b.BuildProject(context.Background(), src, indexDir)
	require.NoError(t, err)

	segs, err := segment.ListSegments(indexDir)
	require.NoError(t, err)
	assert.Len(t, segs, 2)
}

func TestBuildDocumentsRejectsEmptyProject(t *testing.T) {
	b := newTestBuilder(config.IndexConfig{})
	_, err := b.BuildDocuments(context.Background(), "empty", nil, t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestBuildGroup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "orders.json"), ordersInfo)
	writeFile(t, filepath.Join(root, "audit.info.json"), auditInfo)
	writeFile(t, filepath.Join(root, "broken.json"), "{")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	indexRoot := filepath.Join(t.TempDir(), "indexes")

	b := newTestBuilder(config.IndexConfig{CodeInfoGlob: "*.json", BuildWorkers: 2})
	results, err := b.BuildGroup(context.Background(), root, indexRoot)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byProject := make(map[string]BuildResult)
	for _, r := range results {
		byProject[r.Project] = r
	}
	assert.Equal(t, 2, byProject["audit"].Docs)
	assert.Equal(t, 1, byProject["orders"].Docs)
	assert.NotEmpty(t, byProject["broken"].Err)

	for _, project := range []string{"audit", "orders"} {
		r, err := segment.OpenLatest(filepath.Join(indexRoot, project))
		require.NoError(t, err, project)
		r.Close()
	}
}

func TestBuildGroupRequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "orders.json")
	writeFile(t, file, ordersInfo)

	b := newTestBuilder(config.IndexConfig{})
	_, err := b.BuildGroup(context.Background(), file, t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestBuildGroupCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "orders.json"), ordersInfo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newTestBuilder(config.IndexConfig{})
	_, err := b.BuildGroup(ctx, root, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
