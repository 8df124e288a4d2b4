package consumer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/catalog"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
)

const codeInfo = `{"source": {"com.acme.Orders": {"file": "Orders.java", "methods": {
  "place": [{"signature": "place(Order)", "start_line": 1, "end_line": 9,
    "call_methods": [{"signature": "save(Order)"}], "external_fields": []}]}}}}`

type recordingReloader struct {
	projects []string
}

func (r *recordingReloader) Reload(project string) {
	r.projects = append(r.projects, project)
}

func TestHandleMessageInline(t *testing.T) {
	dataDir := t.TempDir()
	cat := catalog.New(dataDir, nil)
	defer cat.Close()
	reloader := &recordingReloader{}
	handler := HandleMessage(indexer.NewBuilder(config.IndexConfig{}, nil), cat, reloader)

	value, err := json.Marshal(BuildRequest{Project: "orders", CodeInfo: json.RawMessage(codeInfo)})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), []byte("orders"), value))
	assert.Equal(t, []string{"orders"}, reloader.projects)

	r, release, err := cat.Acquire("orders")
	require.NoError(t, err)
	defer release()
	assert.Equal(t, 1, r.MaxDoc())
}

func TestHandleMessageFromPath(t *testing.T) {
	dataDir := t.TempDir()
	src := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(src, []byte(codeInfo), 0644))
	cat := catalog.New(dataDir, nil)
	defer cat.Close()
	handler := HandleMessage(indexer.NewBuilder(config.IndexConfig{}, nil), cat, nil)

	value, err := json.Marshal(BuildRequest{Project: "orders", CodeInfoPath: src})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), nil, value))

	projects, err := cat.Projects()
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, projects)
}

func TestHandleMessageSkipsBadRequests(t *testing.T) {
	cat := catalog.New(t.TempDir(), nil)
	defer cat.Close()
	reloader := &recordingReloader{}
	handler := HandleMessage(indexer.NewBuilder(config.IndexConfig{}, nil), cat, reloader)

	bad := [][]byte{
		[]byte("not json"),
		[]byte(`{"project": "../x", "code_info": {}}`),
		[]byte(`{"project": "orders"}`),
		[]byte(`{"project": "orders", "code_info": {"source": {}}, "code_info_path": "x.json"}`),
		[]byte(`{"project": "orders", "code_info": {"nope": 1}}`),
	}
	for _, value := range bad {
		assert.NoError(t, handler(context.Background(), nil, value), string(value))
	}
	assert.Empty(t, reloader.projects)
}

func TestHandleMessageAcksEmptyProject(t *testing.T) {
	cat := catalog.New(t.TempDir(), nil)
	defer cat.Close()
	handler := HandleMessage(indexer.NewBuilder(config.IndexConfig{}, nil), cat, nil)

	value := []byte(`{"project": "orders", "code_info": {"source": {}}}`)
	assert.NoError(t, handler(context.Background(), nil, value))
}

func TestHandleMessageReturnsBuildFailure(t *testing.T) {
	// a regular file where the data directory should be makes the write fail
	dataDir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(dataDir, []byte("x"), 0644))
	cat := catalog.New(dataDir, nil)
	defer cat.Close()
	handler := HandleMessage(indexer.NewBuilder(config.IndexConfig{}, nil), cat, nil)

	value, err := json.Marshal(BuildRequest{Project: "orders", CodeInfo: json.RawMessage(codeInfo)})
	require.NoError(t, err)
	assert.Error(t, handler(context.Background(), nil, value))
}
