package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

const scenarioQuery = `[{"sig":"q1","function":["foo","bar"],"field":["x"]}]`

func writeIndex(t *testing.T) string {
	t.Helper()
	mi := index.NewMemoryIndex()
	mi.AddDocument(index.Document{ClassFQN: "com.acme.A", Signature: "a()", File: "A.java", StartLine: 1, EndLine: 5,
		CallTerms: []string{"foo", "bar"}, FieldTerms: []string{"x"}})
	mi.AddDocument(index.Document{ClassFQN: "com.acme.B", Signature: "b()", File: "B.java", StartLine: 7, EndLine: 9,
		CallTerms: []string{"foo"}})
	dir := t.TempDir()
	_, err := segment.NewWriter(dir).Write(mi.Snapshot())
	require.NoError(t, err)
	return dir
}

func run(t *testing.T, args ...string) ([]merger.Result, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).RunContext(context.Background(), append([]string{"searcher"}, args...))
	if err != nil {
		return nil, err
	}
	var out []merger.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	return out, nil
}

func TestSearchFiltersSelfMatchByDefault(t *testing.T) {
	idx := writeIndex(t)
	out, err := run(t, "--project-root", t.TempDir(), "--index", idx, "--query", scenarioQuery)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "com.acme.B", out[0].ClassFQN)
	assert.InDelta(t, 0.3, out[0].Score, 1e-9)
	assert.Equal(t, []string{"q1"}, out[0].RelatedQueries)
	assert.Empty(t, out[0].File)
}

func TestSearchFlags(t *testing.T) {
	idx := writeIndex(t)
	out, err := run(t, "--project-root", t.TempDir(), "--index", idx, "--query", scenarioQuery,
		"--keep-self-match", "--include-location", "--top-k", "1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "com.acme.A", out[0].ClassFQN)
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
	assert.Equal(t, "A.java", out[0].File)
	assert.Equal(t, 5, out[0].EndLine)
}

func TestSearchSegmentFileAndQueryFile(t *testing.T) {
	idx := writeIndex(t)
	segs, err := segment.ListSegments(idx)
	require.NoError(t, err)
	require.Len(t, segs, 1)

	queryFile := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(queryFile, []byte(scenarioQuery), 0o644))

	out, err := run(t, "--project-root", t.TempDir(), "--index", segs[0], "--query", "@"+queryFile)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "com.acme.B", out[0].ClassFQN)
}

func TestSearchNoMatchesPrintsEmptyArray(t *testing.T) {
	idx := writeIndex(t)
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).RunContext(context.Background(), []string{"searcher",
		"--project-root", t.TempDir(), "--index", idx,
		"--query", `[{"sig":"q","function":["nothing"],"field":[]}]`})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, stdout.String())
}

func TestSearchRejectsInvalidArguments(t *testing.T) {
	idx := writeIndex(t)
	root := t.TempDir()
	notDir := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o644))

	tests := []struct {
		name   string
		args   []string
		target error
	}{
		{"project root is a file", []string{"--project-root", notDir, "--index", idx, "--query", scenarioQuery}, apperrors.ErrInvalidInput},
		{"project root missing", []string{"--project-root", filepath.Join(root, "nope"), "--index", idx, "--query", scenarioQuery}, apperrors.ErrInvalidInput},
		{"index missing", []string{"--project-root", root, "--index", filepath.Join(root, "nope"), "--query", scenarioQuery}, apperrors.ErrIndexNotFound},
		{"empty index dir", []string{"--project-root", root, "--index", t.TempDir(), "--query", scenarioQuery}, apperrors.ErrIndexNotFound},
		{"malformed batch", []string{"--project-root", root, "--index", idx, "--query", `[{"sig":"q"}]`}, apperrors.ErrInvalidInput},
		{"zero top-k", []string{"--project-root", root, "--index", idx, "--query", scenarioQuery, "--top-k", "0"}, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestSearchRequiresFlags(t *testing.T) {
	_, err := run(t, "--index", writeIndex(t), "--query", scenarioQuery)
	assert.Error(t, err)
}
