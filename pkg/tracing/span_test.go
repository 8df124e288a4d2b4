package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := Start(context.Background(), "similar", "req-1")
	root.SetAttr("project", "orders")

	qctx, q1 := StartChild(ctx, "query")
	q1.SetAttr("sig", "q1")
	q1.SetAttr("hits", 2)
	q1.SetAttr("hits", 3)
	_, nested := StartChild(qctx, "resolve")
	nested.End()
	q1.End()
	root.End()
	root.End()

	assert.Same(t, root, FromContext(ctx))
	assert.Equal(t, "req-1", q1.TraceID)
	require.Len(t, root.Children(), 1)
	assert.Same(t, q1, root.Children()[0])
	require.Len(t, q1.Children(), 1)
	assert.Equal(t, "req-1", q1.Children()[0].TraceID)

	v, ok := q1.Attr("hits")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = q1.Attr("missing")
	assert.False(t, ok)
	assert.GreaterOrEqual(t, root.Duration(), q1.Duration())
}

func TestNilSpanIsInert(t *testing.T) {
	ctx, span := StartChild(context.Background(), "orphan")
	assert.Nil(t, span)
	assert.Nil(t, FromContext(ctx))

	span.SetAttr("k", "v")
	span.End()
	assert.Zero(t, span.Duration())
	assert.Empty(t, span.Children())
	_, ok := span.Attr("k")
	assert.False(t, ok)
	span.Log(ctx, slog.Default(), slog.LevelInfo)
}

func TestLogWritesEverySpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, root := Start(context.Background(), "similar", "req-2")
	_, child := StartChild(ctx, "query")
	child.SetAttr("sig", "q1")
	child.End()
	root.End()
	root.Log(ctx, logger, slog.LevelDebug)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "similar", first["span"])
	assert.Equal(t, float64(0), first["depth"])
	assert.Equal(t, "query", second["span"])
	assert.Equal(t, "q1", second["sig"])
	assert.Equal(t, "req-2", second["trace_id"])
}

func TestLogSkipsDisabledLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, root := Start(context.Background(), "similar", "req-3")
	root.End()
	root.Log(ctx, logger, slog.LevelDebug)
	assert.Empty(t, buf.String())
}
