package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, ClampLimit(0))
	assert.Equal(t, 20, ClampLimit(-3))
	assert.Equal(t, 5, ClampLimit(5))
	assert.Equal(t, 200, ClampLimit(1000))
}

func TestEncodeResults(t *testing.T) {
	data, err := encodeResults(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	data, err = encodeResults([]merger.Result{{ClassFQN: "com.acme.B", Signature: "b()", RelatedQueries: []string{"q1"}, Score: 0.3}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"class_fqn":"com.acme.B","signature":"b()","related_func":["q1"],"score":0.3}]`, string(data))
}
