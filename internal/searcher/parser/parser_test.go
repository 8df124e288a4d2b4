package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

func TestParseBatch(t *testing.T) {
	input := `[
	  {"sig": "q1", "function": ["foo", "bar", "foo"], "field": ["x"]},
	  {"sig": "q2", "function": [], "field": null, "extra": 1}
	]`
	queries, err := ParseBatch([]byte(input))
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, Query{Sig: "q1", Function: []string{"foo", "bar", "foo"}, Field: []string{"x"}}, queries[0])
	assert.Equal(t, "q2", queries[1].Sig)
	assert.Empty(t, queries[1].Function)
	assert.Nil(t, queries[1].Field)
}

func TestParseBatchEmpty(t *testing.T) {
	queries, err := ParseBatch([]byte(" [] "))
	require.NoError(t, err)
	assert.Empty(t, queries)
}

func TestParseBatchRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"object", `{"sig": "q"}`},
		{"truncated", `[{"sig": "q"`},
		{"missing sig", `[{"function": [], "field": []}]`},
		{"missing function", `[{"sig": "q", "field": []}]`},
		{"missing field", `[{"sig": "q", "function": []}]`},
		{"wrong sig type", `[{"sig": 1, "function": [], "field": []}]`},
		{"wrong function type", `[{"sig": "q", "function": "foo", "field": []}]`},
		{"wrong field element", `[{"sig": "q", "function": [], "field": [1]}]`},
		{"non-object element", `[1]`},
		{"null element", `[null]`},
		{"second element bad", `[{"sig": "q", "function": [], "field": []}, {"sig": "r"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBatch([]byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func BenchmarkParseBatch(b *testing.B) {
	for _, n := range []int{1, 100} {
		elems := make([]string, n)
		for i := range elems {
			elems[i] = fmt.Sprintf(`{"sig":"q%d()","function":["save(Order)","validate(Order)"],"field":["repo","cache"]}`, i)
		}
		data := []byte("[" + strings.Join(elems, ",") + "]")
		b.Run(fmt.Sprintf("queries_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := ParseBatch(data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
