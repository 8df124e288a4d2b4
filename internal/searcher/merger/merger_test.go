package merger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(class, sig, query string, score float64) Result {
	return Result{ClassFQN: class, Signature: sig, RelatedQueries: []string{query}, Score: score}
}

func TestUpsertMergesByIdentity(t *testing.T) {
	s := NewResultSet()
	low := hit("com.A", "a()", "q2", 0.3)
	low.File, low.StartLine, low.EndLine = "old.java", 1, 2
	high := hit("com.A", "a()", "q1", 0.8)
	high.File, high.StartLine, high.EndLine = "A.java", 10, 20

	s.Upsert(low)
	merged := s.Upsert(high)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0.8, merged.Score)
	assert.Equal(t, []string{"q1", "q2"}, merged.RelatedQueries)
	assert.Equal(t, "A.java", merged.File)
	assert.Equal(t, 10, merged.StartLine)

	// a lower score afterwards keeps the max and the winning location
	merged = s.Upsert(hit("com.A", "a()", "q3", 0.1))
	assert.Equal(t, 0.8, merged.Score)
	assert.Equal(t, "A.java", merged.File)
	assert.Equal(t, []string{"q1", "q2", "q3"}, merged.RelatedQueries)

	// inputs are not modified
	assert.Equal(t, []string{"q2"}, low.RelatedQueries)
	assert.Equal(t, 0.3, low.Score)
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := NewResultSet()
	r := hit("com.A", "a()", "q1", 0.5)
	first := s.Upsert(r)
	second := s.Upsert(r)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.Len())
	got, ok := s.Get(r.Key())
	require.True(t, ok)
	assert.Equal(t, []string{"q1"}, got.RelatedQueries)
}

func TestSameSignatureDifferentClassIsDistinct(t *testing.T) {
	s := NewResultSet()
	s.Upsert(hit("com.A", "run()", "q", 0.5))
	s.Upsert(hit("com.B", "run()", "q", 0.5))
	assert.Equal(t, 2, s.Len())
	_, ok := s.Get(Key{ClassFQN: "com.C", Signature: "run()"})
	assert.False(t, ok)
}

func TestTopKOrderingAndTruncation(t *testing.T) {
	s := NewResultSet()
	s.Upsert(hit("c", "first()", "q", 0.4))
	s.Upsert(hit("c", "second()", "q", 0.9))
	s.Upsert(hit("c", "third()", "q", 0.4))
	s.Upsert(hit("c", "fourth()", "q", 0.2))

	out := s.TopK(TopKOptions{K: 3})
	require.Len(t, out, 3)
	assert.Equal(t, "second()", out[0].Signature)
	// equal scores keep insertion order
	assert.Equal(t, "first()", out[1].Signature)
	assert.Equal(t, "third()", out[2].Signature)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Score, out[i].Score)
	}

	assert.Len(t, s.TopK(TopKOptions{}), 4)
}

func TestTopKSelfMatchFilter(t *testing.T) {
	s := NewResultSet()
	s.Upsert(hit("c", "self()", "q", 1.0))
	s.Upsert(hit("c", "nearly()", "q", 1.0-1e-9))
	s.Upsert(hit("c", "other()", "q", 0.7))
	s.Upsert(hit("c", "last()", "q", 0.1))

	out := s.TopK(TopKOptions{K: 2, FilterSelfMatch: true})
	require.Len(t, out, 2)
	assert.Equal(t, "other()", out[0].Signature)
	assert.Equal(t, "last()", out[1].Signature)

	out = s.TopK(TopKOptions{K: 2})
	assert.Equal(t, "self()", out[0].Signature)
}

func TestTopKLocation(t *testing.T) {
	s := NewResultSet()
	r := hit("c", "m()", "q", 0.5)
	r.File, r.StartLine, r.EndLine = "C.java", 3, 4
	s.Upsert(r)

	out := s.TopK(TopKOptions{K: 1})
	assert.Empty(t, out[0].File)
	assert.Zero(t, out[0].StartLine)

	out = s.TopK(TopKOptions{K: 1, IncludeLocation: true})
	assert.Equal(t, "C.java", out[0].File)
	assert.Equal(t, 4, out[0].EndLine)
}

func TestConcurrentUpserts(t *testing.T) {
	s := NewResultSet()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Upsert(hit("c", fmt.Sprintf("m%d()", i%10), fmt.Sprintf("q%d", w), float64(w)/10))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 10, s.Len())
	for _, r := range s.TopK(TopKOptions{}) {
		assert.Equal(t, 0.7, r.Score)
		assert.Len(t, r.RelatedQueries, 8)
	}
}

func TestReset(t *testing.T) {
	s := NewResultSet()
	s.Upsert(hit("c", "m()", "q", 0.5))
	s.Reset()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.TopK(TopKOptions{K: 10}))
}
