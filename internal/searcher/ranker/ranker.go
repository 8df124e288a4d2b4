// Package ranker keeps the best-scoring documents of a single query.
package ranker

import (
	"container/heap"
	"sort"
)

type ScoredDoc struct {
	DocID int     `json:"doc"`
	Score float64 `json:"score"`
}

// TopK is a bounded collector. Among equal scores the lower doc id ranks
// first. The zero value is not usable; call New.
type TopK struct {
	k int
	h scoredDocHeap
}

// New returns a collector for the k best documents. A non-positive k keeps
// 10.
func New(k int) *TopK {
	if k <= 0 {
		k = 10
	}
	return &TopK{k: k, h: make(scoredDocHeap, 0, k+1)}
}

// Collect offers a document. Non-positive scores are ignored.
func (t *TopK) Collect(docID int, score float64) {
	if score <= 0 {
		return
	}
	if len(t.h) == t.k {
		worst := t.h[0]
		if !better(ScoredDoc{DocID: docID, Score: score}, worst) {
			return
		}
		t.h[0] = ScoredDoc{DocID: docID, Score: score}
		heap.Fix(&t.h, 0)
		return
	}
	heap.Push(&t.h, ScoredDoc{DocID: docID, Score: score})
}

// Len returns the number of documents held.
func (t *TopK) Len() int {
	return len(t.h)
}

// MinScore is the score a new document must beat once the collector is
// full, or 0 while it is not.
func (t *TopK) MinScore() float64 {
	if len(t.h) < t.k {
		return 0
	}
	return t.h[0].Score
}

// Results drains the collector, best first.
func (t *TopK) Results() []ScoredDoc {
	result := make([]ScoredDoc, t.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&t.h).(ScoredDoc)
	}
	return result
}

// Sort orders docs best first with the same tie-break as TopK.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool { return better(docs[i], docs[j]) })
}

func better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// scoredDocHeap is a min-heap: the root is the worst document held.
type scoredDocHeap []ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	return better(h[j], h[i])
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
