package similarity

import (
	"container/heap"
	"log/slog"
)

// scorerHeap orders sub-scorers by their current doc id.
type scorerHeap []*Scorer

func (h scorerHeap) Len() int           { return len(h) }
func (h scorerHeap) Less(i, j int) bool { return h[i].DocID() < h[j].DocID() }
func (h scorerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *scorerHeap) Push(x any) {
	*h = append(*h, x.(*Scorer))
}

func (h *scorerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Disjunction iterates the union of its sub-scorers' documents. The score
// of a document is the sum of the scores of the sub-scorers positioned on
// it. A sub-scorer whose iteration fails is logged and dropped.
type Disjunction struct {
	subs    scorerHeap
	pending []*Scorer
	started bool
	doc     int
	logger  *slog.Logger
}

func NewDisjunction(scorers []*Scorer) *Disjunction {
	return &Disjunction{
		pending: scorers,
		doc:     -1,
		logger:  slog.Default().With("component", "disjunction"),
	}
}

func (d *Disjunction) DocID() int {
	return d.doc
}

// NextDoc advances to the next document matched by any sub-scorer.
func (d *Disjunction) NextDoc() int {
	if d.doc == NoMoreDocs {
		return NoMoreDocs
	}
	if !d.started {
		d.started = true
		for _, s := range d.pending {
			d.step(s)
		}
		d.pending = nil
		heap.Init(&d.subs)
	} else {
		for len(d.subs) > 0 && d.subs[0].DocID() == d.doc {
			s := heap.Pop(&d.subs).(*Scorer)
			if d.advanced(s) {
				heap.Push(&d.subs, s)
			}
		}
	}
	if len(d.subs) == 0 {
		d.doc = NoMoreDocs
	} else {
		d.doc = d.subs[0].DocID()
	}
	return d.doc
}

// step advances s during initialisation and keeps it if not exhausted.
func (d *Disjunction) step(s *Scorer) {
	if d.advanced(s) {
		d.subs = append(d.subs, s)
	}
}

func (d *Disjunction) advanced(s *Scorer) bool {
	doc, err := s.NextDoc()
	if err != nil {
		d.logger.Warn("doc values iteration failed, dropping clause",
			"field", s.clause.Field.String(),
			"error", err,
		)
		return false
	}
	return doc != NoMoreDocs
}

// Score sums the scores of the sub-scorers on the current document.
func (d *Disjunction) Score() float64 {
	var total float64
	for _, s := range d.subs {
		if s.DocID() == d.doc {
			total += s.Score()
		}
	}
	return total
}

// Cost is the sum of the sub-scorers' costs.
func (d *Disjunction) Cost() int64 {
	var total int64
	for _, s := range d.pending {
		total += s.Cost()
	}
	for _, s := range d.subs {
		total += s.Cost()
	}
	return total
}
