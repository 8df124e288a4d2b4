package similarity

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
)

// Clause is one field's share of a query: the resolved, sorted ordinals,
// the raw number of terms they came from and the clause weight.
type Clause struct {
	Field     index.Field
	Ords      []int64
	QuerySize int
	Boost     float64
}

// Score scores a document's ordinal set for this clause.
func (c Clause) Score(d []int64) float64 {
	return Jaccard(c.Ords, c.QuerySize, d, c.Boost)
}

// MaxScore is the score of a perfect overlap.
func (c Clause) MaxScore() float64 {
	return c.Boost
}

// Query is a disjunction of clauses.
type Query struct {
	Clauses []Clause
}

// MaxScore bounds the score of any document.
func (q Query) MaxScore() float64 {
	var total float64
	for _, c := range q.Clauses {
		total += c.MaxScore()
	}
	return total
}

// Scorer builds the disjunction over the query's clauses. Clauses without
// resolved ordinals can only score 0 and are left out.
func (q Query) Scorer(src Source) (*Disjunction, error) {
	scorers := make([]*Scorer, 0, len(q.Clauses))
	for _, c := range q.Clauses {
		if len(c.Ords) == 0 {
			continue
		}
		s, err := NewScorer(src, c)
		if err != nil {
			return nil, err
		}
		scorers = append(scorers, s)
	}
	return NewDisjunction(scorers), nil
}

// ClauseExplanation breaks down one clause's contribution.
type ClauseExplanation struct {
	Field        string  `json:"field"`
	QueryOrds    int     `json:"query_ords"`
	QuerySize    int     `json:"query_size"`
	DocOrds      int     `json:"doc_ords"`
	Intersection int     `json:"intersection"`
	Union        int     `json:"union"`
	Boost        float64 `json:"boost"`
	Score        float64 `json:"score"`
	Error        string  `json:"error,omitempty"`
}

// Explanation describes how a single document scored.
type Explanation struct {
	DocID   int                 `json:"doc"`
	Score   float64             `json:"score"`
	Matched bool                `json:"matched"`
	Clauses []ClauseExplanation `json:"clauses"`
}

// Explain scores docID by positioning a fresh scorer per clause on it.
func Explain(src Source, q Query, docID int) (*Explanation, error) {
	if docID < 0 || docID >= src.MaxDoc() {
		return nil, fmt.Errorf("doc %d out of range [0,%d)", docID, src.MaxDoc())
	}
	exp := &Explanation{DocID: docID, Clauses: make([]ClauseExplanation, 0, len(q.Clauses))}
	for _, c := range q.Clauses {
		ce := ClauseExplanation{
			Field:     c.Field.String(),
			QueryOrds: len(c.Ords),
			QuerySize: c.QuerySize,
			Boost:     c.Boost,
		}
		s, err := NewScorer(src, c)
		if err != nil {
			return nil, err
		}
		doc, err := s.Advance(docID)
		if err != nil {
			ce.Error = err.Error()
			exp.Clauses = append(exp.Clauses, ce)
			continue
		}
		if doc == docID {
			d, err := s.it.Ords()
			if err != nil {
				ce.Error = err.Error()
			} else {
				ce.DocOrds = len(d)
				if len(c.Ords) > 0 {
					ce.Intersection = Intersect(c.Ords, d)
					ce.Union = c.QuerySize + len(d) - ce.Intersection
				}
				ce.Score = c.Score(d)
			}
		}
		exp.Score += ce.Score
		exp.Clauses = append(exp.Clauses, ce)
	}
	exp.Matched = exp.Score > 0
	return exp, nil
}
