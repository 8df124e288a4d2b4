package similarity

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/segment"
)

// NoMoreDocs marks an exhausted iterator.
const NoMoreDocs = segment.NoMoreDocs

// DocValuesIterator walks the documents that have values for one field in
// ascending doc id order.
type DocValuesIterator interface {
	DocID() int
	NextDoc() (int, error)
	// Advance moves to the first doc >= target.
	Advance(target int) (int, error)
	// Ords returns the current doc's sorted ordinals.
	Ords() ([]int64, error)
	Cost() int64
}

// Source provides per-field doc values of one index.
type Source interface {
	MaxDoc() int
	DocValues(field index.Field) (DocValuesIterator, error)
}

type segmentSource struct {
	r *segment.Reader
}

// FromSegment adapts a segment reader to a Source.
func FromSegment(r *segment.Reader) Source {
	return segmentSource{r: r}
}

func (s segmentSource) MaxDoc() int { return s.r.MaxDoc() }

func (s segmentSource) DocValues(field index.Field) (DocValuesIterator, error) {
	dv, err := s.r.DocValues(field)
	if err != nil {
		return nil, err
	}
	return dv, nil
}

// Scorer scores the documents of one clause's field.
type Scorer struct {
	clause Clause
	it     DocValuesIterator
	logger *slog.Logger
}

// NewScorer binds clause to the field's doc values in src.
func NewScorer(src Source, clause Clause) (*Scorer, error) {
	it, err := src.DocValues(clause.Field)
	if err != nil {
		return nil, fmt.Errorf("opening %s doc values: %w", clause.Field, err)
	}
	return &Scorer{
		clause: clause,
		it:     it,
		logger: slog.Default().With("component", "similarity", "field", clause.Field.String()),
	}, nil
}

func (s *Scorer) DocID() int {
	return s.it.DocID()
}

func (s *Scorer) NextDoc() (int, error) {
	return s.it.NextDoc()
}

func (s *Scorer) Advance(target int) (int, error) {
	return s.it.Advance(target)
}

// Cost is the number of documents the scorer may visit.
func (s *Scorer) Cost() int64 {
	return s.it.Cost()
}

// MaxScore bounds Score: a perfect overlap scores the clause boost.
func (s *Scorer) MaxScore() float64 {
	return s.clause.MaxScore()
}

// Score scores the current document. A failure to read its values is
// logged and scores 0.
func (s *Scorer) Score() float64 {
	d, err := s.it.Ords()
	if err != nil {
		s.logger.Warn("reading doc values failed, scoring 0",
			"doc", s.it.DocID(),
			"error", err,
		)
		return 0
	}
	return s.clause.Score(d)
}
