// Package merger accumulates the results of every query in a batch,
// merging hits that refer to the same method, and extracts the final
// ranking.
package merger

import (
	"math"
	"sort"
	"sync"
)

// SelfMatchEpsilon is the tolerance used to recognise a perfect score.
const SelfMatchEpsilon = 1e-6

// Key identifies a method across queries.
type Key struct {
	ClassFQN  string
	Signature string
}

// Result is one ranked method.
type Result struct {
	ClassFQN       string   `json:"class_fqn"`
	Signature      string   `json:"signature"`
	RelatedQueries []string `json:"related_func"`
	Score          float64  `json:"score"`
	File           string   `json:"file,omitempty"`
	StartLine      int      `json:"start_line,omitempty"`
	EndLine        int      `json:"end_line,omitempty"`
}

func (r Result) Key() Key {
	return Key{ClassFQN: r.ClassFQN, Signature: r.Signature}
}

// IsSelfMatch reports whether the score is a perfect 1.0.
func (r Result) IsSelfMatch() bool {
	return math.Abs(r.Score-1.0) < SelfMatchEpsilon
}

// StripLocation returns r without file and line attributes.
func (r Result) StripLocation() Result {
	r.File = ""
	r.StartLine = 0
	r.EndLine = 0
	return r
}

// merge builds a new entry from two results with the same key: provenance
// is unioned, the score is the maximum and the location comes from the
// higher scoring side.
func merge(existing, incoming Result) Result {
	out := existing
	if incoming.Score > existing.Score {
		out = incoming
	}
	out.RelatedQueries = unionSorted(existing.RelatedQueries, incoming.RelatedQueries)
	return out
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// ResultSet is the batch-wide collection of results keyed by identity. It
// is safe for concurrent use.
type ResultSet struct {
	mu      sync.Mutex
	entries map[Key]*slot
	seq     int
}

// slot remembers when a key was first inserted so extraction is stable.
type slot struct {
	result Result
	order  int
}

func NewResultSet() *ResultSet {
	return &ResultSet{entries: make(map[Key]*slot)}
}

// Upsert inserts r, or replaces the entry with the same key by their merge.
// It returns the entry now stored.
func (s *ResultSet) Upsert(r Result) Result {
	r.RelatedQueries = unionSorted(r.RelatedQueries, nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.Key()
	if cur, ok := s.entries[key]; ok {
		cur.result = merge(cur.result, r)
		return cur.result
	}
	s.entries[key] = &slot{result: r, order: s.seq}
	s.seq++
	return r
}

// Get returns the entry stored under key.
func (s *ResultSet) Get(key Key) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[key]
	if !ok {
		return Result{}, false
	}
	return cur.result, true
}

func (s *ResultSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reset empties the set.
func (s *ResultSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[Key]*slot)
	s.seq = 0
}

// TopKOptions controls final extraction.
type TopKOptions struct {
	K               int
	FilterSelfMatch bool
	IncludeLocation bool
}

// TopK returns at most opts.K results sorted by score descending. Equal
// scores keep first-insertion order. Perfect scores are dropped before
// truncation when FilterSelfMatch is set. A non-positive K keeps everything.
func (s *ResultSet) TopK(opts TopKOptions) []Result {
	s.mu.Lock()
	slots := make([]slot, 0, len(s.entries))
	for _, cur := range s.entries {
		slots = append(slots, *cur)
	}
	s.mu.Unlock()

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].result.Score != slots[j].result.Score {
			return slots[i].result.Score > slots[j].result.Score
		}
		return slots[i].order < slots[j].order
	})

	out := make([]Result, 0, min(len(slots), max(opts.K, 0)))
	for _, cur := range slots {
		if opts.K > 0 && len(out) >= opts.K {
			break
		}
		r := cur.result
		if opts.FilterSelfMatch && r.IsSelfMatch() {
			continue
		}
		if !opts.IncludeLocation {
			r = r.StripLocation()
		}
		r.RelatedQueries = append([]string(nil), r.RelatedQueries...)
		out = append(out, r)
	}
	return out
}
