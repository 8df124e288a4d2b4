// Package dictionary resolves query terms to per-field ordinals through a
// session-scoped cache in front of a segment's term dictionary.
package dictionary

import (
	"log/slog"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
)

// TermDictionary is the sorted-dictionary lookup a segment provides. It
// returns index.NoOrd for absent terms.
type TermDictionary interface {
	LookupOrd(field index.Field, term string) (int64, error)
}

// Stats counts resolver activity for one session.
type Stats struct {
	CacheHits    int64
	Resolved     int64
	Unresolved   int64
	LookupErrors int64
}

// Observer receives one call per term resolution with an outcome of
// "cached", "resolved", "unresolved" or "error".
type Observer func(field index.Field, outcome string)

// Resolver maps terms to ordinals, caching hits and misses per field. A
// Resolver belongs to one session and is not safe for concurrent use.
type Resolver struct {
	dict     TermDictionary
	caches   []map[string]int64
	stats    Stats
	observer Observer
	logger   *slog.Logger
}

func NewResolver(dict TermDictionary) *Resolver {
	caches := make([]map[string]int64, len(index.Fields))
	for i := range caches {
		caches[i] = make(map[string]int64)
	}
	return &Resolver{
		dict:   dict,
		caches: caches,
		logger: slog.Default().With("component", "resolver"),
	}
}

// SetObserver installs fn to be told about every resolution.
func (r *Resolver) SetObserver(fn Observer) {
	r.observer = fn
}

// Lookup resolves a single term. Lookup errors are logged and remembered as
// a miss so the term is never looked up again in this session.
func (r *Resolver) Lookup(field index.Field, term string) int64 {
	if !field.Valid() {
		return index.NoOrd
	}
	cache := r.caches[field]
	if ord, ok := cache[term]; ok {
		r.stats.CacheHits++
		r.notify(field, "cached")
		return ord
	}

	ord, err := r.dict.LookupOrd(field, term)
	switch {
	case err != nil:
		r.logger.Warn("term lookup failed",
			"field", field.String(),
			"term", term,
			"error", err,
		)
		ord = index.NoOrd
		r.stats.LookupErrors++
		r.notify(field, "error")
	case ord < 0:
		ord = index.NoOrd
		r.stats.Unresolved++
		r.notify(field, "unresolved")
	default:
		r.stats.Resolved++
		r.notify(field, "resolved")
	}
	cache[term] = ord
	return ord
}

// Resolve maps terms to their ordinals, dropping unresolved ones. The result
// is sorted ascending with duplicates removed.
func (r *Resolver) Resolve(field index.Field, terms []string) []int64 {
	ords := make([]int64, 0, len(terms))
	for _, term := range terms {
		if ord := r.Lookup(field, term); ord != index.NoOrd {
			ords = append(ords, ord)
		}
	}
	sort.Slice(ords, func(i, j int) bool { return ords[i] < ords[j] })
	out := ords[:0]
	for _, o := range ords {
		if len(out) > 0 && out[len(out)-1] == o {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Stats returns a copy of the session counters.
func (r *Resolver) Stats() Stats {
	return r.stats
}

// CachedTerms returns the number of cached entries for field.
func (r *Resolver) CachedTerms(field index.Field) int {
	if !field.Valid() {
		return 0
	}
	return len(r.caches[field])
}

// Reset drops every cached entry.
func (r *Resolver) Reset() {
	for i := range r.caches {
		r.caches[i] = make(map[string]int64)
	}
	r.stats = Stats{}
}

func (r *Resolver) notify(field index.Field, outcome string) {
	if r.observer != nil {
		r.observer(field, outcome)
	}
}
