// Package similarity scores documents against a query by weighted Jaccard
// overlap of their per-field ordinal sets.
package similarity

import "slices"

// probeRatio selects the intersection strategy: when the query set is
// smaller than a tenth of the document set, each query ordinal is binary
// searched in the document set, otherwise the other way round.
const probeRatio = 10

// Intersect counts the ordinals present in both sorted sets q and d.
func Intersect(q, d []int64) int {
	if len(q) < len(d)/probeRatio {
		return IntersectProbeDoc(q, d)
	}
	return IntersectProbeQuery(q, d)
}

// IntersectProbeDoc iterates q and binary searches d.
func IntersectProbeDoc(q, d []int64) int {
	n := 0
	for _, o := range q {
		if _, found := slices.BinarySearch(d, o); found {
			n++
		}
	}
	return n
}

// IntersectProbeQuery iterates d and binary searches q.
func IntersectProbeQuery(q, d []int64) int {
	n := 0
	for _, o := range d {
		if _, found := slices.BinarySearch(q, o); found {
			n++
		}
	}
	return n
}

// Jaccard returns boost * |Q∩D| / (querySize + |D| - |Q∩D|). querySize is
// the raw number of query terms before resolution, so duplicated or unknown
// query terms widen the union. An empty q or d scores 0.
func Jaccard(q []int64, querySize int, d []int64, boost float64) float64 {
	if len(q) == 0 || len(d) == 0 {
		return 0
	}
	inter := Intersect(q, d)
	union := querySize + len(d) - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union) * boost
}
