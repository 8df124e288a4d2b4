package segment

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// NoMoreDocs is returned by iteration once the field's docs are exhausted.
const NoMoreDocs = math.MaxInt32

// DocValues iterates, in ascending doc id order, over the documents that
// carry at least one value for a field and exposes each one's ordinal set.
type DocValues struct {
	fd   *fieldData
	it   roaring.IntPeekable
	doc  int
	rank int
}

func newDocValues(fd *fieldData) *DocValues {
	return &DocValues{fd: fd, it: fd.docs.Iterator(), doc: -1, rank: -1}
}

// DocID returns the current doc, -1 before the first call to NextDoc or
// Advance, and NoMoreDocs once exhausted.
func (dv *DocValues) DocID() int {
	return dv.doc
}

// NextDoc moves to the next doc with values.
func (dv *DocValues) NextDoc() (int, error) {
	if dv.doc == NoMoreDocs {
		return NoMoreDocs, nil
	}
	if !dv.it.HasNext() {
		dv.doc = NoMoreDocs
		return NoMoreDocs, nil
	}
	dv.doc = int(dv.it.Next())
	dv.rank++
	return dv.doc, nil
}

// Advance moves to the first doc >= target. Targets at or behind the
// current doc leave the iterator where it is.
func (dv *DocValues) Advance(target int) (int, error) {
	if dv.doc == NoMoreDocs || (dv.doc >= 0 && target <= dv.doc) {
		return dv.doc, nil
	}
	if target < 0 {
		target = 0
	}
	dv.it.AdvanceIfNeeded(uint32(target))
	if !dv.it.HasNext() {
		dv.doc = NoMoreDocs
		return NoMoreDocs, nil
	}
	dv.doc = int(dv.it.Next())
	dv.rank = int(dv.fd.docs.Rank(uint32(dv.doc))) - 1
	return dv.doc, nil
}

// AdvanceExact positions on target and reports whether it has values.
func (dv *DocValues) AdvanceExact(target int) (bool, error) {
	doc, err := dv.Advance(target)
	if err != nil {
		return false, err
	}
	return doc == target, nil
}

// Ords returns the current doc's ordinals in ascending order. The slice is
// shared with the reader and must not be modified.
func (dv *DocValues) Ords() ([]int64, error) {
	if dv.rank < 0 || dv.doc == NoMoreDocs || dv.rank >= len(dv.fd.ords) {
		return nil, nil
	}
	return dv.fd.ords[dv.rank], nil
}

// Cost is the number of docs the iterator can visit.
func (dv *DocValues) Cost() int64 {
	return int64(dv.fd.docs.GetCardinality())
}
