// Package index holds the method-document model and the in-memory builder
// that turns documents into per-field term dictionaries and ordinal sets.
package index

import "fmt"

// Field identifies one multi-valued term field of a method document.
type Field int

const (
	FieldCalls Field = iota
	FieldFields
)

// Fields lists every term field in ordinal-table order.
var Fields = []Field{FieldCalls, FieldFields}

// NoOrd is returned by dictionary lookups for a term that is not indexed.
const NoOrd int64 = -1

func (f Field) String() string {
	switch f {
	case FieldCalls:
		return "calls"
	case FieldFields:
		return "fields"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Valid reports whether f names a known field.
func (f Field) Valid() bool {
	return f >= FieldCalls && f <= FieldFields
}

// Document is one indexed method.
type Document struct {
	ClassFQN   string   `json:"class_fqn"`
	Signature  string   `json:"signature"`
	File       string   `json:"file"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	CallTerms  []string `json:"call_terms"`
	FieldTerms []string `json:"field_terms"`
}

// Terms returns the document's raw values for the given field.
func (d *Document) Terms(f Field) []string {
	switch f {
	case FieldCalls:
		return d.CallTerms
	case FieldFields:
		return d.FieldTerms
	default:
		return nil
	}
}

// Stored returns the scalar attributes that are kept for retrieval.
func (d *Document) Stored() StoredDoc {
	return StoredDoc{
		ClassFQN:  d.ClassFQN,
		Signature: d.Signature,
		File:      d.File,
		StartLine: d.StartLine,
		EndLine:   d.EndLine,
	}
}

// StoredDoc holds the retrievable attributes of a document.
type StoredDoc struct {
	ClassFQN  string `json:"class_fqn"`
	Signature string `json:"signature"`
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// FieldSnapshot is the frozen form of one term field: a sorted dictionary
// where a term's ordinal is its position, and per-document ordinal sets.
type FieldSnapshot struct {
	Field Field
	Terms []string
	// DocOrds is indexed by doc id. Each entry is strictly ascending; docs
	// without values for the field have a nil entry.
	DocOrds [][]int64
}

// Snapshot is the frozen, segment-ready form of a MemoryIndex.
type Snapshot struct {
	Docs   []StoredDoc
	Fields []FieldSnapshot
}
