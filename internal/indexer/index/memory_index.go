package index

import (
	"sort"
	"sync"
)

// MemoryIndex accumulates method documents before they are frozen into a
// segment. Doc ids are assigned in insertion order starting at 0.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs []Document
	size int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs: make([]Document, 0, 64),
	}
}

// AddDocument appends doc and returns its doc id.
func (m *MemoryIndex) AddDocument(doc Document) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := len(m.docs)
	m.docs = append(m.docs, doc)
	m.size += int64(len(doc.ClassFQN) + len(doc.Signature) + len(doc.File) + 16)
	for _, f := range Fields {
		for _, term := range doc.Terms(f) {
			m.size += int64(len(term) + 8)
		}
	}
	return id
}

// Snapshot builds the per-field dictionaries and ordinal sets. Duplicate
// values within one document collapse to a single ordinal.
func (m *MemoryIndex) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		Docs:   make([]StoredDoc, len(m.docs)),
		Fields: make([]FieldSnapshot, len(Fields)),
	}
	for i := range m.docs {
		snap.Docs[i] = m.docs[i].Stored()
	}
	for _, f := range Fields {
		snap.Fields[f] = m.freezeField(f)
	}
	return snap
}

func (m *MemoryIndex) freezeField(f Field) FieldSnapshot {
	unique := make(map[string]struct{})
	for i := range m.docs {
		for _, term := range m.docs[i].Terms(f) {
			unique[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(unique))
	for term := range unique {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	ords := make(map[string]int64, len(terms))
	for i, term := range terms {
		ords[term] = int64(i)
	}

	docOrds := make([][]int64, len(m.docs))
	for i := range m.docs {
		values := m.docs[i].Terms(f)
		if len(values) == 0 {
			continue
		}
		set := make([]int64, 0, len(values))
		for _, term := range values {
			set = append(set, ords[term])
		}
		docOrds[i] = sortUnique(set)
	}
	return FieldSnapshot{Field: f, Terms: terms, DocOrds: docOrds}
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make([]Document, 0, 64)
	m.size = 0
}

func sortUnique(ords []int64) []int64 {
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
