package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

func writeTestSegment(t *testing.T) (*Reader, string) {
	t.Helper()
	mi := index.NewMemoryIndex()
	mi.AddDocument(index.Document{
		ClassFQN:   "com.acme.Orders",
		Signature:  "place(Order)",
		File:       "src/Orders.java",
		StartLine:  10,
		EndLine:    20,
		CallTerms:  []string{"validate(Order)", "save(Order)"},
		FieldTerms: []string{"repo"},
	})
	mi.AddDocument(index.Document{
		ClassFQN:  "com.acme.Util",
		Signature: "noop()",
	})
	mi.AddDocument(index.Document{
		ClassFQN:  "com.acme.Orders",
		Signature: "cancel(Order)",
		CallTerms: []string{"save(Order)", "save(Order)"},
	})

	dir := t.TempDir()
	name, err := NewWriter(dir).Write(mi.Snapshot())
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	r, err := OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, dir
}

func TestWriteAndReadSegment(t *testing.T) {
	r, _ := writeTestSegment(t)

	assert.Equal(t, 3, r.MaxDoc())
	assert.Equal(t, 2, r.TermCount(index.FieldCalls))
	assert.Equal(t, 1, r.TermCount(index.FieldFields))

	ord, err := r.LookupOrd(index.FieldCalls, "save(Order)")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ord)

	ord, err = r.LookupOrd(index.FieldCalls, "validate(Order)")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ord)

	ord, err = r.LookupOrd(index.FieldFields, "save(Order)")
	require.NoError(t, err)
	assert.Equal(t, index.NoOrd, ord)

	term, ok := r.LookupTerm(index.FieldCalls, 1)
	assert.True(t, ok)
	assert.Equal(t, "validate(Order)", term)
	_, ok = r.LookupTerm(index.FieldCalls, 9)
	assert.False(t, ok)

	doc, err := r.Document(2)
	require.NoError(t, err)
	assert.Equal(t, "cancel(Order)", doc.Signature)

	doc, err = r.Document(0)
	require.NoError(t, err)
	assert.Equal(t, "src/Orders.java", doc.File)
	assert.Equal(t, 10, doc.StartLine)
	assert.Equal(t, 20, doc.EndLine)
}

func TestDocumentOutOfRange(t *testing.T) {
	r, _ := writeTestSegment(t)
	_, err := r.Document(3)
	assert.ErrorIs(t, err, apperrors.ErrDocNotFound)
	_, err = r.Document(-1)
	assert.ErrorIs(t, err, apperrors.ErrDocNotFound)
}

func TestLookupInvalidField(t *testing.T) {
	r, _ := writeTestSegment(t)
	_, err := r.LookupOrd(index.Field(7), "x")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = r.DocValues(index.Field(7))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestDocValuesIteration(t *testing.T) {
	r, _ := writeTestSegment(t)
	dv, err := r.DocValues(index.FieldCalls)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dv.Cost())
	assert.Equal(t, -1, dv.DocID())

	doc, err := dv.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, 0, doc)
	ords, err := dv.Ords()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, ords)

	// doc 1 has no calls and is skipped
	doc, err = dv.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, 2, doc)
	ords, err = dv.Ords()
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, ords)

	doc, err = dv.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
}

func TestDocValuesAdvance(t *testing.T) {
	r, _ := writeTestSegment(t)

	dv, err := r.DocValues(index.FieldCalls)
	require.NoError(t, err)
	ok, err := dv.AdvanceExact(1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, dv.DocID())
	ords, err := dv.Ords()
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, ords)

	dv, err = r.DocValues(index.FieldCalls)
	require.NoError(t, err)
	ok, err = dv.AdvanceExact(2)
	require.NoError(t, err)
	assert.True(t, ok)

	dv, err = r.DocValues(index.FieldFields)
	require.NoError(t, err)
	doc, err := dv.Advance(1)
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
	ords, err = dv.Ords()
	require.NoError(t, err)
	assert.Nil(t, ords)
}

func TestOpenLatestPicksNewest(t *testing.T) {
	_, dir := writeTestSegment(t)

	mi := index.NewMemoryIndex()
	mi.AddDocument(index.Document{ClassFQN: "com.acme.New", Signature: "only()"})
	_, err := NewWriter(dir).Write(mi.Snapshot())
	require.NoError(t, err)

	segs, err := ListSegments(dir)
	require.NoError(t, err)
	assert.Len(t, segs, 2)

	r, err := OpenLatest(dir)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.MaxDoc())
	assert.Equal(t, 0, r.TermCount(index.FieldCalls))
}

func TestOpenLatestMissingDir(t *testing.T) {
	_, err := OpenLatest(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)

	_, err = OpenLatest(t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
}

func TestOpenReaderRejectsCorruptFile(t *testing.T) {
	r, _ := writeTestSegment(t)
	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)

	bad := filepath.Join(t.TempDir(), "bad"+FileExt)
	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xFF
	require.NoError(t, os.WriteFile(bad, corrupted, 0644))
	_, err = OpenReader(bad)
	assert.ErrorIs(t, err, apperrors.ErrIndexCorrupt)

	corrupted = append([]byte(nil), data...)
	corrupted[len(corrupted)-FooterSize-2] ^= 0xFF
	require.NoError(t, os.WriteFile(bad, corrupted, 0644))
	_, err = OpenReader(bad)
	assert.ErrorIs(t, err, apperrors.ErrIndexCorrupt)
}

func TestWriteEmptySnapshot(t *testing.T) {
	_, err := NewWriter(t.TempDir()).Write(&index.Snapshot{})
	assert.Error(t, err)
}
