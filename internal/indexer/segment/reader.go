package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

// Reader gives read-only access to one segment. Dictionaries and doc values
// are held in memory; stored documents are read from disk on demand. A
// Reader is safe for concurrent use.
type Reader struct {
	file       *os.File
	filePath   string
	header     SegmentHeader
	docOffsets []int64
	fields     []*fieldData
}

type fieldData struct {
	field index.Field
	terms []string
	docs  *roaring.Bitmap
	// ords[i] belongs to the i-th doc of docs in ascending order.
	ords [][]int64
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("opening segment file %s: %w", path, apperrors.ErrIndexNotFound)
		}
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", apperrors.ErrIndexCorrupt)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x: %w", header.Magic, apperrors.ErrIndexCorrupt)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d: %w", header.Version, apperrors.ErrIndexCorrupt)
	}

	metaBytes := make([]byte, header.MetaSize)
	if _, err := f.ReadAt(metaBytes, header.MetaOffset); err != nil {
		return nil, fmt.Errorf("reading segment meta: %w", apperrors.ErrIndexCorrupt)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.MetaOffset+header.MetaSize); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", apperrors.ErrIndexCorrupt)
	}
	if binary.LittleEndian.Uint32(footer[0:4]) != crc32.ChecksumIEEE(metaBytes) {
		return nil, fmt.Errorf("segment meta checksum mismatch: %w", apperrors.ErrIndexCorrupt)
	}

	var meta segmentMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("parsing segment meta: %w", apperrors.ErrIndexCorrupt)
	}
	if len(meta.DocOffsets) != int(header.DocCount)+1 {
		return nil, fmt.Errorf("doc offset table has %d entries for %d docs: %w",
			len(meta.DocOffsets), header.DocCount, apperrors.ErrIndexCorrupt)
	}

	fields := make([]*fieldData, len(index.Fields))
	for _, block := range meta.Fields {
		if !block.Field.Valid() {
			return nil, fmt.Errorf("unknown field %d in segment: %w", block.Field, apperrors.ErrIndexCorrupt)
		}
		fd, err := decodeField(block)
		if err != nil {
			return nil, err
		}
		fields[block.Field] = fd
	}
	for _, fld := range index.Fields {
		if fields[fld] == nil {
			fields[fld] = &fieldData{field: fld, docs: roaring.New()}
		}
	}

	return &Reader{
		file:       f,
		filePath:   path,
		header:     header,
		docOffsets: meta.DocOffsets,
		fields:     fields,
	}, nil
}

func decodeField(block fieldBlock) (*fieldData, error) {
	docs := roaring.New()
	if err := docs.UnmarshalBinary(block.Docs); err != nil {
		return nil, fmt.Errorf("decoding %s doc bitmap: %w", block.Field, apperrors.ErrIndexCorrupt)
	}
	buf := bytes.NewReader(block.Ords)
	ords := make([][]int64, 0, docs.GetCardinality())
	for i := uint64(0); i < docs.GetCardinality(); i++ {
		count, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("decoding %s ordinals: %w", block.Field, apperrors.ErrIndexCorrupt)
		}
		set := make([]int64, count)
		var prev int64
		for j := range set {
			delta, err := binary.ReadUvarint(buf)
			if err != nil {
				return nil, fmt.Errorf("decoding %s ordinals: %w", block.Field, apperrors.ErrIndexCorrupt)
			}
			prev += int64(delta)
			set[j] = prev
		}
		ords = append(ords, set)
	}
	return &fieldData{
		field: block.Field,
		terms: block.Terms,
		docs:  docs,
		ords:  ords,
	}, nil
}

// LookupOrd binary searches the field's sorted dictionary. Absent terms
// yield index.NoOrd.
func (r *Reader) LookupOrd(field index.Field, term string) (int64, error) {
	if !field.Valid() {
		return index.NoOrd, fmt.Errorf("lookup on %s: %w", field, apperrors.ErrInvalidInput)
	}
	terms := r.fields[field].terms
	idx := sort.SearchStrings(terms, term)
	if idx >= len(terms) || terms[idx] != term {
		return index.NoOrd, nil
	}
	return int64(idx), nil
}

// LookupTerm maps an ordinal back to its term.
func (r *Reader) LookupTerm(field index.Field, ord int64) (string, bool) {
	if !field.Valid() {
		return "", false
	}
	terms := r.fields[field].terms
	if ord < 0 || ord >= int64(len(terms)) {
		return "", false
	}
	return terms[ord], true
}

// TermCount returns the size of the field's dictionary.
func (r *Reader) TermCount(field index.Field) int {
	if !field.Valid() {
		return 0
	}
	return len(r.fields[field].terms)
}

// DocValues returns a fresh iterator over the docs that have values for the
// field. Iterators are not safe for concurrent use; take one per goroutine.
func (r *Reader) DocValues(field index.Field) (*DocValues, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("doc values for %s: %w", field, apperrors.ErrInvalidInput)
	}
	return newDocValues(r.fields[field]), nil
}

// Document reads the stored attributes of docID from disk.
func (r *Reader) Document(docID int) (index.StoredDoc, error) {
	var doc index.StoredDoc
	if docID < 0 || docID >= int(r.header.DocCount) {
		return doc, fmt.Errorf("doc %d out of range [0,%d): %w", docID, r.header.DocCount, apperrors.ErrDocNotFound)
	}
	start, end := r.docOffsets[docID], r.docOffsets[docID+1]
	data := make([]byte, end-start)
	if _, err := r.file.ReadAt(data, r.header.StoredOffset+start); err != nil {
		return doc, fmt.Errorf("reading stored doc %d: %w", docID, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parsing stored doc %d: %w", docID, apperrors.ErrIndexCorrupt)
	}
	return doc, nil
}

// MaxDoc returns one greater than the largest doc id.
func (r *Reader) MaxDoc() int {
	return int(r.header.DocCount)
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// ListSegments returns the segment files in dir, oldest first. Names embed a
// nanosecond timestamp so lexical order is creation order.
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("reading index directory %s: %w", dir, apperrors.ErrIndexNotFound)
		}
		return nil, fmt.Errorf("reading index directory: %w", err)
	}
	segFiles := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), FileExt) {
			segFiles = append(segFiles, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(segFiles)
	return segFiles, nil
}

// OpenLatest opens the newest segment in dir.
func OpenLatest(dir string) (*Reader, error) {
	segFiles, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}
	if len(segFiles) == 0 {
		return nil, fmt.Errorf("no segments in %s: %w", dir, apperrors.ErrIndexNotFound)
	}
	return OpenReader(segFiles[len(segFiles)-1])
}
