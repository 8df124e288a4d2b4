package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/indexer/index"
)

// MagicBytes identifies a valid .cusx segment file.
const (
	MagicBytes    uint32 = 0x43555358
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	FileExt              = ".cusx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic        uint32
	Version      uint32
	DocCount     uint32
	FieldCount   uint32
	CreatedAt    int64
	StoredOffset int64
	StoredSize   int64
	MetaOffset   int64
	MetaSize     int64
}

// segmentMeta is the JSON block that follows the stored documents. Byte
// slices are base64 encoded by encoding/json.
type segmentMeta struct {
	DocOffsets []int64      `json:"doc_offsets"`
	Fields     []fieldBlock `json:"fields"`
}

// fieldBlock holds one term field: the sorted dictionary, the serialized
// roaring bitmap of docs with values, and their delta-encoded ordinals in
// bitmap order.
type fieldBlock struct {
	Field index.Field `json:"field"`
	Terms []string    `json:"terms"`
	Docs  []byte      `json:"docs"`
	Ords  []byte      `json:"ords"`
}

// Writer serialises index snapshots into new .cusx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new segment file containing the snapshot. It
// writes to a .tmp file first and renames on success.
func (w *Writer) Write(snap *index.Snapshot) (string, error) {
	if snap == nil || len(snap.Docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := fmt.Sprintf("seg_%d%s", time.Now().UnixNano(), FileExt)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	header := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		DocCount:   uint32(len(snap.Docs)),
		FieldCount: uint32(len(snap.Fields)),
		CreatedAt:  time.Now().Unix(),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("writing header placeholder: %w", err)
	}

	storedStart := int64(HeaderSize)
	meta := segmentMeta{DocOffsets: make([]int64, 0, len(snap.Docs)+1)}
	var pos int64
	for i := range snap.Docs {
		data, err := json.Marshal(snap.Docs[i])
		if err != nil {
			return "", fmt.Errorf("marshaling stored doc %d: %w", i, err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing stored doc %d: %w", i, err)
		}
		meta.DocOffsets = append(meta.DocOffsets, pos)
		pos += int64(len(data))
	}
	meta.DocOffsets = append(meta.DocOffsets, pos)
	header.StoredOffset = storedStart
	header.StoredSize = pos

	for _, fs := range snap.Fields {
		block, err := encodeField(fs)
		if err != nil {
			return "", err
		}
		meta.Fields = append(meta.Fields, block)
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshaling segment meta: %w", err)
	}
	header.MetaOffset = storedStart + pos
	header.MetaSize = int64(len(metaData))
	if _, err := f.Write(metaData); err != nil {
		return "", fmt.Errorf("writing segment meta: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(metaData))
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.MetaOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.MetaSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(header.StoredSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.DocCount)
	binary.LittleEndian.PutUint32(b[12:16], h.FieldCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.StoredOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.StoredSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.MetaOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.MetaSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		Version:      binary.LittleEndian.Uint32(b[4:8]),
		DocCount:     binary.LittleEndian.Uint32(b[8:12]),
		FieldCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:    int64(binary.LittleEndian.Uint64(b[16:24])),
		StoredOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		StoredSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		MetaOffset:   int64(binary.LittleEndian.Uint64(b[40:48])),
		MetaSize:     int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}

// encodeField writes each doc's ordinal set as uvarint(count) followed by
// uvarint deltas, in ascending doc order.
func encodeField(fs index.FieldSnapshot) (fieldBlock, error) {
	docs := roaring.New()
	var ords bytes.Buffer
	scratch := make([]byte, binary.MaxVarintLen64)
	for docID, set := range fs.DocOrds {
		if len(set) == 0 {
			continue
		}
		docs.Add(uint32(docID))
		n := binary.PutUvarint(scratch, uint64(len(set)))
		ords.Write(scratch[:n])
		var prev int64
		for _, o := range set {
			n = binary.PutUvarint(scratch, uint64(o-prev))
			ords.Write(scratch[:n])
			prev = o
		}
	}
	docBytes, err := docs.ToBytes()
	if err != nil {
		return fieldBlock{}, fmt.Errorf("serializing %s doc bitmap: %w", fs.Field, err)
	}
	return fieldBlock{
		Field: fs.Field,
		Terms: fs.Terms,
		Docs:  docBytes,
		Ords:  ords.Bytes(),
	}, nil
}
