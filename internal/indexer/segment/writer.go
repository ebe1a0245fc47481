package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
)

// MagicBytes identifies a valid .tseg text segment file.
const (
	MagicBytes    uint32 = 0x54534547
	FormatVersion uint32 = 3
	HeaderSize    int    = 64
	FooterSize    int    = 32
	TextExt              = ".tseg"
)

// SegmentHeader is the 64-byte header written at the start of every text
// segment.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	PostOffset int64
	PostSize   int64
	DictOffset int64
	DictSize   int64
	DocsOffset int64
	DocsSize   int64
}

// SegmentFooter trails every text segment. The checksum covers the
// dictionary and the document table.
type SegmentFooter struct {
	Checksum      uint32
	DocCount      uint32
	ContentOffset int64
	ContentSize   int64
	CreatedAt     int64
}

// DictEntry maps a term to its postings offset, length, and document
// frequency in the segment file.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// DocEntry describes one document version stored in a segment.
type DocEntry struct {
	ID            string            `json:"id"`
	Length        int               `json:"len"`
	ContentOffset int64             `json:"co"`
	ContentLen    int               `json:"cl"`
	HasVector     bool              `json:"v,omitempty"`
	Metadata      map[string]string `json:"m,omitempty"`
}

// DocTable is the serialized document table plus the IDs this segment
// tombstones in earlier segments.
type DocTable struct {
	Docs       []DocEntry `json:"docs"`
	Tombstones []string   `json:"tombstones,omitempty"`
}

// Writer serialises deltas into new segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// TextName returns the text segment file name for a generation.
func TextName(generation uint64) string {
	return fmt.Sprintf("seg_%08d%s", generation, TextExt)
}

// Write atomically creates the named text segment from a delta. It writes to
// a .tmp file, fsyncs and renames on success.
func (w *Writer) Write(name string, delta *index.Delta) error {
	if delta.Empty() {
		return fmt.Errorf("cannot write empty segment")
	}
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	ok := false
	defer func() {
		f.Close()
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if err := writeSegment(f, delta); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	ok = true
	return nil
}

func writeSegment(f *os.File, delta *index.Delta) error {
	entries := delta.Terms()
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	// The footer checksum covers every byte between header and footer.
	checksum := crc32.NewIEEE()
	w := io.MultiWriter(f, checksum)

	postingsStart := int64(HeaderSize)
	offset := postingsStart
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := w.Write(postingsData); err != nil {
			return fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: offset - postingsStart,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(postingsData))
	}
	postingsSize := offset - postingsStart

	contentStart := offset
	table := DocTable{
		Docs:       make([]DocEntry, 0, len(delta.Docs)),
		Tombstones: delta.Tombstones,
	}
	for _, pd := range delta.Docs {
		n, err := io.WriteString(w, pd.Doc.Content)
		if err != nil {
			return fmt.Errorf("writing content for %q: %w", pd.Doc.ID, err)
		}
		table.Docs = append(table.Docs, DocEntry{
			ID:            pd.Doc.ID,
			Length:        pd.Length,
			ContentOffset: offset - contentStart,
			ContentLen:    n,
			HasVector:     len(pd.Doc.Embedding) > 0,
			Metadata:      pd.Doc.Metadata,
		})
		offset += int64(n)
	}
	contentSize := offset - contentStart

	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	dictStart := offset
	if _, err := w.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	offset += int64(len(dictData))

	docsData, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("marshaling document table: %w", err)
	}
	docsStart := offset
	if _, err := w.Write(docsData); err != nil {
		return fmt.Errorf("writing document table: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(table.Docs)))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(contentStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(contentSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(time.Now().Unix()))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}

	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(len(dict)))
	binary.LittleEndian.PutUint32(headerBytes[12:16], uint32(len(table.Docs)))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(postingsStart))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(postingsSize))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(dictStart))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(len(dictData)))
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(docsStart))
	binary.LittleEndian.PutUint64(headerBytes[56:64], uint64(len(docsData)))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	return nil
}

// SyncDir fsyncs a directory so renames inside it are durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}
