package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

// Reader serves postings and stored documents from one immutable text
// segment. The dictionary and document table are held in memory; postings
// and content are read on demand.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	footer   SegmentFooter
	dict     []DictEntry
	table    DocTable
	docIndex map[string]int
}

func corrupt(path string, format string, args ...any) error {
	return cerrors.Newf(cerrors.KindIndexCorruption, "segment.open", "%s: %s", path, fmt.Sprintf(format, args...))
}

// OpenReader opens and verifies a text segment. Structural problems are
// reported as IndexCorruption.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, corrupt(path, "segment file missing")
		}
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := readSegment(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func readSegment(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	size := info.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, corrupt(path, "truncated: %d bytes", size)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, corrupt(path, "reading header: %v", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		return nil, corrupt(path, "bad magic bytes %x", magic)
	}
	header := SegmentHeader{
		Magic:      magic,
		Version:    binary.LittleEndian.Uint32(headerBytes[4:8]),
		TermCount:  binary.LittleEndian.Uint32(headerBytes[8:12]),
		DocCount:   binary.LittleEndian.Uint32(headerBytes[12:16]),
		PostOffset: int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		PostSize:   int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		DictOffset: int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		DictSize:   int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		DocsOffset: int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
		DocsSize:   int64(binary.LittleEndian.Uint64(headerBytes[56:64])),
	}
	if header.Version != FormatVersion {
		return nil, corrupt(path, "unsupported format version %d", header.Version)
	}
	if header.DocsOffset+header.DocsSize+int64(FooterSize) != size || header.DictOffset+header.DictSize > size {
		return nil, corrupt(path, "section offsets do not match file size %d", size)
	}

	footerBytes := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBytes, size-int64(FooterSize)); err != nil {
		return nil, corrupt(path, "reading footer: %v", err)
	}
	footer := SegmentFooter{
		Checksum:      binary.LittleEndian.Uint32(footerBytes[0:4]),
		DocCount:      binary.LittleEndian.Uint32(footerBytes[4:8]),
		ContentOffset: int64(binary.LittleEndian.Uint64(footerBytes[8:16])),
		ContentSize:   int64(binary.LittleEndian.Uint64(footerBytes[16:24])),
		CreatedAt:     int64(binary.LittleEndian.Uint64(footerBytes[24:32])),
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, corrupt(path, "reading dictionary: %v", err)
	}
	docsBytes := make([]byte, header.DocsSize)
	if _, err := f.ReadAt(docsBytes, header.DocsOffset); err != nil {
		return nil, corrupt(path, "reading document table: %v", err)
	}
	if header.PostOffset != int64(HeaderSize) ||
		header.PostOffset+header.PostSize != footer.ContentOffset ||
		footer.ContentOffset+footer.ContentSize != header.DictOffset ||
		header.DictOffset+header.DictSize != header.DocsOffset {
		return nil, corrupt(path, "sections are not contiguous")
	}
	checksum := crc32.NewIEEE()
	body := io.NewSectionReader(f, int64(HeaderSize), size-int64(HeaderSize+FooterSize))
	if _, err := io.Copy(checksum, body); err != nil {
		return nil, corrupt(path, "reading segment body: %v", err)
	}
	if checksum.Sum32() != footer.Checksum {
		return nil, corrupt(path, "checksum mismatch")
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, corrupt(path, "parsing dictionary: %v", err)
	}
	var table DocTable
	if err := json.Unmarshal(docsBytes, &table); err != nil {
		return nil, corrupt(path, "parsing document table: %v", err)
	}
	if uint32(len(table.Docs)) != header.DocCount || footer.DocCount != header.DocCount {
		return nil, corrupt(path, "document count mismatch")
	}
	docIndex := make(map[string]int, len(table.Docs))
	for i, d := range table.Docs {
		docIndex[d.ID] = i
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		footer:   footer,
		dict:     dict,
		table:    table,
		docIndex: docIndex,
	}, nil
}

// Search returns the postings stored for an exact term.
func (r *Reader) Search(term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	return r.readPostings(r.dict[idx])
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// TermsWithPrefix returns dictionary terms starting with prefix, in order.
func (r *Reader) TermsWithPrefix(prefix string) []string {
	start := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= prefix
	})
	terms := make([]string, 0)
	for i := start; i < len(r.dict) && strings.HasPrefix(r.dict[i].Term, prefix); i++ {
		terms = append(terms, r.dict[i].Term)
	}
	return terms
}

// ForEachTerm calls fn for every dictionary term in order.
func (r *Reader) ForEachTerm(fn func(term string)) {
	for _, e := range r.dict {
		fn(e.Term)
	}
}

// Docs returns the document table. The slice must not be modified.
func (r *Reader) Docs() []DocEntry {
	return r.table.Docs
}

// Doc returns the entry for id, if this segment stores a version of it.
func (r *Reader) Doc(id string) (DocEntry, bool) {
	i, ok := r.docIndex[id]
	if !ok {
		return DocEntry{}, false
	}
	return r.table.Docs[i], true
}

// Tombstones lists document IDs removed from earlier segments.
func (r *Reader) Tombstones() []string {
	return r.table.Tombstones
}

// Content reads a stored document body.
func (r *Reader) Content(entry DocEntry) (string, error) {
	buf := make([]byte, entry.ContentLen)
	if _, err := r.file.ReadAt(buf, r.footer.ContentOffset+entry.ContentOffset); err != nil {
		return "", fmt.Errorf("reading content of %q: %w", entry.ID, err)
	}
	return string(buf), nil
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
