package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/vector"
)

const (
	VectorMagic      uint32 = 0x56534547
	VectorVersion    uint32 = 1
	VectorHeaderSize int    = 32
	VectorFooterSize int    = 8
	VectorExt               = ".vseg"
)

// VectorName returns the vector segment file name for a generation.
func VectorName(generation uint64) string {
	return fmt.Sprintf("seg_%08d%s", generation, VectorExt)
}

// WriteVectors atomically writes records to the named vector segment. Every
// record must have dims components.
func (w *Writer) WriteVectors(name string, dims int, records []vector.Record) error {
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp vector segment: %w", err)
	}
	ok := false
	defer func() {
		f.Close()
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(f)
	header := make([]byte, VectorHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], VectorMagic)
	binary.LittleEndian.PutUint32(header[4:8], VectorVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(dims))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(records)))
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("writing vector header: %w", err)
	}

	checksum := crc32.NewIEEE()
	out := io.MultiWriter(bw, checksum)
	buf := make([]byte, 8)
	for _, r := range records {
		if len(r.Vector) != dims {
			return fmt.Errorf("record %q has %d dimensions, segment has %d", r.DocID, len(r.Vector), dims)
		}
		binary.LittleEndian.PutUint16(buf[0:2], uint16(len(r.DocID)))
		if _, err := out.Write(buf[0:2]); err != nil {
			return fmt.Errorf("writing vector record: %w", err)
		}
		if _, err := io.WriteString(out, r.DocID); err != nil {
			return fmt.Errorf("writing vector record: %w", err)
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(r.Norm))
		if _, err := out.Write(buf); err != nil {
			return fmt.Errorf("writing vector record: %w", err)
		}
		for _, x := range r.Vector {
			binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(x))
			if _, err := out.Write(buf[0:4]); err != nil {
				return fmt.Errorf("writing vector record: %w", err)
			}
		}
	}

	footer := make([]byte, VectorFooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	if _, err := bw.Write(footer); err != nil {
		return fmt.Errorf("writing vector footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing vector segment: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing vector segment: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing vector segment: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming vector segment: %w", err)
	}
	ok = true
	return nil
}

// ReadVectors loads every record of a vector segment into memory and
// verifies its checksum.
func ReadVectors(path string) (int, []vector.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, corrupt(path, "vector segment missing")
		}
		return 0, nil, fmt.Errorf("reading vector segment: %w", err)
	}
	if len(data) < VectorHeaderSize+VectorFooterSize {
		return 0, nil, corrupt(path, "truncated vector segment")
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != VectorMagic {
		return 0, nil, corrupt(path, "bad magic bytes %x", magic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != VectorVersion {
		return 0, nil, corrupt(path, "unsupported vector format version %d", v)
	}
	dims := int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))
	body := data[VectorHeaderSize : len(data)-VectorFooterSize]
	want := binary.LittleEndian.Uint32(data[len(data)-VectorFooterSize:])
	if crc32.ChecksumIEEE(body) != want {
		return 0, nil, corrupt(path, "vector checksum mismatch")
	}

	records := make([]vector.Record, 0, count)
	pos := 0
	for i := 0; i < count; i++ {
		if pos+2 > len(body) {
			return 0, nil, corrupt(path, "vector record %d truncated", i)
		}
		idLen := int(binary.LittleEndian.Uint16(body[pos : pos+2]))
		pos += 2
		need := idLen + 8 + dims*4
		if pos+need > len(body) {
			return 0, nil, corrupt(path, "vector record %d truncated", i)
		}
		id := string(body[pos : pos+idLen])
		pos += idLen
		norm := math.Float64frombits(binary.LittleEndian.Uint64(body[pos : pos+8]))
		pos += 8
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[pos : pos+4]))
			pos += 4
		}
		records = append(records, vector.Record{DocID: id, Vector: vec, Norm: norm})
	}
	if pos != len(body) {
		return 0, nil, corrupt(path, "%d trailing bytes after %d records", len(body)-pos, count)
	}
	return dims, records, nil
}
