package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/segment"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
)

const (
	ManifestName   = "MANIFEST.json"
	manifestFormat = 1
	lockName       = "LOCK"
)

// errManifestNotDurable means the new manifest was renamed into place but the
// directory sync failed. The files it references must be kept.
var errManifestNotDurable = errors.New("manifest renamed but directory sync failed")

var syncDir = segment.SyncDir

// SegmentRef names the files of one committed segment.
type SegmentRef struct {
	Text   string `json:"text"`
	Vector string `json:"vector,omitempty"`
	Docs   int    `json:"docs"`
}

// Manifest is the durable description of a collection's current generation.
// Publishing a generation means atomically replacing this file.
type Manifest struct {
	Format      int          `json:"format"`
	Generation  uint64       `json:"generation"`
	Dimensions  int          `json:"dimensions,omitempty"`
	Segments    []SegmentRef `json:"segments"`
	CommittedAt time.Time    `json:"committed_at"`
}

func (m *Manifest) references() map[string]struct{} {
	refs := make(map[string]struct{}, len(m.Segments)*2)
	for _, s := range m.Segments {
		refs[s.Text] = struct{}{}
		if s.Vector != "" {
			refs[s.Vector] = struct{}{}
		}
	}
	return refs
}

// readManifest loads dir's manifest. A missing manifest is a fresh, empty
// collection at generation 0.
func readManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{Format: manifestFormat, Segments: []SegmentRef{}}, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, cerrors.Newf(cerrors.KindIndexCorruption, "manifest.read", "%s: %v", path, err)
	}
	if m.Format != manifestFormat {
		return nil, cerrors.Newf(cerrors.KindIndexCorruption, "manifest.read", "%s: unsupported format %d", path, m.Format)
	}
	seen := make(map[string]struct{}, len(m.Segments))
	for _, s := range m.Segments {
		if s.Text == "" || filepath.Base(s.Text) != s.Text {
			return nil, cerrors.Newf(cerrors.KindIndexCorruption, "manifest.read", "%s: invalid segment name %q", path, s.Text)
		}
		if _, dup := seen[s.Text]; dup {
			return nil, cerrors.Newf(cerrors.KindIndexCorruption, "manifest.read", "%s: segment %q listed twice", path, s.Text)
		}
		seen[s.Text] = struct{}{}
		if s.Vector != "" && filepath.Base(s.Vector) != s.Vector {
			return nil, cerrors.Newf(cerrors.KindIndexCorruption, "manifest.read", "%s: invalid vector segment name %q", path, s.Vector)
		}
	}
	if m.Segments == nil {
		m.Segments = []SegmentRef{}
	}
	return &m, nil
}

// writeManifest replaces dir's manifest: temp file, fsync, rename, then a
// directory fsync so the rename itself survives a crash.
func writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming manifest: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("%w: %v", errManifestNotDurable, err)
	}
	return nil
}

// isSegmentFile reports whether name looks like a file this package writes
// for segments, including unfinished temp files.
func isSegmentFile(name string) bool {
	ext := filepath.Ext(name)
	if ext == ".tmp" {
		return true
	}
	return ext == segment.TextExt || ext == segment.VectorExt
}
