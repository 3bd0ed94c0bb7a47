package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/ingestengine/pkg/types"
)

// Files is the set of artifact bytes a single Commit writes. RawBytes or
// CleanedMarkdown (or both) must be non-empty; Images is optional.
type Files struct {
	RawBytes        []byte
	RawExt          string // e.g. "html"
	CleanedMarkdown []byte
	Images          map[string][]byte // filename -> bytes, written under images/
}

// Metadata is the sidecar written alongside the artifact bytes.
type Metadata struct {
	ReferenceID string    `json:"reference_id"`
	Kind        types.Kind `json:"kind"`
	SourceURL   string    `json:"source_url"`
	ContentHash string    `json:"content_hash"`
	Quality     types.Quality `json:"quality"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is a content-addressed filesystem store laid out as
// <root>/<kind>/<YYYY>/<MM>/<DD>/<reference_id>/{metadata.json,content.md,raw.<ext>,images/*}.
//
// Commit never holds a lock on the directory tree: a writer stages the full
// artifact under a tmp-<random> directory, fsyncs every file, renames the
// directory into its final path, then writes a .committed sentinel. A
// directory without that sentinel is, by definition, an incomplete write
// and is never read as a terminal-good artifact.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating it if absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Commit writes files for ref and returns the finished Artifact, including
// its content hash (SHA-256 over the cleaned markdown if present, else the
// raw bytes). It is idempotent: if a directory for ref's (kind, date,
// reference_id) already carries a .committed sentinel, Commit overwrites it
// with a fresh tmp-dir swap rather than erroring.
func (s *Store) Commit(ref types.Reference, files Files, now time.Time) (types.Artifact, error) {
	if len(files.RawBytes) == 0 && len(files.CleanedMarkdown) == 0 {
		return types.Artifact{}, fmt.Errorf("content: commit %s: no bytes to write", ref.ReferenceID)
	}

	finalDir := s.finalDir(ref.Kind, now, ref.ReferenceID)
	parent := filepath.Dir(finalDir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return types.Artifact{}, fmt.Errorf("content: create parent dir: %w", err)
	}

	tmpDir, err := os.MkdirTemp(parent, "tmp-")
	if err != nil {
		return types.Artifact{}, fmt.Errorf("content: create staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir) // no-op once renamed away

	hash := contentHash(files)

	artifact := types.Artifact{
		ReferenceID: ref.ReferenceID,
		ContentHash: hash,
		ByteCount:   int64(len(files.RawBytes)),
		CreatedAt:   now,
	}

	if len(files.CleanedMarkdown) > 0 {
		if err := writeFileSynced(filepath.Join(tmpDir, "content.md"), files.CleanedMarkdown); err != nil {
			return types.Artifact{}, err
		}
	}
	if len(files.RawBytes) > 0 {
		ext := files.RawExt
		if ext == "" {
			ext = "html"
		}
		if err := writeFileSynced(filepath.Join(tmpDir, "raw."+ext), files.RawBytes); err != nil {
			return types.Artifact{}, err
		}
	}
	if len(files.Images) > 0 {
		imgDir := filepath.Join(tmpDir, "images")
		if err := os.MkdirAll(imgDir, 0o750); err != nil {
			return types.Artifact{}, fmt.Errorf("content: create images dir: %w", err)
		}
		for name, data := range files.Images {
			if err := writeFileSynced(filepath.Join(imgDir, name), data); err != nil {
				return types.Artifact{}, err
			}
		}
	}

	meta := Metadata{
		ReferenceID: ref.ReferenceID,
		Kind:        ref.Kind,
		SourceURL:   ref.SourceURL,
		ContentHash: hash,
		CreatedAt:   now,
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return types.Artifact{}, fmt.Errorf("content: marshal metadata: %w", err)
	}
	if err := writeFileSynced(filepath.Join(tmpDir, "metadata.json"), metaBytes); err != nil {
		return types.Artifact{}, err
	}

	_ = os.RemoveAll(finalDir) // replace a prior incomplete attempt, if any
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return types.Artifact{}, fmt.Errorf("content: rename into place: %w", err)
	}

	if err := os.WriteFile(filepath.Join(finalDir, ".committed"), []byte(now.UTC().Format(time.RFC3339)), 0o640); err != nil {
		return types.Artifact{}, fmt.Errorf("content: write commit sentinel: %w", err)
	}

	return artifact, nil
}

// Path returns the final directory for a reference, without checking
// whether it has been committed.
func (s *Store) Path(kind types.Kind, createdAt time.Time, referenceID string) string {
	return s.finalDir(kind, createdAt, referenceID)
}

// Committed reports whether dir carries the .committed sentinel.
func (s *Store) Committed(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".committed"))
	return err == nil
}

// Reclaim walks the store root and removes any directory that looks like a
// staged artifact (a "tmp-*" directory, or a final artifact directory
// lacking the .committed sentinel) left behind by a crash mid-commit.
func (s *Store) Reclaim() (int, error) {
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == s.root {
			return nil
		}
		base := filepath.Base(path)
		if len(base) >= 4 && base[:4] == "tmp-" {
			if rmErr := os.RemoveAll(path); rmErr == nil {
				removed++
			}
			return filepath.SkipDir
		}
		if looksLikeArtifactDir(path) && !s.Committed(path) {
			if rmErr := os.RemoveAll(path); rmErr == nil {
				removed++
			}
			return filepath.SkipDir
		}
		return nil
	})
	return removed, err
}

func looksLikeArtifactDir(path string) bool {
	_, err := os.Stat(filepath.Join(path, "metadata.json"))
	return err == nil
}

func (s *Store) finalDir(kind types.Kind, createdAt time.Time, referenceID string) string {
	return filepath.Join(s.root, string(kind),
		fmt.Sprintf("%04d", createdAt.Year()),
		fmt.Sprintf("%02d", createdAt.Month()),
		fmt.Sprintf("%02d", createdAt.Day()),
		referenceID)
}

func contentHash(files Files) string {
	h := sha256.New()
	if len(files.CleanedMarkdown) > 0 {
		h.Write(files.CleanedMarkdown)
	} else {
		h.Write(files.RawBytes)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeFileSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("content: open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("content: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("content: fsync %s: %w", path, err)
	}
	return f.Close()
}
