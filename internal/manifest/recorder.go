// Package manifest records provenance and integrity metadata for every file
// the pipeline touches and consolidates per-category manifests.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// chunkSize is the read size used while hashing.
const chunkSize = 8192

// Filename is the per-category and per-area manifest file name.
const Filename = "metadata.json"

// Recorder builds, saves and consolidates manifests.
type Recorder struct {
	root  string
	clock clockwork.Clock
}

// New creates a Recorder. Manifest file paths are recorded relative to root.
// A nil clock uses real time.
func New(root string, clock clockwork.Clock) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{root: root, clock: clock}
}

// Hash returns the lowercase hex SHA-256 digest of the file at path.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, classifyOpen(err))
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %v: %w", path, err, domain.ErrIO)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Record builds the manifest for the file at path. extra is flattened into
// the manifest after the fixed fields.
func (r *Recorder) Record(path, source, description, dataType string, extra map[string]any) (domain.Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("record %s: %w", path, classifyOpen(err))
	}
	if info.IsDir() {
		return domain.Manifest{}, fmt.Errorf("record %s: is a directory: %w", path, domain.ErrInvalidFile)
	}

	digest, err := Hash(path)
	if err != nil {
		return domain.Manifest{}, err
	}

	m := domain.Manifest{
		Filename:    filepath.Base(path),
		Filepath:    r.relative(path),
		Source:      source,
		Description: description,
		DataType:    dataType,
		SizeBytes:   info.Size(),
		CreatedAt:   createdAt(info).UTC(),
		ModifiedAt:  info.ModTime().UTC(),
		IngestedAt:  r.clock.Now().UTC(),
		HashType:    domain.HashType,
		Hash:        digest,
	}
	if len(extra) > 0 {
		m.Extra = make(map[string]any, len(extra))
		for k, v := range extra {
			m.Extra[k] = v
		}
	}
	return m, nil
}

func (r *Recorder) relative(path string) string {
	if r.root == "" {
		return filepath.ToSlash(path)
	}
	absRoot, err1 := filepath.Abs(r.root)
	absPath, err2 := filepath.Abs(path)
	if err1 != nil || err2 != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Save writes v as 2-space indented JSON to path, creating parent
// directories as needed.
func Save(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %v: %w", filepath.Dir(path), err, domain.ErrIO)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %v: %w", path, err, domain.ErrIO)
	}
	return nil
}

// Load reads the manifests stored at path. A file may hold a single
// manifest object or an array of them.
func Load(path string) ([]domain.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, classifyOpen(err))
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var ms []domain.Manifest
		if err := json.Unmarshal(data, &ms); err != nil {
			return nil, fmt.Errorf("decode %s: %v: %w", path, err, domain.ErrInvalidFile)
		}
		return ms, nil
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", path, err, domain.ErrInvalidFile)
	}
	return []domain.Manifest{m}, nil
}

// Consolidate merges the manifests stored in files into one document.
// Missing files are skipped; unreadable or malformed ones are errors.
func (r *Recorder) Consolidate(files []string) (domain.ConsolidatedManifest, error) {
	out := domain.ConsolidatedManifest{
		IngestionDate: r.clock.Now().UTC(),
		Files:         []domain.Manifest{},
	}
	for _, path := range files {
		ms, err := Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return domain.ConsolidatedManifest{}, err
		}
		out.Files = append(out.Files, ms...)
	}
	out.TotalFiles = len(out.Files)
	return out, nil
}

// ConsolidateTo consolidates files and saves the result to out.
func (r *Recorder) ConsolidateTo(files []string, out string) (domain.ConsolidatedManifest, error) {
	c, err := r.Consolidate(files)
	if err != nil {
		return c, err
	}
	return c, Save(out, c)
}

// Now returns the recorder's current time.
func (r *Recorder) Now() time.Time {
	return r.clock.Now()
}

func classifyOpen(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Join(domain.ErrInvalidFile, err)
	}
	return errors.Join(domain.ErrIO, err)
}
