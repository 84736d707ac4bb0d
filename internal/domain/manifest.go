package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// HashType names the digest algorithm recorded in every manifest.
const HashType = "sha256"

// Data types recorded in manifests.
const (
	DataTypeDEM       = "dem"
	DataTypeSatellite = "satellite"
	DataTypeVector    = "vector"
)

// Manifest describes a single file handled by the pipeline.
type Manifest struct {
	Filename    string
	Filepath    string // relative to the data root
	Source      string
	Description string
	DataType    string
	SizeBytes   int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	IngestedAt  time.Time
	HashType    string
	Hash        string

	// Extra holds stage-specific fields. They are written after the fixed
	// keys in sorted order and may not shadow a fixed key.
	Extra map[string]any
}

var manifestKeys = []string{
	"filename", "filepath", "source", "description", "data_type", "size_bytes",
	"created_at", "modified_at", "ingested_at", "hash_type", "hash",
}

// MarshalJSON writes the fixed keys in a stable order followed by the extra
// fields sorted by key.
func (m Manifest) MarshalJSON() ([]byte, error) {
	fixed := []any{
		m.Filename, m.Filepath, m.Source, m.Description, m.DataType, m.SizeBytes,
		m.CreatedAt, m.ModifiedAt, m.IngestedAt, m.HashType, m.Hash,
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range manifestKeys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, key, fixed[i]); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		if slices.Contains(manifestKeys, k) {
			return nil, fmt.Errorf("manifest extra field %q shadows a fixed key", k)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		buf.WriteByte(',')
		if err := writeMember(&buf, k, m.Extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, v any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal manifest field %q: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(val)
	return nil
}

type manifestFields struct {
	Filename    string    `json:"filename"`
	Filepath    string    `json:"filepath"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	DataType    string    `json:"data_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
	IngestedAt  time.Time `json:"ingested_at"`
	HashType    string    `json:"hash_type"`
	Hash        string    `json:"hash"`
}

// UnmarshalJSON reads the fixed keys and collects everything else into Extra.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var f manifestFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range manifestKeys {
		delete(all, k)
	}

	*m = Manifest{
		Filename:    f.Filename,
		Filepath:    f.Filepath,
		Source:      f.Source,
		Description: f.Description,
		DataType:    f.DataType,
		SizeBytes:   f.SizeBytes,
		CreatedAt:   f.CreatedAt,
		ModifiedAt:  f.ModifiedAt,
		IngestedAt:  f.IngestedAt,
		HashType:    f.HashType,
		Hash:        f.Hash,
	}
	if len(all) > 0 {
		m.Extra = all
	}
	return nil
}

// ConsolidatedManifest aggregates the manifests of one area.
type ConsolidatedManifest struct {
	IngestionDate time.Time  `json:"ingestion_date"`
	TotalFiles    int        `json:"total_files"`
	Files         []Manifest `json:"files"`
}
