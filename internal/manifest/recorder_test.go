package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frozen = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestHash_DeterministicAcrossNames(t *testing.T) {
	dir := t.TempDir()
	// Larger than one chunk so the streaming path is exercised.
	data := []byte(strings.Repeat("elevation", 3000))
	a := writeFile(t, filepath.Join(dir, "a.tif"), data)
	b := writeFile(t, filepath.Join(dir, "copy_of_a.tif"), data)

	h1, err := Hash(a)
	require.NoError(t, err)
	h2, err := Hash(a)
	require.NoError(t, err)
	h3, err := Hash(b)
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), h1)
	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, h3)
}

func TestHash_MissingFile(t *testing.T) {
	_, err := Hash(filepath.Join(t.TempDir(), "nope.tif"))
	assert.True(t, errors.Is(err, domain.ErrInvalidFile))
}

func TestRecord(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, filepath.Join(root, "raw", "dem", "srtm.tif"), []byte("dem-bytes"))
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	r := New(root, clockwork.NewFakeClockAt(frozen))
	m, err := r.Record(path, "USGS EarthExplorer", "USGS EarthExplorer DEM data", domain.DataTypeDEM,
		map[string]any{"original_path": "/downloads/srtm.tif"})
	require.NoError(t, err)

	assert.Equal(t, "srtm.tif", m.Filename)
	assert.Equal(t, "raw/dem/srtm.tif", m.Filepath)
	assert.Equal(t, "USGS EarthExplorer", m.Source)
	assert.Equal(t, domain.DataTypeDEM, m.DataType)
	assert.Equal(t, int64(len("dem-bytes")), m.SizeBytes)
	assert.True(t, m.ModifiedAt.Equal(mtime))
	assert.False(t, m.CreatedAt.IsZero())
	assert.True(t, m.IngestedAt.Equal(frozen))
	assert.Equal(t, "sha256", m.HashType)
	assert.Len(t, m.Hash, 64)
	assert.Equal(t, "/downloads/srtm.tif", m.Extra["original_path"])
}

func TestRecord_MissingFile(t *testing.T) {
	r := New(t.TempDir(), nil)
	_, err := r.Record("does/not/exist.tif", "s", "d", domain.DataTypeDEM, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidFile))
}

func TestSave_IndentedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metadata.json")
	require.NoError(t, Save(path, map[string]any{"a": 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(data))
}

func TestConsolidate_SkipsMissing(t *testing.T) {
	root := t.TempDir()
	r := New(root, clockwork.NewFakeClockAt(frozen))

	var files []string
	for _, name := range []string{"dem", "satellite"} {
		data := writeFile(t, filepath.Join(root, "raw", name, name+".tif"), []byte(name))
		m, err := r.Record(data, name, name, name, nil)
		require.NoError(t, err)
		mp := filepath.Join(root, "raw", name, Filename)
		require.NoError(t, Save(mp, m))
		files = append(files, mp)
	}
	files = append(files, filepath.Join(root, "raw", "osm", Filename))

	out := filepath.Join(root, "raw", Filename)
	c, err := r.ConsolidateTo(files, out)
	require.NoError(t, err)

	assert.Equal(t, 2, c.TotalFiles)
	assert.Len(t, c.Files, 2)
	assert.True(t, c.IngestionDate.Equal(frozen))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 2, decoded["total_files"])
	assert.Contains(t, decoded, "ingestion_date")
}

func TestConsolidate_FlattensArrays(t *testing.T) {
	root := t.TempDir()
	r := New(root, clockwork.NewFakeClockAt(frozen))

	layers := []domain.Manifest{
		{Filename: "buildings.geojson", HashType: domain.HashType},
		{Filename: "roads.geojson", HashType: domain.HashType},
	}
	osm := filepath.Join(root, "raw", "osm", Filename)
	require.NoError(t, Save(osm, layers))

	c, err := r.Consolidate([]string{osm})
	require.NoError(t, err)
	require.Equal(t, 2, c.TotalFiles)
	assert.Equal(t, "buildings.geojson", c.Files[0].Filename)
	assert.Equal(t, "roads.geojson", c.Files[1].Filename)
}

func TestConsolidate_MalformedManifest(t *testing.T) {
	root := t.TempDir()
	bad := writeFile(t, filepath.Join(root, Filename), []byte("{not json"))

	_, err := New(root, nil).Consolidate([]string{bad})
	assert.True(t, errors.Is(err, domain.ErrInvalidFile))
}

func TestConsolidate_Empty(t *testing.T) {
	c, err := New(t.TempDir(), clockwork.NewFakeClockAt(frozen)).Consolidate(nil)
	require.NoError(t, err)
	assert.Zero(t, c.TotalFiles)
	assert.NotNil(t, c.Files)
}
