package segment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.json", `{"data":{"cat":[1,2],"dog":[2]},"version":"v1"}`)

	seg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, seg.ID)
	assert.Equal(t, "v1", seg.Version)
	assert.Equal(t, []uint64{1, 2}, seg.Lookup("cat"))
	assert.Nil(t, seg.Lookup("bird"))
	assert.Equal(t, 2, seg.Terms())
	assert.Equal(t, 3, seg.Postings())
}

func TestLoadRejectsEmptyAndInvalid(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeFile(t, dir, "empty.json", ""))
	assert.ErrorIs(t, err, apperrors.ErrEmptySegment)

	_, err = Load(writeFile(t, dir, "broken.json", `{"data":`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSegment)

	_, err = Load(writeFile(t, dir, "nodata.json", `{"version":"v1"}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSegment)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestScanSkipsBadFilesAndVersion(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", `{"data":{"cat":[1,2]},"version":"v1"}`)
	b := writeFile(t, dir, "b.json", `{"data":{"cat":[3]},"version":"v1"}`)
	writeFile(t, dir, "empty.json", "")
	writeFile(t, dir, "broken.json", "not json")
	writeFile(t, dir, ".seg_1.json.tmp", `{"data":{}}`)
	version := writeFile(t, dir, "version", `{"version":"v1"}`)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	res, err := Scan(context.Background(), dir, ScanOptions{Skip: []string{version}, Workers: 3})
	require.NoError(t, err)

	assert.Len(t, res.Segments, 2)
	assert.Contains(t, res.Segments, a)
	assert.Contains(t, res.Segments, b)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, filepath.Join(dir, "broken.json"), res.Skipped[0].Path)
	assert.ErrorIs(t, res.Skipped[1].Err, apperrors.ErrEmptySegment)
}

func TestScanUnreadableDirectory(t *testing.T) {
	_, err := Scan(context.Background(), filepath.Join(t.TempDir(), "missing"), ScanOptions{})
	assert.Error(t, err)
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	path, err := w.Write(map[string][]uint64{"cat": {4, 1, 4}}, "v7")
	require.NoError(t, err)
	assert.True(t, IsCandidate(path))

	seg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 1, 4}, seg.Lookup("cat"), "order and duplicates are preserved")
	assert.Equal(t, "v7", seg.Version)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is gone after rename")

	_, err = w.Write(nil, "v8")
	assert.Error(t, err)
}

func TestVersionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "version")
	require.NoError(t, WriteVersion(path, "2024-01"))

	rec, err := ReadVersion(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-01", rec.Version)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = ReadVersion(path)
	assert.Error(t, err)
}

func TestIsCandidate(t *testing.T) {
	assert.True(t, IsCandidate("/data/seg_1.json"))
	assert.False(t, IsCandidate("/data/.seg_1.json.tmp"))
	assert.False(t, IsCandidate("seg_1.json.tmp"))
	assert.False(t, IsCandidate(".hidden"))
}
