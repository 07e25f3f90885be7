package segment

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Writer serialises term postings into new segment files.
type Writer struct {
	dataDir string
	now     func() time.Time
	seq     atomic.Uint64
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir, now: time.Now}
}

// Write atomically creates a new segment file containing data. It writes to a
// temporary file first and renames on success, so watchers only ever see a
// complete file under the final name.
func (w *Writer) Write(data map[string][]uint64, version string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	name := fmt.Sprintf("seg_%d_%04d.json", w.now().UnixNano(), w.seq.Add(1))
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := filepath.Join(w.dataDir, "."+name+TempSuffix)

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer os.Remove(tmpPath)
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := json.NewEncoder(bw).Encode(Segment{Data: data, Version: version}); err != nil {
		return "", fmt.Errorf("encoding segment: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("writing segment: %w", err)
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
	return finalPath, nil
}
