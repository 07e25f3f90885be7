// Package segment defines the immutable on-disk unit of index data and the
// helpers that read, scan, and write segment files.
//
// A segment file is a JSON record:
//
//	{"data": {"cat": [1, 2]}, "version": "v1"}
//
// A zero-byte file is a placeholder and is never decoded.
package segment

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
)

// TempSuffix marks files a Writer has not finished yet.
const TempSuffix = ".tmp"

// Segment maps terms to ordered document ids. It must not be mutated after
// construction; stores share it between snapshots.
type Segment struct {
	ID      string              `json:"-"`
	Data    map[string][]uint64 `json:"data"`
	Version string              `json:"version"`
}

// Lookup returns the posting list for term, or nil.
func (s *Segment) Lookup(term string) []uint64 {
	return s.Data[term]
}

// Terms returns the number of distinct terms.
func (s *Segment) Terms() int {
	return len(s.Data)
}

// Postings returns the total number of document references.
func (s *Segment) Postings() int {
	total := 0
	for _, ids := range s.Data {
		total += len(ids)
	}
	return total
}

// Decode reads one segment record from r.
func Decode(id string, r io.Reader) (*Segment, error) {
	var seg Segment
	if err := json.NewDecoder(r).Decode(&seg); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", apperrors.ErrInvalidSegment, id, err)
	}
	if seg.Data == nil {
		return nil, fmt.Errorf("%w: %s has no data", apperrors.ErrInvalidSegment, id)
	}
	seg.ID = id
	return &seg, nil
}

// Load opens and decodes the segment file at path. The segment's ID is the
// cleaned path. Empty files yield ErrEmptySegment.
func Load(path string) (*Segment, error) {
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", apperrors.ErrInvalidSegment, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrEmptySegment, path)
	}
	return Decode(path, bufio.NewReader(f))
}

// IsCandidate reports whether name looks like a segment file rather than an
// in-progress write or a hidden file.
func IsCandidate(name string) bool {
	base := filepath.Base(name)
	return !strings.HasPrefix(base, ".") && !strings.HasSuffix(base, TempSuffix)
}
