package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/sourcegraph/conc/pool"

	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
)

// ScanOptions controls a directory scan.
type ScanOptions struct {
	// Skip lists paths that live in the directory but are not segments, such
	// as the version-coordination file.
	Skip    []string
	Workers int
	Logger  *slog.Logger
}

// Skipped records a file the scan could not load.
type Skipped struct {
	Path string
	Err  error
}

// ScanResult is the outcome of a full directory scan.
type ScanResult struct {
	Segments map[string]*Segment
	Skipped  []Skipped
}

// Scan loads every segment file directly inside dir. Files that are empty or
// fail to decode are skipped and reported; only an unreadable directory is an
// error.
func Scan(ctx context.Context, dir string, opts ScanOptions) (*ScanResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading segments directory %s: %w", dir, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "segment-scan")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	skip := make(map[string]struct{}, len(opts.Skip))
	for _, p := range opts.Skip {
		skip[filepath.Clean(p)] = struct{}{}
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsCandidate(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, ok := skip[path]; ok {
			logger.Debug("skipping non-segment file", "path", path)
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	type loaded struct {
		path string
		seg  *Segment
		err  error
	}
	p := pool.NewWithResults[loaded]().WithMaxGoroutines(workers)
	for _, path := range paths {
		p.Go(func() loaded {
			if ctx.Err() != nil {
				return loaded{path: path, err: ctx.Err()}
			}
			seg, err := Load(path)
			return loaded{path: path, seg: seg, err: err}
		})
	}

	result := &ScanResult{Segments: make(map[string]*Segment, len(paths))}
	for _, l := range p.Wait() {
		if l.err != nil {
			if errors.Is(l.err, context.Canceled) || errors.Is(l.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("scanning %s: %w", dir, l.err)
			}
			if errors.Is(l.err, apperrors.ErrEmptySegment) {
				logger.Info("segment file is empty, skipping", "path", l.path)
			} else {
				logger.Warn("failed to load segment, skipping", "path", l.path, "error", l.err)
			}
			result.Skipped = append(result.Skipped, Skipped{Path: l.path, Err: l.err})
			continue
		}
		result.Segments[l.path] = l.seg
		logger.Debug("segment loaded", "path", l.path, "terms", l.seg.Terms(), "version", l.seg.Version)
	}
	sort.Slice(result.Skipped, func(i, j int) bool {
		return result.Skipped[i].Path < result.Skipped[j].Path
	})
	return result, nil
}
