// Package treediff compares two directory trees file by file. Files are
// paired by their path relative to each root and compared by content hash.
package treediff

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"medup/internal/dedup"
)

// Result lists the relative paths that do not line up between two trees.
type Result struct {
	Left  string
	Right string

	OnlyLeft  []string
	OnlyRight []string
	// Differ holds paths present in both trees with different content.
	Differ []string
	// Same counts paths present in both trees with identical content.
	Same int
	// Unreadable holds files that could not be listed or hashed, by
	// absolute path.
	Unreadable []dedup.SkippedFile
}

// Identical reports whether both trees hold the same files with the same
// content. Unreadable files make the answer false.
func (r *Result) Identical() bool {
	return len(r.OnlyLeft) == 0 && len(r.OnlyRight) == 0 && len(r.Differ) == 0 && len(r.Unreadable) == 0
}

// Differ compares trees through a FilesystemManager.
type Differ struct {
	fsmgr   dedup.FilesystemManager
	fp      *dedup.Fingerprinter
	workers int
	logger  dedup.Logger
}

// New creates a Differ. workers <= 0 uses GOMAXPROCS; logger may be nil.
func New(fsmgr dedup.FilesystemManager, fp *dedup.Fingerprinter, workers int, logger dedup.Logger) *Differ {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = dedup.NewNopLogger()
	}
	return &Differ{fsmgr: fsmgr, fp: fp, workers: workers, logger: logger}
}

// Diff walks both roots and classifies every relative path. Files of
// different sizes differ without being read.
func (d *Differ) Diff(ctx context.Context, left, right *dedup.Path) (*Result, error) {
	res := &Result{Left: left.String(), Right: right.String()}

	leftFiles, err := d.list(ctx, left, res)
	if err != nil {
		return nil, err
	}
	rightFiles, err := d.list(ctx, right, res)
	if err != nil {
		return nil, err
	}

	var common []string
	for rel := range leftFiles {
		if _, ok := rightFiles[rel]; ok {
			common = append(common, rel)
		} else {
			res.OnlyLeft = append(res.OnlyLeft, rel)
		}
	}
	for rel := range rightFiles {
		if _, ok := leftFiles[rel]; !ok {
			res.OnlyRight = append(res.OnlyRight, rel)
		}
	}
	sort.Strings(common)

	same := make([]bool, len(common))
	failed := make([]*dedup.SkippedFile, len(common))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, rel := range common {
		a, b := leftFiles[rel], rightFiles[rel]
		if a.Size() != b.Size() {
			continue
		}
		g.Go(func() error {
			eq, skip, err := d.equal(gctx, a, b)
			if err != nil {
				return err
			}
			same[i], failed[i] = eq, skip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, rel := range common {
		switch {
		case failed[i] != nil:
			res.Unreadable = append(res.Unreadable, *failed[i])
		case same[i]:
			res.Same++
		default:
			res.Differ = append(res.Differ, rel)
		}
	}

	sort.Strings(res.OnlyLeft)
	sort.Strings(res.OnlyRight)
	sort.Slice(res.Unreadable, func(i, j int) bool { return res.Unreadable[i].Path < res.Unreadable[j].Path })
	d.logger.Debug("tree diff complete", "left", res.Left, "right", res.Right,
		"only_left", len(res.OnlyLeft), "only_right", len(res.OnlyRight), "differ", len(res.Differ), "same", res.Same)
	return res, nil
}

// list maps every file below root by its path relative to root.
func (d *Differ) list(ctx context.Context, root *dedup.Path, res *Result) (map[string]*dedup.Path, error) {
	if !root.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root.String())
	}
	files, skipped, err := d.fsmgr.FindFiles(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root.String(), err)
	}
	res.Unreadable = append(res.Unreadable, skipped...)

	out := make(map[string]*dedup.Path, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root.String(), f.String())
		if err != nil {
			return nil, fmt.Errorf("relative path of %s: %w", f.String(), err)
		}
		out[rel] = f
	}
	return out, nil
}

// equal hashes both files. A read failure is reported as skip rather than
// aborting the walk.
func (d *Differ) equal(ctx context.Context, a, b *dedup.Path) (bool, *dedup.SkippedFile, error) {
	var sums [2]dedup.Fingerprint
	for i, p := range []*dedup.Path{a, b} {
		fp, err := d.fp.Fingerprint(ctx, p, p.Class(), dedup.ModeExact)
		if err != nil {
			var ferr *dedup.FileError
			if errors.As(err, &ferr) {
				d.logger.Warn("cannot compare file", "path", p.String(), "err", err)
				return false, &dedup.SkippedFile{Path: p.String(), Err: err}, nil
			}
			return false, nil, err
		}
		sums[i] = fp
	}
	return sums[0] == sums[1], nil, nil
}
