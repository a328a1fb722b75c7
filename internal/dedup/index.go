package dedup

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// FileRecord is one indexed file. Records are produced fresh by every scan
// and never modified afterwards.
type FileRecord struct {
	Path        string
	Size        uint64
	Class       MediaClass
	CaptureTime string
	Fingerprint Fingerprint
	ID          FileID
}

// SameFile reports whether both records point at the same underlying file.
// Unknown identities fall back to path comparison.
func (r FileRecord) SameFile(o FileRecord) bool {
	if !r.ID.IsZero() && !o.ID.IsZero() {
		return r.ID == o.ID
	}
	return r.Path == o.Path
}

// Index maps fingerprints to the records sharing them for one root.
type Index struct {
	Root    string
	Mode    Mode
	Files   int
	Skipped []SkippedFile

	groups map[Fingerprint][]FileRecord
	order  []Fingerprint
	byPath map[string]FileRecord
}

func newIndex(root string, mode Mode) *Index {
	return &Index{
		Root:   root,
		Mode:   mode,
		groups: make(map[Fingerprint][]FileRecord),
		byPath: make(map[string]FileRecord),
	}
}

func (ix *Index) add(rec FileRecord) {
	if _, ok := ix.groups[rec.Fingerprint]; !ok {
		ix.order = append(ix.order, rec.Fingerprint)
	}
	ix.groups[rec.Fingerprint] = append(ix.groups[rec.Fingerprint], rec)
	ix.byPath[rec.Path] = rec
	ix.Files++
}

// Fingerprints returns the distinct fingerprints in first-seen walk order.
func (ix *Index) Fingerprints() []Fingerprint {
	out := make([]Fingerprint, len(ix.order))
	copy(out, ix.order)
	return out
}

// Records returns the records sharing fp, in walk order.
func (ix *Index) Records(fp Fingerprint) []FileRecord {
	return ix.groups[fp]
}

// Lookup finds the record for an absolute path.
func (ix *Index) Lookup(path string) (FileRecord, bool) {
	rec, ok := ix.byPath[path]
	return rec, ok
}

// IndexOptions tunes the indexer. Zero values pick defaults.
type IndexOptions struct {
	Workers int
	MinSize uint64
}

// Indexer walks a tree and fingerprints every regular file.
type Indexer struct {
	fsmgr   FilesystemManager
	fp      *Fingerprinter
	workers int
	minSize uint64
	logger  Logger
}

// NewIndexer creates an Indexer. Workers defaults to GOMAXPROCS.
func NewIndexer(fsmgr FilesystemManager, fp *Fingerprinter, opts IndexOptions, logger Logger) *Indexer {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Indexer{
		fsmgr:   fsmgr,
		fp:      fp,
		workers: workers,
		minSize: opts.MinSize,
		logger:  logger,
	}
}

type fingerprintResult struct {
	rec FileRecord
	err error
}

// Index builds the fingerprint index for root. Files are fingerprinted in
// parallel and merged in walk order once all of them are done. Unreadable
// files are skipped and listed in Index.Skipped. If ctx is cancelled the
// partial index is discarded and ctx.Err() is returned.
func (ix *Indexer) Index(ctx context.Context, root *Path, mode Mode) (*Index, error) {
	if !root.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root.String())
	}

	files, skipped, err := ix.fsmgr.FindFiles(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("finding files: %w", err)
	}

	results := make([]fingerprintResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, p := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = ix.record(gctx, p, mode)
			if errors.Is(results[i].err, context.Canceled) || errors.Is(results[i].err, context.DeadlineExceeded) {
				return results[i].err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	index := newIndex(root.String(), mode)
	index.Skipped = append(index.Skipped, skipped...)
	for i, res := range results {
		if res.err != nil {
			ix.logger.Warn("skipping file", "path", files[i].String(), "err", res.err)
			index.Skipped = append(index.Skipped, SkippedFile{Path: files[i].String(), Err: res.err})
			continue
		}
		if res.rec.Path == "" {
			continue
		}
		index.add(res.rec)
	}

	ix.logger.Info("indexed tree", "root", root.String(), "mode", string(mode), "files", index.Files, "skipped", len(index.Skipped))
	return index, nil
}

// record fingerprints one file. A zero record with a nil error means the
// file was filtered out.
func (ix *Indexer) record(ctx context.Context, p *Path, mode Mode) fingerprintResult {
	if p.Size() < ix.minSize {
		return fingerprintResult{}
	}

	class := p.Class()
	fp, err := ix.fp.Fingerprint(ctx, p, class, mode)
	if err != nil {
		return fingerprintResult{err: err}
	}

	id, err := ix.fsmgr.Identify(p)
	if err != nil {
		ix.logger.Debug("file identity unavailable", "path", p.String(), "err", err)
	}

	return fingerprintResult{rec: FileRecord{
		Path:        p.String(),
		Size:        p.Size(),
		Class:       class,
		CaptureTime: fp.CaptureTime,
		Fingerprint: fp,
		ID:          id,
	}}
}
