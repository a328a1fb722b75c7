package similar

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"medup/internal/dedup"
)

// DefaultThreshold is the largest Hamming distance still reported as
// similar when none is configured.
const DefaultThreshold = 5

// Options tunes an Oracle.
type Options struct {
	Threshold int
	Workers   int
}

// Oracle proposes pairs of images whose perceptual signatures lie within
// a Hamming distance threshold. Files that cannot be decoded are skipped.
type Oracle struct {
	fsmgr     dedup.FilesystemManager
	hasher    dedup.PerceptualHasher
	threshold int
	workers   int
	logger    dedup.Logger
}

// NewOracle creates an Oracle. A zero Threshold uses DefaultThreshold.
func NewOracle(fsmgr dedup.FilesystemManager, hasher dedup.PerceptualHasher, opts Options, logger dedup.Logger) *Oracle {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = dedup.NewNopLogger()
	}
	return &Oracle{
		fsmgr:     fsmgr,
		hasher:    hasher,
		threshold: opts.Threshold,
		workers:   opts.Workers,
		logger:    logger,
	}
}

type signature struct {
	path string
	hash uint64
}

// FindSimilar compares every image under rootA with every other one, or
// with every image under rootB when rootB is set. Score is the distance.
func (o *Oracle) FindSimilar(ctx context.Context, rootA, rootB string) ([]dedup.SimilarMatch, error) {
	left, err := o.signatures(ctx, rootA)
	if err != nil {
		return nil, err
	}

	var matches []dedup.SimilarMatch
	if rootB == "" {
		for i := 0; i < len(left); i++ {
			for j := i + 1; j < len(left); j++ {
				matches = o.compare(matches, left[i], left[j])
			}
		}
		return matches, nil
	}

	right, err := o.signatures(ctx, rootB)
	if err != nil {
		return nil, err
	}
	for _, l := range left {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, r := range right {
			matches = o.compare(matches, l, r)
		}
	}
	return matches, nil
}

func (o *Oracle) compare(matches []dedup.SimilarMatch, a, b signature) []dedup.SimilarMatch {
	if d := Distance(a.hash, b.hash); d <= o.threshold {
		matches = append(matches, dedup.SimilarMatch{PathA: a.path, PathB: b.path, Score: float64(d)})
	}
	return matches
}

// signatures hashes every image below root in lexical path order.
func (o *Oracle) signatures(ctx context.Context, root string) ([]signature, error) {
	rp, err := o.fsmgr.Resolve(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	files, _, err := o.fsmgr.FindFiles(ctx, rp)
	if err != nil {
		return nil, fmt.Errorf("finding images under %s: %w", root, err)
	}

	var images []*dedup.Path
	for _, f := range files {
		if f.Class() == dedup.ClassImage {
			images = append(images, f)
		}
	}

	hashes := make([]uint64, len(images))
	ok := make([]bool, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, p := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := o.hasher.Hash(p)
			if err != nil {
				o.logger.Debug("skipping undecodable image", "path", p.String(), "err", err)
				return nil
			}
			hashes[i], ok[i] = h, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sigs := make([]signature, 0, len(images))
	for i, p := range images {
		if ok[i] {
			sigs = append(sigs, signature{path: p.String(), hash: hashes[i]})
		}
	}
	o.logger.Debug("perceptual signatures computed", "root", root, "images", len(images), "hashed", len(sigs))
	return sigs, nil
}

var _ dedup.SimilarityOracle = (*Oracle)(nil)
