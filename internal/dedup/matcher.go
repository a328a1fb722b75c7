package dedup

import (
	"context"
	"fmt"
)

// Side names one half of a candidate pair.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	if s == SideRight {
		return "right"
	}
	return "left"
}

// ParseSide accepts "left"/"l" and "right"/"r".
func ParseSide(s string) (Side, error) {
	switch s {
	case "left", "l":
		return SideLeft, nil
	case "right", "r":
		return SideRight, nil
	default:
		return SideLeft, fmt.Errorf("unknown side: %q (want left or right)", s)
	}
}

// PairKey is the unordered identity of a pair of absolute paths. A is
// always the lexically smaller path.
type PairKey struct {
	A string
	B string
}

// NewPairKey normalizes x and y into a PairKey.
func NewPairKey(x, y string) PairKey {
	if y < x {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

func (k PairKey) String() string {
	return k.A + " <-> " + k.B
}

// Reason records which detection pass proposed a pair.
type Reason string

const (
	ReasonContentHash Reason = "content-hash"
	ReasonSizeDate    Reason = "size-date"
	ReasonSizeOnly    Reason = "size"
	ReasonSimilar     Reason = "similar"
)

func reasonFor(k Kind) Reason {
	switch k {
	case KindContentHash:
		return ReasonContentHash
	case KindSizeDate:
		return ReasonSizeDate
	default:
		return ReasonSizeOnly
	}
}

// CandidatePair is two distinct files considered duplicates.
type CandidatePair struct {
	Left   FileRecord
	Right  FileRecord
	Reason Reason
	// Score is the oracle's distance for similarity pairs, 0 otherwise.
	Score float64
}

// Key returns the unordered identity of the pair.
func (p CandidatePair) Key() PairKey {
	return NewPairKey(p.Left.Path, p.Right.Path)
}

// Path returns the path on the given side.
func (p CandidatePair) Path(side Side) string {
	if side == SideRight {
		return p.Right.Path
	}
	return p.Left.Path
}

// Record returns the record on the given side.
func (p CandidatePair) Record(side Side) FileRecord {
	if side == SideRight {
		return p.Right
	}
	return p.Left
}

// CandidateSet is the ordered output of one matching run. Each unordered
// pair appears at most once.
type CandidateSet struct {
	pairs []CandidatePair
	seen  map[PairKey]struct{}
}

func newCandidateSet() *CandidateSet {
	return &CandidateSet{seen: make(map[PairKey]struct{})}
}

// add appends p unless it is a self-match, refers to one underlying file,
// or was already emitted. It reports whether p was added.
func (s *CandidateSet) add(p CandidatePair) bool {
	if p.Left.Path == p.Right.Path || p.Left.SameFile(p.Right) {
		return false
	}
	key := p.Key()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.pairs = append(s.pairs, p)
	return true
}

// Pairs returns the pairs in emission order.
func (s *CandidateSet) Pairs() []CandidatePair {
	out := make([]CandidatePair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

func (s *CandidateSet) Len() int {
	return len(s.pairs)
}

// Contains reports whether the unordered pair was emitted.
func (s *CandidateSet) Contains(key PairKey) bool {
	_, ok := s.seen[key]
	return ok
}

// SimilarMatch is one proposal from a SimilarityOracle.
type SimilarMatch struct {
	PathA string
	PathB string
	Score float64
}

// SimilarityOracle proposes near-duplicate pairs that exact fingerprints
// miss. rootB is empty for a single-tree search.
type SimilarityOracle interface {
	FindSimilar(ctx context.Context, rootA, rootB string) ([]SimilarMatch, error)
}

// Matcher turns indexes into candidate pairs. The optional oracle adds a
// second, similarity-based pass.
type Matcher struct {
	oracle SimilarityOracle
	logger Logger
}

// NewMatcher creates a Matcher. oracle may be nil.
func NewMatcher(oracle SimilarityOracle, logger Logger) *Matcher {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Matcher{oracle: oracle, logger: logger}
}

// MatchSingle pairs up every group of two or more files sharing a
// fingerprint inside one index. A group of k files yields k*(k-1)/2 pairs.
func (m *Matcher) MatchSingle(ctx context.Context, idx *Index) (*CandidateSet, error) {
	set := newCandidateSet()
	for _, fp := range idx.Fingerprints() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs := idx.Records(fp)
		for i := 0; i < len(recs); i++ {
			for j := i + 1; j < len(recs); j++ {
				set.add(CandidatePair{Left: recs[i], Right: recs[j], Reason: reasonFor(fp.Kind)})
			}
		}
	}

	if err := m.similarPass(ctx, set, idx, nil); err != nil {
		return nil, err
	}
	m.logger.Info("matched single tree", "root", idx.Root, "pairs", set.Len())
	return set, nil
}

// MatchCross pairs every file in a with every file in b sharing its
// fingerprint. Left is always from a and Right from b. Paths reaching the
// same underlying file are never paired.
func (m *Matcher) MatchCross(ctx context.Context, a, b *Index) (*CandidateSet, error) {
	if a.Mode != b.Mode {
		return nil, fmt.Errorf("cannot match indexes built with different modes: %s and %s", a.Mode, b.Mode)
	}

	set := newCandidateSet()
	for _, fp := range a.Fingerprints() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		right := b.Records(fp)
		if len(right) == 0 {
			continue
		}
		for _, l := range a.Records(fp) {
			for _, r := range right {
				set.add(CandidatePair{Left: l, Right: r, Reason: reasonFor(fp.Kind)})
			}
		}
	}

	if err := m.similarPass(ctx, set, a, b); err != nil {
		return nil, err
	}
	m.logger.Info("matched trees", "left", a.Root, "right", b.Root, "pairs", set.Len())
	return set, nil
}

// similarPass merges oracle proposals into set under the same
// at-most-once and same-file rules as exact matches. Oracle failures are
// logged and leave the exact results intact.
func (m *Matcher) similarPass(ctx context.Context, set *CandidateSet, a, b *Index) error {
	if m.oracle == nil {
		return nil
	}

	rootB := ""
	if b != nil {
		rootB = b.Root
	}
	matches, err := m.oracle.FindSimilar(ctx, a.Root, rootB)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("similarity search failed", "root", a.Root, "err", err)
		return nil
	}

	added := 0
	for _, sm := range matches {
		left, right, ok := resolveSimilar(sm, a, b)
		if !ok {
			m.logger.Debug("similar pair not indexed", "a", sm.PathA, "b", sm.PathB)
			continue
		}
		if set.add(CandidatePair{Left: left, Right: right, Reason: ReasonSimilar, Score: sm.Score}) {
			added++
		}
	}
	m.logger.Debug("similarity pass complete", "proposed", len(matches), "added", added)
	return nil
}

// resolveSimilar maps oracle paths back to indexed records, orienting the
// pair so Left comes from a in cross-tree mode.
func resolveSimilar(sm SimilarMatch, a, b *Index) (FileRecord, FileRecord, bool) {
	if b == nil {
		l, ok1 := a.Lookup(sm.PathA)
		r, ok2 := a.Lookup(sm.PathB)
		return l, r, ok1 && ok2
	}
	if l, ok := a.Lookup(sm.PathA); ok {
		if r, ok := b.Lookup(sm.PathB); ok {
			return l, r, true
		}
	}
	if l, ok := a.Lookup(sm.PathB); ok {
		if r, ok := b.Lookup(sm.PathA); ok {
			return l, r, true
		}
	}
	return FileRecord{}, FileRecord{}, false
}
