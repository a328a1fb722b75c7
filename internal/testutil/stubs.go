package testutil

import (
	"context"
	"fmt"
	"sync"

	"medup/internal/dedup"
)

// StubMetadataReader returns canned capture times keyed by path.
type StubMetadataReader struct {
	Times map[string]string
	Errs  map[string]error
}

func (r *StubMetadataReader) CaptureTime(path *dedup.Path) (string, bool, error) {
	if err := r.Errs[path.String()]; err != nil {
		return "", false, err
	}
	ts, ok := r.Times[path.String()]
	return ts, ok, nil
}

// StubPerceptualHasher returns canned signatures keyed by path.
type StubPerceptualHasher struct {
	Hashes map[string]uint64
}

func (h *StubPerceptualHasher) Hash(path *dedup.Path) (uint64, error) {
	sig, ok := h.Hashes[path.String()]
	if !ok {
		return 0, fmt.Errorf("cannot decode image: %s", path)
	}
	return sig, nil
}

// StubOracle returns a fixed list of similar pairs and records its calls.
type StubOracle struct {
	Matches []dedup.SimilarMatch
	Err     error

	mu    sync.Mutex
	calls [][2]string
}

func (o *StubOracle) FindSimilar(ctx context.Context, rootA, rootB string) ([]dedup.SimilarMatch, error) {
	o.mu.Lock()
	o.calls = append(o.calls, [2]string{rootA, rootB})
	o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Matches, nil
}

// Calls returns the (rootA, rootB) arguments of every call.
func (o *StubOracle) Calls() [][2]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][2]string(nil), o.calls...)
}
