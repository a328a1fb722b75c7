package dedup

import (
	"fmt"
	"sync"
)

// ReviewEntry holds the user's deletion choice for one candidate pair.
type ReviewEntry struct {
	Pair        CandidatePair
	DeleteLeft  bool
	DeleteRight bool
}

// Flag returns the deletion flag on side.
func (e ReviewEntry) Flag(side Side) bool {
	if side == SideRight {
		return e.DeleteRight
	}
	return e.DeleteLeft
}

func (e *ReviewEntry) set(side Side, value bool) {
	if side == SideRight {
		e.DeleteRight = value
	} else {
		e.DeleteLeft = value
	}
}

// Approval is one path the user has marked for deletion. Key and Side
// identify the first entry that marked it.
type Approval struct {
	Path string
	Size uint64
	Key  PairKey
	Side Side
}

// Ledger is the working set of candidate pairs and their review flags for
// one scan. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []*ReviewEntry
	byKey   map[PairKey]*ReviewEntry
}

// NewLedger creates a ledger with every flag cleared, one entry per pair
// in set order.
func NewLedger(set *CandidateSet) *Ledger {
	entries := make([]ReviewEntry, 0, set.Len())
	for _, p := range set.Pairs() {
		entries = append(entries, ReviewEntry{Pair: p})
	}
	return NewLedgerFromEntries(entries)
}

// NewLedgerFromEntries rebuilds a ledger from persisted entries. Later
// duplicates of an unordered pair are dropped.
func NewLedgerFromEntries(entries []ReviewEntry) *Ledger {
	l := &Ledger{byKey: make(map[PairKey]*ReviewEntry, len(entries))}
	for i := range entries {
		e := entries[i]
		key := e.Pair.Key()
		if _, ok := l.byKey[key]; ok {
			continue
		}
		l.entries = append(l.entries, &e)
		l.byKey[key] = &e
	}
	return l
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a snapshot of all entries in order.
func (l *Ledger) Entries() []ReviewEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ReviewEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// Entry returns the entry for key.
func (l *Ledger) Entry(key PairKey) (ReviewEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byKey[key]
	if !ok {
		return ReviewEntry{}, false
	}
	return *e, true
}

// KeyAt resolves a 1-based position in the current ordering to a key.
func (l *Ledger) KeyAt(n int) (PairKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 1 || n > len(l.entries) {
		return PairKey{}, fmt.Errorf("pair %d out of range (1-%d): %w", n, len(l.entries), ErrUnknownPair)
	}
	return l.entries[n-1].Pair.Key(), nil
}

// Toggle flips the flag on one side of one pair and returns the new entry.
func (l *Ledger) Toggle(key PairKey, side Side) (ReviewEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byKey[key]
	if !ok {
		return ReviewEntry{}, fmt.Errorf("%s: %w", key, ErrUnknownPair)
	}
	e.set(side, !e.Flag(side))
	return *e, nil
}

// Set assigns the flag on one side of one pair.
func (l *Ledger) Set(key PairKey, side Side, value bool) (ReviewEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byKey[key]
	if !ok {
		return ReviewEntry{}, fmt.Errorf("%s: %w", key, ErrUnknownPair)
	}
	e.set(side, value)
	return *e, nil
}

// SetAll assigns value to side on every entry.
func (l *Ledger) SetAll(side Side, value bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		e.set(side, value)
	}
}

// ApprovedDeletions lists every marked path once, in ledger order, left
// before right within an entry.
func (l *Ledger) ApprovedDeletions() []Approval {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{})
	var out []Approval
	for _, e := range l.entries {
		for _, side := range []Side{SideLeft, SideRight} {
			if !e.Flag(side) {
				continue
			}
			rec := e.Pair.Record(side)
			if _, ok := seen[rec.Path]; ok {
				continue
			}
			seen[rec.Path] = struct{}{}
			out = append(out, Approval{Path: rec.Path, Size: rec.Size, Key: e.Pair.Key(), Side: side})
		}
	}
	return out
}

// PrunePath removes every entry with path on either side and returns the
// removed keys.
func (l *Ledger) PrunePath(path string) []PairKey {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []PairKey
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Pair.Left.Path == path || e.Pair.Right.Path == path {
			key := e.Pair.Key()
			delete(l.byKey, key)
			removed = append(removed, key)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = kept
	return removed
}
