package dedup_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"medup/internal/dedup"
	"medup/internal/testutil"
)

// newGroupLedger builds a ledger over n disjoint exact-duplicate pairs:
// /A/i.jpg <-> /B/i.jpg.
func newGroupLedger(t *testing.T, n int) *dedup.Ledger {
	t.Helper()
	fsmgr := testutil.NewMockFilesystemManager()
	for i := 0; i < n; i++ {
		content := []byte(fmt.Sprintf("content %d", i))
		fsmgr.AddFile(fmt.Sprintf("/A/%d.jpg", i), content)
		fsmgr.AddFile(fmt.Sprintf("/B/%d.jpg", i), content)
	}
	a := buildIndex(t, fsmgr, "/A", dedup.ModeExact, dedup.IndexOptions{})
	b := buildIndex(t, fsmgr, "/B", dedup.ModeExact, dedup.IndexOptions{})
	set, err := dedup.NewMatcher(nil, nil).MatchCross(context.Background(), a, b)
	if err != nil {
		t.Fatalf("MatchCross() error = %v", err)
	}
	return dedup.NewLedger(set)
}

func TestLedger_SetAllThenToggle(t *testing.T) {
	const n = 5
	l := newGroupLedger(t, n)

	if got := len(l.ApprovedDeletions()); got != 0 {
		t.Fatalf("fresh ledger has %d approvals, want 0", got)
	}

	l.SetAll(dedup.SideLeft, true)
	key, err := l.KeyAt(3)
	if err != nil {
		t.Fatalf("KeyAt(3) error = %v", err)
	}
	entry, err := l.Toggle(key, dedup.SideLeft)
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if entry.DeleteLeft {
		t.Error("Toggle() left flag still set")
	}

	approved := l.ApprovedDeletions()
	if len(approved) != n-1 {
		t.Fatalf("len(ApprovedDeletions()) = %d, want %d", len(approved), n-1)
	}
	for _, a := range approved {
		if a.Side != dedup.SideLeft {
			t.Errorf("approval %s on side %v, want left", a.Path, a.Side)
		}
		if a.Key == key {
			t.Errorf("toggled pair %v still approved", key)
		}
	}
}

func TestLedger_ApprovedDeletionsDeduplicates(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/p/a.jpg", []byte("same"))
	fsmgr.AddFile("/p/b.jpg", []byte("same"))
	fsmgr.AddFile("/p/c.jpg", []byte("same"))
	idx := buildIndex(t, fsmgr, "/p", dedup.ModeExact, dedup.IndexOptions{})
	set, err := dedup.NewMatcher(nil, nil).MatchSingle(context.Background(), idx)
	if err != nil {
		t.Fatalf("MatchSingle() error = %v", err)
	}
	l := dedup.NewLedger(set)

	// b.jpg is right of (a, b) and left of (b, c).
	if _, err := l.Set(dedup.NewPairKey("/p/a.jpg", "/p/b.jpg"), dedup.SideRight, true); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Set(dedup.NewPairKey("/p/b.jpg", "/p/c.jpg"), dedup.SideLeft, true); err != nil {
		t.Fatal(err)
	}

	approved := l.ApprovedDeletions()
	if len(approved) != 1 {
		t.Fatalf("ApprovedDeletions() = %v, want b.jpg once", approved)
	}
	if approved[0].Path != "/p/b.jpg" || approved[0].Size != 4 {
		t.Errorf("approval = %+v, want /p/b.jpg size 4", approved[0])
	}
}

func TestLedger_UnknownPair(t *testing.T) {
	l := newGroupLedger(t, 2)

	if _, err := l.KeyAt(0); !errors.Is(err, dedup.ErrUnknownPair) {
		t.Errorf("KeyAt(0) error = %v, want ErrUnknownPair", err)
	}
	if _, err := l.KeyAt(3); !errors.Is(err, dedup.ErrUnknownPair) {
		t.Errorf("KeyAt(3) error = %v, want ErrUnknownPair", err)
	}
	if _, err := l.Toggle(dedup.NewPairKey("/x", "/y"), dedup.SideLeft); !errors.Is(err, dedup.ErrUnknownPair) {
		t.Errorf("Toggle() error = %v, want ErrUnknownPair", err)
	}
}

func TestLedger_PrunePath(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/p/a.jpg", []byte("same"))
	fsmgr.AddFile("/p/b.jpg", []byte("same"))
	fsmgr.AddFile("/p/c.jpg", []byte("same"))
	idx := buildIndex(t, fsmgr, "/p", dedup.ModeExact, dedup.IndexOptions{})
	set, err := dedup.NewMatcher(nil, nil).MatchSingle(context.Background(), idx)
	if err != nil {
		t.Fatalf("MatchSingle() error = %v", err)
	}
	l := dedup.NewLedger(set)

	removed := l.PrunePath("/p/a.jpg")
	if len(removed) != 2 {
		t.Errorf("PrunePath() removed %d pairs, want 2", len(removed))
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	remaining := l.Entries()[0].Pair.Key()
	if remaining != dedup.NewPairKey("/p/b.jpg", "/p/c.jpg") {
		t.Errorf("remaining pair = %v, want (b, c)", remaining)
	}
	if _, ok := l.Entry(dedup.NewPairKey("/p/a.jpg", "/p/b.jpg")); ok {
		t.Error("pruned pair still reachable by key")
	}
}

func TestNewLedgerFromEntries_DropsDuplicates(t *testing.T) {
	left := dedup.FileRecord{Path: "/p/a.jpg"}
	right := dedup.FileRecord{Path: "/p/b.jpg"}
	l := dedup.NewLedgerFromEntries([]dedup.ReviewEntry{
		{Pair: dedup.CandidatePair{Left: left, Right: right}, DeleteLeft: true},
		{Pair: dedup.CandidatePair{Left: right, Right: left}},
	})
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	if !l.Entries()[0].DeleteLeft {
		t.Error("first entry's flags not kept")
	}
}
