package dedup_test

import (
	"context"
	"errors"
	"testing"

	"medup/internal/dedup"
	"medup/internal/testutil"
)

type serviceFixture struct {
	svc   *dedup.DedupService
	db    dedup.Database
	fsmgr *testutil.MockFilesystemManager
	trash dedup.Trash
}

func newServiceFixture(t *testing.T, oracle dedup.SimilarityOracle) *serviceFixture {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	fsmgr := testutil.NewMockFilesystemManager()
	tr := testutil.NewTestTrash(fsmgr)
	fp := dedup.NewFingerprinter(fsmgr, dedup.FingerprintOptions{})
	indexer := dedup.NewIndexer(fsmgr, fp, dedup.IndexOptions{Workers: 2}, nil)
	matcher := dedup.NewMatcher(oracle, nil)
	executor := dedup.NewExecutor(tr, fsmgr, 2, nil)
	svc := dedup.NewDedupService(db, tr, fsmgr, indexer, matcher, executor, dedup.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	return &serviceFixture{svc: svc, db: db, fsmgr: fsmgr, trash: tr}
}

func TestDedupService_Scan(t *testing.T) {
	t.Run("single tree of videos", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.fsmgr.AddFile("/v/x.mp4", make([]byte, 5000))
		f.fsmgr.AddFile("/v/y.mp4", make([]byte, 5000))
		f.fsmgr.AddFile("/v/z.mp4", make([]byte, 9999))

		res, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/v"}, Mode: dedup.ModeMetadata})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if res.Pairs != 1 || res.NoMatches {
			t.Fatalf("Scan() = %d pairs (no matches %v), want 1", res.Pairs, res.NoMatches)
		}
		entry := res.Session.Ledger.Entries()[0]
		if entry.Pair.Key() != dedup.NewPairKey("/v/x.mp4", "/v/y.mp4") {
			t.Errorf("pair = %v, want (x.mp4, y.mp4)", entry.Pair.Key())
		}
		if res.Session.Files != 3 {
			t.Errorf("Session.Files = %d, want 3", res.Session.Files)
		}
	})

	t.Run("no matches is not an error", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.fsmgr.AddFile("/p/a.jpg", []byte("a"))

		res, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/p"}})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if !res.NoMatches {
			t.Error("NoMatches = false, want true")
		}
		if res.Session.Mode != dedup.ModeExact {
			t.Errorf("Mode = %q, want exact default", res.Session.Mode)
		}
	})

	t.Run("unreadable file is skipped and counted", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.fsmgr.AddFile("/A/a.jpg", []byte("X"))
		f.fsmgr.AddFile("/A/b.jpg", []byte("Y"))
		f.fsmgr.AddFile("/B/c.jpg", []byte("X"))
		f.fsmgr.FailOpen("/A/b.jpg", errors.New("io error"))

		res, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/A", "/B"}})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if res.Pairs != 1 {
			t.Errorf("Pairs = %d, want 1", res.Pairs)
		}
		if len(res.Skipped) != 1 || res.Skipped[0].Path != "/A/b.jpg" {
			t.Errorf("Skipped = %v, want [/A/b.jpg]", res.Skipped)
		}
		if !res.Session.Cross() {
			t.Error("Cross() = false for two roots")
		}
	})

	t.Run("invalid root aborts", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.fsmgr.AddFile("/p/a.jpg", []byte("a"))

		if _, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/missing"}}); err == nil {
			t.Error("Scan() expected error for missing root")
		}
		if _, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/p/a.jpg"}}); err == nil {
			t.Error("Scan() expected error for file root")
		}
		if _, err := f.svc.Scan(context.Background(), dedup.ScanRequest{}); err == nil {
			t.Error("Scan() expected error for no roots")
		}
	})

	t.Run("session persists across service instances", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.fsmgr.AddFile("/p/a.jpg", []byte("same"))
		f.fsmgr.AddFile("/p/b.jpg", []byte("same"))

		if _, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/p"}}); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if _, err := f.svc.Mark(1, dedup.SideRight, true); err != nil {
			t.Fatalf("Mark() error = %v", err)
		}

		other := dedup.NewDedupService(f.db, f.trash, f.fsmgr, nil, nil, nil, dedup.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
		approved, err := other.Approved()
		if err != nil {
			t.Fatalf("Approved() error = %v", err)
		}
		if len(approved) != 1 || approved[0].Path != "/p/b.jpg" {
			t.Errorf("Approved() = %v, want [/p/b.jpg]", approved)
		}
	})
}

// blockingOracle holds the matcher until release is closed.
type blockingOracle struct {
	entered chan struct{}
	release chan struct{}
}

func (o *blockingOracle) FindSimilar(ctx context.Context, rootA, rootB string) ([]dedup.SimilarMatch, error) {
	close(o.entered)
	<-o.release
	return nil, nil
}

func TestDedupService_ScanInProgress(t *testing.T) {
	oracle := &blockingOracle{entered: make(chan struct{}), release: make(chan struct{})}
	f := newServiceFixture(t, oracle)
	f.fsmgr.AddFile("/p/a.jpg", []byte("a"))
	f.fsmgr.AddFile("/q/b.jpg", []byte("b"))

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/p", "/q"}})
		done <- err
	}()
	<-oracle.entered

	_, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/q", "/p"}})
	if !errors.Is(err, dedup.ErrScanInProgress) {
		t.Errorf("concurrent Scan() error = %v, want ErrScanInProgress", err)
	}

	close(oracle.release)
	if err := <-done; err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
}

func TestDedupService_ScanLockSharedDatabase(t *testing.T) {
	oracle := &blockingOracle{entered: make(chan struct{}), release: make(chan struct{})}
	f := newServiceFixture(t, oracle)
	f.fsmgr.AddFile("/p/a.jpg", []byte("a"))
	f.fsmgr.AddFile("/q/b.jpg", []byte("b"))

	// A second service over the same database stands in for another
	// process sharing BaseDir.
	fp := dedup.NewFingerprinter(f.fsmgr, dedup.FingerprintOptions{})
	other := dedup.NewDedupService(f.db, f.trash, f.fsmgr,
		dedup.NewIndexer(f.fsmgr, fp, dedup.IndexOptions{Workers: 2}, nil),
		dedup.NewMatcher(nil, nil),
		dedup.NewExecutor(f.trash, f.fsmgr, 2, nil),
		dedup.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/p", "/q"}})
		done <- err
	}()
	<-oracle.entered

	req := dedup.ScanRequest{Roots: []string{"/q", "/p"}}
	if _, err := other.Scan(context.Background(), req); !errors.Is(err, dedup.ErrScanInProgress) {
		t.Errorf("Scan() from second service error = %v, want ErrScanInProgress", err)
	}
	if _, err := other.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/p"}}); err != nil {
		t.Errorf("Scan() of different roots error = %v", err)
	}

	close(oracle.release)
	if err := <-done; err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	if _, err := other.Scan(context.Background(), req); err != nil {
		t.Errorf("Scan() after the first finished error = %v", err)
	}
}

func TestDedupService_Review(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		if _, err := f.svc.Toggle(1, dedup.SideLeft); !errors.Is(err, dedup.ErrNoSession) {
			t.Errorf("Toggle() error = %v, want ErrNoSession", err)
		}
	})

	t.Run("set all then toggle one", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.fsmgr.AddFile("/p/a.jpg", []byte("same"))
		f.fsmgr.AddFile("/p/b.jpg", []byte("same"))
		f.fsmgr.AddFile("/p/c.jpg", []byte("same"))

		if _, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/p"}}); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		n, err := f.svc.SetAll(dedup.SideRight, true)
		if err != nil {
			t.Fatalf("SetAll() error = %v", err)
		}
		if n != 3 {
			t.Errorf("SetAll() = %d, want 3", n)
		}
		entry, err := f.svc.Toggle(1, dedup.SideRight)
		if err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
		if entry.DeleteRight {
			t.Error("Toggle() did not clear the right flag")
		}
		if _, err := f.svc.Toggle(9, dedup.SideRight); !errors.Is(err, dedup.ErrUnknownPair) {
			t.Errorf("Toggle(9) error = %v, want ErrUnknownPair", err)
		}

		// (a,b) cleared; (a,c) and (b,c) mark c.jpg twice.
		approved, err := f.svc.Approved()
		if err != nil {
			t.Fatalf("Approved() error = %v", err)
		}
		if len(approved) != 1 || approved[0].Path != "/p/c.jpg" {
			t.Errorf("Approved() = %v, want [/p/c.jpg]", approved)
		}
	})
}

func TestDedupService_Apply(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.fsmgr.AddFile("/A/a.jpg", []byte("X"))
	f.fsmgr.AddFile("/A/b.jpg", []byte("Y"))
	f.fsmgr.AddFile("/B/a.jpg", []byte("X"))
	f.fsmgr.AddFile("/B/b.jpg", []byte("Y"))
	ctx := context.Background()

	if _, err := f.svc.Scan(ctx, dedup.ScanRequest{Roots: []string{"/A", "/B"}}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if _, err := f.svc.SetAll(dedup.SideRight, true); err != nil {
		t.Fatalf("SetAll() error = %v", err)
	}
	// Removed behind our back.
	if err := f.fsmgr.Remove("/B/b.jpg"); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Apply(ctx)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Succeeded) != 1 || res.Succeeded[0] != "/B/a.jpg" {
		t.Errorf("Succeeded = %v, want [/B/a.jpg]", res.Succeeded)
	}
	if !errors.Is(res.Failed["/B/b.jpg"], dedup.ErrAlreadyGone) {
		t.Errorf("Failed[/B/b.jpg] = %v, want ErrAlreadyGone", res.Failed["/B/b.jpg"])
	}

	session, err := f.svc.Session()
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if session.Ledger.Len() != 1 {
		t.Errorf("ledger Len() = %d, want 1 after prune", session.Ledger.Len())
	}

	stored, err := f.db.LoadLatestSession()
	if err != nil {
		t.Fatalf("LoadLatestSession() error = %v", err)
	}
	if stored.Ledger.Len() != 1 {
		t.Errorf("stored ledger Len() = %d, want 1", stored.Ledger.Len())
	}

	deletions, err := f.svc.GetDeletions(10)
	if err != nil {
		t.Fatalf("GetDeletions() error = %v", err)
	}
	if len(deletions) != 2 {
		t.Fatalf("len(GetDeletions()) = %d, want 2", len(deletions))
	}
	statuses := map[string]string{}
	for _, d := range deletions {
		statuses[d.Path] = d.Status
	}
	if statuses["/B/a.jpg"] != dedup.DeletionSucceeded || statuses["/B/b.jpg"] != dedup.DeletionFailed {
		t.Errorf("statuses = %v, want a succeeded and b failed", statuses)
	}

	items, err := f.svc.ListTrash(ctx)
	if err != nil {
		t.Fatalf("ListTrash() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(ListTrash()) = %d, want 1", len(items))
	}
	if _, err := f.svc.RestoreTrash(ctx, items[0].ID, nil); err != nil {
		t.Fatalf("RestoreTrash() error = %v", err)
	}
	if !f.fsmgr.Has("/B/a.jpg") {
		t.Error("/B/a.jpg not restored")
	}
}

func TestDedupService_ApplyNothingApproved(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.fsmgr.AddFile("/p/a.jpg", []byte("same"))
	f.fsmgr.AddFile("/p/b.jpg", []byte("same"))

	if _, err := f.svc.Scan(context.Background(), dedup.ScanRequest{Roots: []string{"/p"}}); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	res, err := f.svc.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(res.Succeeded) != 0 || len(res.Failed) != 0 {
		t.Errorf("Apply() = %+v, want empty result", res)
	}
}
