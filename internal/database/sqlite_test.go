package database

import (
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"medup/internal/dedup"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func record(path string, size uint64, fp dedup.Fingerprint) dedup.FileRecord {
	return dedup.FileRecord{
		Path:        path,
		Size:        size,
		Class:       dedup.Classify(path),
		Fingerprint: fp,
	}
}

func testSession(id string) *dedup.Session {
	sum := sha256.Sum256([]byte("same bytes"))
	entries := []dedup.ReviewEntry{
		{
			Pair: dedup.CandidatePair{
				Left:   record("/a/x.jpg", 10, dedup.ContentHash(sum)),
				Right:  record("/b/x.jpg", 10, dedup.ContentHash(sum)),
				Reason: dedup.ReasonContentHash,
			},
			DeleteRight: true,
		},
		{
			Pair: dedup.CandidatePair{
				Left:   record("/a/y.jpg", 20, dedup.SizeDate(20, "2023:06:01 12:00:00").WithPerceptual(0xabcdef)),
				Right:  record("/b/y.jpg", 20, dedup.SizeDate(20, "2023:06:01 12:00:00").WithPerceptual(0xabcdef)),
				Reason: dedup.ReasonSizeDate,
			},
		},
		{
			Pair: dedup.CandidatePair{
				Left:   record("/a/z.png", 30, dedup.Fingerprint{}),
				Right:  record("/b/w.png", 31, dedup.Fingerprint{}),
				Reason: dedup.ReasonSimilar,
				Score:  3,
			},
		},
	}
	return &dedup.Session{
		ID:        id,
		Roots:     []string{"/a", "/b"},
		Mode:      dedup.ModeMetadata,
		CreatedAt: testTime,
		Files:     6,
		Skipped:   1,
		Ledger:    dedup.NewLedgerFromEntries(entries),
	}
}

func TestSQLiteDatabase_LoadLatestSession(t *testing.T) {
	t.Run("returns nil when no session stored", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.LoadLatestSession()
		if err != nil {
			t.Fatalf("LoadLatestSession() error = %v", err)
		}
		if got != nil {
			t.Errorf("LoadLatestSession() = %v, want nil", got)
		}
	})

	t.Run("round trips session and ledger", func(t *testing.T) {
		db := newTestDB(t)
		want := testSession("s1")

		if err := db.SaveSession(want); err != nil {
			t.Fatalf("SaveSession() error = %v", err)
		}

		got, err := db.LoadLatestSession()
		if err != nil {
			t.Fatalf("LoadLatestSession() error = %v", err)
		}
		if got == nil {
			t.Fatal("LoadLatestSession() returned nil")
		}
		if got.ID != "s1" || got.Mode != dedup.ModeMetadata {
			t.Errorf("session = (%q, %q), want (s1, metadata)", got.ID, got.Mode)
		}
		if len(got.Roots) != 2 || got.Roots[0] != "/a" || got.Roots[1] != "/b" {
			t.Errorf("Roots = %v, want [/a /b]", got.Roots)
		}
		if !got.CreatedAt.Equal(testTime) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, testTime)
		}
		if got.Files != 6 || got.Skipped != 1 {
			t.Errorf("Files, Skipped = %d, %d, want 6, 1", got.Files, got.Skipped)
		}

		entries := got.Ledger.Entries()
		wantEntries := want.Ledger.Entries()
		if len(entries) != len(wantEntries) {
			t.Fatalf("len(entries) = %d, want %d", len(entries), len(wantEntries))
		}
		for i := range entries {
			if entries[i].Pair.Key() != wantEntries[i].Pair.Key() {
				t.Errorf("entry %d key = %v, want %v", i, entries[i].Pair.Key(), wantEntries[i].Pair.Key())
			}
			if entries[i].DeleteLeft != wantEntries[i].DeleteLeft || entries[i].DeleteRight != wantEntries[i].DeleteRight {
				t.Errorf("entry %d flags = (%v, %v), want (%v, %v)", i,
					entries[i].DeleteLeft, entries[i].DeleteRight, wantEntries[i].DeleteLeft, wantEntries[i].DeleteRight)
			}
			if entries[i].Pair.Reason != wantEntries[i].Pair.Reason {
				t.Errorf("entry %d reason = %q, want %q", i, entries[i].Pair.Reason, wantEntries[i].Pair.Reason)
			}
			if entries[i].Pair.Left.Fingerprint != wantEntries[i].Pair.Left.Fingerprint {
				t.Errorf("entry %d fingerprint = %v, want %v", i, entries[i].Pair.Left.Fingerprint, wantEntries[i].Pair.Left.Fingerprint)
			}
		}
		if entries[2].Pair.Score != 3 {
			t.Errorf("similar pair score = %v, want 3", entries[2].Pair.Score)
		}
		if entries[0].Pair.Left.Class != dedup.ClassImage {
			t.Errorf("Left.Class = %v, want image", entries[0].Pair.Left.Class)
		}
	})

	t.Run("save replaces previous session", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.SaveSession(testSession("s1")); err != nil {
			t.Fatalf("SaveSession(s1) error = %v", err)
		}
		second := &dedup.Session{
			ID:        "s2",
			Roots:     []string{"/c"},
			Mode:      dedup.ModeExact,
			CreatedAt: testTime.Add(time.Hour),
			Ledger:    dedup.NewLedgerFromEntries(nil),
		}
		if err := db.SaveSession(second); err != nil {
			t.Fatalf("SaveSession(s2) error = %v", err)
		}

		got, err := db.LoadLatestSession()
		if err != nil {
			t.Fatalf("LoadLatestSession() error = %v", err)
		}
		if got.ID != "s2" {
			t.Errorf("ID = %q, want s2", got.ID)
		}
		if got.Ledger.Len() != 0 {
			t.Errorf("Ledger.Len() = %d, want 0", got.Ledger.Len())
		}
	})
}

func TestSQLiteDatabase_SaveReviewEntries(t *testing.T) {
	db := newTestDB(t)
	session := testSession("s1")
	if err := db.SaveSession(session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	key := session.Ledger.Entries()[1].Pair.Key()
	entry, err := session.Ledger.Set(key, dedup.SideLeft, true)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := db.SaveReviewEntries("s1", []dedup.ReviewEntry{entry}); err != nil {
		t.Fatalf("SaveReviewEntries() error = %v", err)
	}

	got, err := db.LoadLatestSession()
	if err != nil {
		t.Fatalf("LoadLatestSession() error = %v", err)
	}
	stored, ok := got.Ledger.Entry(key)
	if !ok {
		t.Fatalf("Entry(%v) not found", key)
	}
	if !stored.DeleteLeft || stored.DeleteRight {
		t.Errorf("flags = (%v, %v), want (true, false)", stored.DeleteLeft, stored.DeleteRight)
	}
}

func TestSQLiteDatabase_RemovePairs(t *testing.T) {
	db := newTestDB(t)
	session := testSession("s1")
	if err := db.SaveSession(session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	removed := session.Ledger.Entries()[0].Pair.Key()
	if err := db.RemovePairs("s1", []dedup.PairKey{removed}); err != nil {
		t.Fatalf("RemovePairs() error = %v", err)
	}

	got, err := db.LoadLatestSession()
	if err != nil {
		t.Fatalf("LoadLatestSession() error = %v", err)
	}
	if got.Ledger.Len() != 2 {
		t.Errorf("Ledger.Len() = %d, want 2", got.Ledger.Len())
	}
	if _, ok := got.Ledger.Entry(removed); ok {
		t.Errorf("Entry(%v) still present after RemovePairs", removed)
	}
}

func TestSQLiteDatabase_Deletions(t *testing.T) {
	db := newTestDB(t)

	recs := []*dedup.DeletionRecord{
		{ID: "d1", SessionID: "s1", Path: "/a/x.jpg", Size: 10, TrashID: "t1", Status: dedup.DeletionSucceeded, CreatedAt: testTime},
		{ID: "d2", SessionID: "s1", Path: "/a/y.jpg", Size: 20, Status: dedup.DeletionFailed, Error: "file already gone", CreatedAt: testTime.Add(time.Second)},
	}
	for _, r := range recs {
		if err := db.RecordDeletion(r); err != nil {
			t.Fatalf("RecordDeletion(%s) error = %v", r.ID, err)
		}
	}

	got, err := db.ListDeletions(10)
	if err != nil {
		t.Fatalf("ListDeletions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(ListDeletions()) = %d, want 2", len(got))
	}
	if got[0].ID != "d2" {
		t.Errorf("first deletion = %q, want newest d2", got[0].ID)
	}
	if got[0].Error != "file already gone" || got[0].Status != dedup.DeletionFailed {
		t.Errorf("d2 = %+v, want failed with error text", got[0])
	}
	if got[1].TrashID != "t1" || got[1].Size != 10 {
		t.Errorf("d1 = %+v, want trash id t1 and size 10", got[1])
	}

	limited, err := db.ListDeletions(1)
	if err != nil {
		t.Fatalf("ListDeletions(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(ListDeletions(1)) = %d, want 1", len(limited))
	}
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	db := newTestDB(t)

	op := &dedup.OperationRecord{
		ID:         "op-1",
		Operation:  "scan",
		Parameters: "/photos",
		Status:     "running",
		StartedAt:  testTime,
	}
	if err := db.CreateOperation(op); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}

	ops, err := db.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("len(ListOperations()) = %d, want 1", len(ops))
	}
	if ops[0].FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil for running operation", ops[0].FinishedAt)
	}

	finished := testTime.Add(time.Minute)
	if err := db.FinishOperation("op-1", "success", finished); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	ops, err = db.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if ops[0].Status != "success" {
		t.Errorf("Status = %q, want success", ops[0].Status)
	}
	if ops[0].FinishedAt == nil || !ops[0].FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", ops[0].FinishedAt, finished)
	}
}

func TestSQLiteDatabase_ScanLocks(t *testing.T) {
	db := newTestDB(t)
	key := "/a\x00/b"
	stale := testTime.Add(-time.Hour)

	if err := db.AcquireScanLock(key, "first", testTime, stale); err != nil {
		t.Fatalf("AcquireScanLock() error = %v", err)
	}
	if err := db.AcquireScanLock(key, "second", testTime.Add(time.Minute), stale); !errors.Is(err, dedup.ErrScanInProgress) {
		t.Fatalf("AcquireScanLock() held error = %v, want ErrScanInProgress", err)
	}
	if err := db.AcquireScanLock("/c", "second", testTime, stale); err != nil {
		t.Fatalf("AcquireScanLock() other key error = %v", err)
	}

	// A lock older than staleBefore is taken over.
	later := testTime.Add(2 * time.Hour)
	if err := db.AcquireScanLock(key, "second", later, later.Add(-time.Hour)); err != nil {
		t.Fatalf("AcquireScanLock() over stale lock error = %v", err)
	}

	// The previous owner can no longer release it.
	if err := db.ReleaseScanLock(key, "first"); err != nil {
		t.Fatalf("ReleaseScanLock() error = %v", err)
	}
	if err := db.AcquireScanLock(key, "third", later, stale); !errors.Is(err, dedup.ErrScanInProgress) {
		t.Errorf("AcquireScanLock() after foreign release error = %v, want ErrScanInProgress", err)
	}

	if err := db.ReleaseScanLock(key, "second"); err != nil {
		t.Fatalf("ReleaseScanLock() error = %v", err)
	}
	if err := db.AcquireScanLock(key, "third", later, stale); err != nil {
		t.Errorf("AcquireScanLock() after release error = %v", err)
	}
}

func TestSQLiteDatabase_CheckMigrations(t *testing.T) {
	db := newTestDB(t)
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
}
