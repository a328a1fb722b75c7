package dedup_test

import (
	"context"
	"errors"
	"testing"

	"medup/internal/dedup"
	"medup/internal/testutil"
)

func buildIndex(t *testing.T, fsmgr *testutil.MockFilesystemManager, root string, mode dedup.Mode, opts dedup.IndexOptions) *dedup.Index {
	t.Helper()
	fp := dedup.NewFingerprinter(fsmgr, dedup.FingerprintOptions{})
	ix := dedup.NewIndexer(fsmgr, fp, opts, dedup.NewNopLogger())
	idx, err := ix.Index(context.Background(), resolve(t, fsmgr, root), mode)
	if err != nil {
		t.Fatalf("Index(%s) error = %v", root, err)
	}
	return idx
}

func TestIndexer_Index(t *testing.T) {
	t.Run("groups files by fingerprint in walk order", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/photos/2023/b.jpg", []byte("X"))
		fsmgr.AddFile("/photos/2023/a.jpg", []byte("Y"))
		fsmgr.AddFile("/photos/z.jpg", []byte("X"))

		idx := buildIndex(t, fsmgr, "/photos", dedup.ModeExact, dedup.IndexOptions{Workers: 4})

		if idx.Files != 3 {
			t.Errorf("Files = %d, want 3", idx.Files)
		}
		fps := idx.Fingerprints()
		if len(fps) != 2 {
			t.Fatalf("len(Fingerprints()) = %d, want 2", len(fps))
		}
		// a.jpg sorts first, so its fingerprint is seen first.
		if fps[0] != dedup.ContentHash(testutil.SHA256([]byte("Y"))) {
			t.Errorf("first fingerprint = %v, want hash of Y", fps[0])
		}
		group := idx.Records(dedup.ContentHash(testutil.SHA256([]byte("X"))))
		if len(group) != 2 || group[0].Path != "/photos/2023/b.jpg" || group[1].Path != "/photos/z.jpg" {
			t.Errorf("group X = %v, want [b.jpg z.jpg] in walk order", group)
		}
		rec, ok := idx.Lookup("/photos/z.jpg")
		if !ok {
			t.Fatal("Lookup(z.jpg) not found")
		}
		if rec.Size != 1 || rec.Class != dedup.ClassImage {
			t.Errorf("record = %+v, want size 1 image", rec)
		}
		if rec.ID.IsZero() {
			t.Error("record ID is zero, want file identity")
		}
	})

	t.Run("skips unreadable files", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/photos/a.jpg", []byte("A"))
		fsmgr.AddFile("/photos/b.jpg", []byte("B"))
		fsmgr.FailOpen("/photos/b.jpg", errors.New("permission denied"))
		fsmgr.AddWalkSkip("/photos/locked", errors.New("permission denied"))

		idx := buildIndex(t, fsmgr, "/photos", dedup.ModeExact, dedup.IndexOptions{})

		if idx.Files != 1 {
			t.Errorf("Files = %d, want 1", idx.Files)
		}
		if len(idx.Skipped) != 2 {
			t.Fatalf("len(Skipped) = %d, want 2", len(idx.Skipped))
		}
		if idx.Skipped[0].Path != "/photos/locked" || idx.Skipped[1].Path != "/photos/b.jpg" {
			t.Errorf("Skipped = %v, want [locked b.jpg]", idx.Skipped)
		}
	})

	t.Run("min size filters small files", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/photos/tiny.jpg", []byte("t"))
		fsmgr.AddFile("/photos/big.jpg", []byte("0123456789"))

		idx := buildIndex(t, fsmgr, "/photos", dedup.ModeSize, dedup.IndexOptions{MinSize: 5})

		if idx.Files != 1 {
			t.Errorf("Files = %d, want 1", idx.Files)
		}
		if _, ok := idx.Lookup("/photos/tiny.jpg"); ok {
			t.Error("tiny.jpg indexed despite min size")
		}
		if len(idx.Skipped) != 0 {
			t.Errorf("Skipped = %v, want none", idx.Skipped)
		}
	})

	t.Run("empty tree", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddDirectory("/empty")

		idx := buildIndex(t, fsmgr, "/empty", dedup.ModeExact, dedup.IndexOptions{})
		if idx.Files != 0 || len(idx.Fingerprints()) != 0 {
			t.Errorf("index = %d files, %d fingerprints, want empty", idx.Files, len(idx.Fingerprints()))
		}
	})

	t.Run("root must be a directory", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/photos/a.jpg", []byte("A"))
		ix := dedup.NewIndexer(fsmgr, dedup.NewFingerprinter(fsmgr, dedup.FingerprintOptions{}), dedup.IndexOptions{}, nil)

		if _, err := ix.Index(context.Background(), resolve(t, fsmgr, "/photos/a.jpg"), dedup.ModeExact); err == nil {
			t.Error("Index() expected error for file root")
		}
	})

	t.Run("cancellation discards the partial index", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/photos/a.jpg", []byte("A"))
		ix := dedup.NewIndexer(fsmgr, dedup.NewFingerprinter(fsmgr, dedup.FingerprintOptions{}), dedup.IndexOptions{}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		idx, err := ix.Index(ctx, resolve(t, fsmgr, "/photos"), dedup.ModeExact)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Index() error = %v, want context.Canceled", err)
		}
		if idx != nil {
			t.Errorf("Index() = %v, want nil", idx)
		}
	})
}
