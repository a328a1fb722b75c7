package treediff_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"medup/internal/dedup"
	"medup/internal/testutil"
	"medup/internal/treediff"
)

func resolve(t *testing.T, fsmgr *testutil.MockFilesystemManager, path string) *dedup.Path {
	t.Helper()
	p, err := fsmgr.Resolve(path)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", path, err)
	}
	return p
}

func newDiffer(fsmgr *testutil.MockFilesystemManager) *treediff.Differ {
	return treediff.New(fsmgr, dedup.NewFingerprinter(fsmgr, dedup.FingerprintOptions{}), 2, nil)
}

func TestDiffer_Diff(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/a/same.jpg", []byte("same"))
	fsmgr.AddFile("/b/same.jpg", []byte("same"))
	fsmgr.AddFile("/a/2023/edited.jpg", []byte("before"))
	fsmgr.AddFile("/b/2023/edited.jpg", []byte("after!"))
	fsmgr.AddFile("/a/2023/cropped.jpg", []byte("full size"))
	fsmgr.AddFile("/b/2023/cropped.jpg", []byte("crop"))
	fsmgr.AddFile("/a/2023/left.jpg", []byte("l"))
	fsmgr.AddFile("/b/right/only.mp4", []byte("r"))
	// Same content under another name is not a match.
	fsmgr.AddFile("/b/renamed.jpg", []byte("l"))

	res, err := newDiffer(fsmgr).Diff(context.Background(), resolve(t, fsmgr, "/a"), resolve(t, fsmgr, "/b"))
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}

	if want := []string{"2023/left.jpg"}; !reflect.DeepEqual(res.OnlyLeft, want) {
		t.Errorf("OnlyLeft = %v, want %v", res.OnlyLeft, want)
	}
	if want := []string{"renamed.jpg", "right/only.mp4"}; !reflect.DeepEqual(res.OnlyRight, want) {
		t.Errorf("OnlyRight = %v, want %v", res.OnlyRight, want)
	}
	if want := []string{"2023/cropped.jpg", "2023/edited.jpg"}; !reflect.DeepEqual(res.Differ, want) {
		t.Errorf("Differ = %v, want %v", res.Differ, want)
	}
	if res.Same != 1 {
		t.Errorf("Same = %d, want 1", res.Same)
	}
	if res.Identical() {
		t.Error("Identical() = true for differing trees")
	}
}

func TestDiffer_DiffIdentical(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/a/x/1.jpg", []byte("one"))
	fsmgr.AddFile("/a/2.jpg", []byte("two"))
	fsmgr.AddFile("/b/x/1.jpg", []byte("one"))
	fsmgr.AddFile("/b/2.jpg", []byte("two"))

	res, err := newDiffer(fsmgr).Diff(context.Background(), resolve(t, fsmgr, "/a"), resolve(t, fsmgr, "/b"))
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if !res.Identical() || res.Same != 2 {
		t.Errorf("Diff() = %+v, want two identical files", res)
	}
}

func TestDiffer_DiffUnreadable(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/a/x.jpg", []byte("data"))
	fsmgr.AddFile("/b/x.jpg", []byte("data"))
	fsmgr.AddFile("/a/y.jpg", []byte("y"))
	fsmgr.AddFile("/b/y.jpg", []byte("y"))
	fsmgr.FailOpen("/b/x.jpg", errors.New("permission denied"))

	res, err := newDiffer(fsmgr).Diff(context.Background(), resolve(t, fsmgr, "/a"), resolve(t, fsmgr, "/b"))
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(res.Unreadable) != 1 || res.Unreadable[0].Path != "/b/x.jpg" {
		t.Errorf("Unreadable = %v, want [/b/x.jpg]", res.Unreadable)
	}
	if len(res.Differ) != 0 || res.Same != 1 {
		t.Errorf("Differ = %v, Same = %d, want unreadable file left out", res.Differ, res.Same)
	}
	if res.Identical() {
		t.Error("Identical() = true with an unreadable file")
	}
}

func TestDiffer_DiffRejectsFileRoot(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/a/x.jpg", []byte("x"))
	fsmgr.AddDirectory("/b")

	if _, err := newDiffer(fsmgr).Diff(context.Background(), resolve(t, fsmgr, "/a/x.jpg"), resolve(t, fsmgr, "/b")); err == nil {
		t.Fatal("Diff() expected error for a file root")
	}
}
