package dedup_test

import (
	"testing"

	"medup/internal/dedup"
	"medup/internal/testutil"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want dedup.MediaClass
	}{
		{"/p/IMG_0001.JPG", dedup.ClassImage},
		{"/p/scan.tiff", dedup.ClassImage},
		{"/p/photo.heic", dedup.ClassImage},
		{"/p/clip.MOV", dedup.ClassVideo},
		{"/p/clip.mp4", dedup.ClassVideo},
		{"/p/notes.txt", dedup.ClassOther},
		{"/p/noext", dedup.ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := dedup.Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, in := range []string{"exact", "metadata", "size", ""} {
		if _, err := dedup.ParseMode(in); err != nil {
			t.Errorf("ParseMode(%q) error = %v", in, err)
		}
	}
	if got, _ := dedup.ParseMode(""); got != dedup.ModeExact {
		t.Errorf("ParseMode(\"\") = %q, want exact", got)
	}
	if _, err := dedup.ParseMode("fuzzy"); err == nil {
		t.Error("ParseMode(fuzzy) expected error")
	}
}

func TestParseMissingTimestampPolicy(t *testing.T) {
	if got, err := dedup.ParseMissingTimestampPolicy(""); err != nil || got != dedup.MissingTimestampEqual {
		t.Errorf("ParseMissingTimestampPolicy(\"\") = %q, %v, want equal", got, err)
	}
	if got, err := dedup.ParseMissingTimestampPolicy("distinct"); err != nil || got != dedup.MissingTimestampDistinct {
		t.Errorf("ParseMissingTimestampPolicy(distinct) = %q, %v", got, err)
	}
	if _, err := dedup.ParseMissingTimestampPolicy("maybe"); err == nil {
		t.Error("ParseMissingTimestampPolicy(maybe) expected error")
	}
}

func TestPath_SizeAndClass(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/lib/IMG_0001.JPG", []byte("12345"))
	fsmgr.AddFile("/lib/clip.mov", []byte("1"))
	fsmgr.AddDirectory("/lib/album.jpg")

	tests := []struct {
		path      string
		wantSize  uint64
		wantClass dedup.MediaClass
	}{
		{"/lib/IMG_0001.JPG", 5, dedup.ClassImage},
		{"/lib/clip.mov", 1, dedup.ClassVideo},
		{"/lib/album.jpg", 0, dedup.ClassOther},
	}
	for _, tt := range tests {
		p, err := fsmgr.Resolve(tt.path)
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", tt.path, err)
		}
		if p.Size() != tt.wantSize || p.Class() != tt.wantClass {
			t.Errorf("%s: Size() = %d, Class() = %v, want %d, %v", tt.path, p.Size(), p.Class(), tt.wantSize, tt.wantClass)
		}
	}

	if got := dedup.NewPath("/lib/x.png", false, nil).Size(); got != 0 {
		t.Errorf("Size() without stat info = %d, want 0", got)
	}
}
