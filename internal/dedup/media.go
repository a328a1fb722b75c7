package dedup

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MediaClass is the coarse file classification that picks a fingerprint
// strategy.
type MediaClass int

const (
	ClassOther MediaClass = iota
	ClassImage
	ClassVideo
)

func (c MediaClass) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassVideo:
		return "video"
	default:
		return "other"
	}
}

// ParseMediaClass is the inverse of MediaClass.String. Unknown names map
// to ClassOther.
func ParseMediaClass(s string) MediaClass {
	switch s {
	case "image":
		return ClassImage
	case "video":
		return ClassVideo
	default:
		return ClassOther
	}
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true,
	".tiff": true, ".tif": true, ".heic": true, ".webp": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	".wmv": true, ".m4v": true, ".3gp": true,
}

// Classify maps a path to its media class by extension, ignoring case.
func Classify(path string) MediaClass {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return ClassImage
	case videoExts[ext]:
		return ClassVideo
	default:
		return ClassOther
	}
}

// Mode selects how strictly files are compared.
type Mode string

const (
	// ModeExact compares every file by SHA-256 of its bytes.
	ModeExact Mode = "exact"
	// ModeMetadata compares images by size and capture time and everything
	// else by size. No file content is hashed.
	ModeMetadata Mode = "metadata"
	// ModeSize compares every file by size alone.
	ModeSize Mode = "size"
)

// ParseMode validates a mode name from config or flags.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeExact, ModeMetadata, ModeSize:
		return m, nil
	case "":
		return ModeExact, nil
	default:
		return "", fmt.Errorf("unknown scan mode: %q", s)
	}
}

// MissingTimestampPolicy decides whether two images that both lack a
// capture time may match on size.
type MissingTimestampPolicy string

const (
	// MissingTimestampEqual treats an absent capture time as an empty
	// value, so two untimestamped images of equal size match.
	MissingTimestampEqual MissingTimestampPolicy = "equal"
	// MissingTimestampDistinct never matches an untimestamped image.
	MissingTimestampDistinct MissingTimestampPolicy = "distinct"
)

func ParseMissingTimestampPolicy(s string) (MissingTimestampPolicy, error) {
	switch p := MissingTimestampPolicy(s); p {
	case MissingTimestampEqual, MissingTimestampDistinct:
		return p, nil
	case "":
		return MissingTimestampEqual, nil
	default:
		return "", fmt.Errorf("unknown missing timestamp policy: %q", s)
	}
}
