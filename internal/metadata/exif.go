package metadata

import (
	"fmt"

	"github.com/rwcarlsen/goexif/exif"

	"medup/internal/dedup"
)

// captureTags are tried in order; the first valid one wins.
var captureTags = []exif.FieldName{
	exif.DateTimeOriginal,
	exif.DateTimeDigitized,
	exif.DateTime,
}

// ExifReader reads capture times with goexif. Files are opened through
// the filesystem manager.
type ExifReader struct {
	fsmgr  dedup.FilesystemManager
	logger dedup.Logger
}

// NewExifReader creates an ExifReader. logger may be nil.
func NewExifReader(fsmgr dedup.FilesystemManager, logger dedup.Logger) *ExifReader {
	if logger == nil {
		logger = dedup.NewNopLogger()
	}
	return &ExifReader{fsmgr: fsmgr, logger: logger}
}

// CaptureTime returns the normalized capture time of path. Files without
// EXIF data, or with only placeholder dates, report ok=false. Only I/O
// failures are returned as errors.
func (r *ExifReader) CaptureTime(path *dedup.Path) (string, bool, error) {
	f, err := r.fsmgr.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	// Non-critical errors still leave the parsed tags usable.
	x, err := exif.Decode(f)
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		r.logger.Debug("no exif data", "path", path.String(), "err", err)
		return "", false, nil
	}

	for _, name := range captureTags {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		ts := normalize(raw)
		if ValidateTimestamp(ts) != nil {
			r.logger.Debug("ignoring malformed exif date", "path", path.String(), "tag", string(name), "value", ts)
			continue
		}
		return ts, true, nil
	}
	return "", false, nil
}

var _ dedup.MetadataReader = (*ExifReader)(nil)
