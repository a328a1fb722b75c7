// Package metadata reads and writes the capture timestamp embedded in
// image files.
package metadata

import (
	"fmt"
	"strings"
	"time"

	"medup/internal/dedup"
)

// TimestampLayout is the EXIF date format, "YYYY:MM:DD HH:MM:SS".
const TimestampLayout = "2006:01:02 15:04:05"

// ValidateTimestamp rejects anything that is not a real calendar time in
// TimestampLayout. The returned error wraps dedup.ErrInvalidTimestamp.
func ValidateTimestamp(ts string) error {
	if len(ts) != len(TimestampLayout) {
		return fmt.Errorf("%w: %q (want YYYY:MM:DD HH:MM:SS)", dedup.ErrInvalidTimestamp, ts)
	}
	if _, err := time.Parse(TimestampLayout, ts); err != nil {
		return fmt.Errorf("%w: %q: %v", dedup.ErrInvalidTimestamp, ts, err)
	}
	return nil
}

// normalize trims the padding cameras leave around EXIF strings.
func normalize(raw string) string {
	return strings.TrimSpace(strings.TrimRight(raw, "\x00"))
}
