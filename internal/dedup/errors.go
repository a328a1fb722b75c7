package dedup

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyGone marks an approved deletion whose target vanished
	// before the executor reached it.
	ErrAlreadyGone = errors.New("file no longer exists")

	// ErrInvalidTimestamp rejects a capture time that is not a real
	// "YYYY:MM:DD HH:MM:SS" value.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrExternalTool wraps failures reported by the trash backend or the
	// metadata writer.
	ErrExternalTool = errors.New("external tool failed")

	// ErrScanInProgress is returned when a scan for the same roots is
	// already running.
	ErrScanInProgress = errors.New("scan already in progress for these roots")

	ErrNoSession   = errors.New("no scan session found, run scan first")
	ErrUnknownPair = errors.New("unknown candidate pair")
)

// FileError is a failure tied to one file. The pipeline records these and
// moves on to the next file.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
