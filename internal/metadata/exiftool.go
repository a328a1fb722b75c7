package metadata

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"medup/internal/dedup"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ExifToolWriter sets capture times by invoking exiftool.
type ExifToolWriter struct {
	path   string
	run    Runner
	logger dedup.Logger
}

// NewExifToolWriter creates a writer for the exiftool binary at path.
// An empty path resolves "exiftool" on PATH.
func NewExifToolWriter(path string, logger dedup.Logger) *ExifToolWriter {
	if path == "" {
		path = "exiftool"
	}
	if logger == nil {
		logger = dedup.NewNopLogger()
	}
	return &ExifToolWriter{path: path, run: execRunner, logger: logger}
}

// WithRunner replaces the command runner.
func (w *ExifToolWriter) WithRunner(run Runner) *ExifToolWriter {
	w.run = run
	return w
}

// SetCaptureTime writes ts into the DateTimeOriginal and DateTimeDigitized
// tags of path, replacing the file in place. ts is validated before the
// tool runs.
func (w *ExifToolWriter) SetCaptureTime(ctx context.Context, path, ts string) error {
	if err := ValidateTimestamp(ts); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return &dedup.FileError{Op: "tag", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &dedup.FileError{Op: "tag", Path: path, Err: fmt.Errorf("not a regular file")}
	}

	out, err := w.run(ctx, w.path,
		"-overwrite_original",
		"-DateTimeOriginal="+ts,
		"-DateTimeDigitized="+ts,
		path,
	)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return &dedup.FileError{Op: "tag", Path: path, Err: fmt.Errorf("%w: %s: %v: %s", dedup.ErrExternalTool, w.path, err, msg)}
		}
		return &dedup.FileError{Op: "tag", Path: path, Err: fmt.Errorf("%w: %s: %v", dedup.ErrExternalTool, w.path, err)}
	}
	w.logger.Debug("capture time written", "path", path, "timestamp", ts)
	return nil
}

// Writer sets the capture time of a file.
type Writer interface {
	SetCaptureTime(ctx context.Context, path, ts string) error
}

// TagResult summarizes a batch of capture time writes.
type TagResult struct {
	Succeeded []string
	Failed    map[string]error
}

// TagFiles writes ts to every path, continuing past individual failures.
// An invalid ts fails the whole batch before any file is touched.
func TagFiles(ctx context.Context, w Writer, paths []string, ts string) (*TagResult, error) {
	if err := ValidateTimestamp(ts); err != nil {
		return nil, err
	}

	res := &TagResult{Failed: make(map[string]error)}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := w.SetCaptureTime(ctx, p, ts); err != nil {
			res.Failed[p] = err
			continue
		}
		res.Succeeded = append(res.Succeeded, p)
	}
	return res, nil
}

var _ Writer = (*ExifToolWriter)(nil)
