package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"medup/internal/dedup"
)

// IgnoreFileName is the per-root file listing extra ignore patterns.
const IgnoreFileName = ".medupignore"

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct {
	ignore []string
}

// NewOSFilesystemManager creates a filesystem manager. ignore holds glob
// patterns applied to every walk in addition to each root's .medupignore.
func NewOSFilesystemManager(ignore []string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: ignore}
}

// Resolve validates a raw path and returns a Path object.
func (m *OSFilesystemManager) Resolve(rawPath string) (*dedup.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not supported: %s", absPath)
	}
	if mode&os.ModeDevice != 0 {
		return nil, fmt.Errorf("device files not supported: %s", absPath)
	}
	if mode&os.ModeNamedPipe != 0 {
		return nil, fmt.Errorf("named pipes not supported: %s", absPath)
	}
	if mode&os.ModeSocket != 0 {
		return nil, fmt.Errorf("sockets not supported: %s", absPath)
	}

	return dedup.NewPath(absPath, info.IsDir(), info), nil
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(path *dedup.Path) (io.ReadCloser, error) {
	if path.IsDir() {
		return nil, fmt.Errorf("cannot open directory as file: %s", path.String())
	}
	return os.Open(path.String())
}

// Stat returns fresh file info for a path.
func (m *OSFilesystemManager) Stat(path *dedup.Path) (fs.FileInfo, error) {
	return os.Stat(path.String())
}

// FindFiles walks root in lexical order and returns its regular files.
// Unreadable directories and entries are reported as skips.
func (m *OSFilesystemManager) FindFiles(ctx context.Context, root *dedup.Path) ([]*dedup.Path, []dedup.SkippedFile, error) {
	if !root.IsDir() {
		return nil, nil, fmt.Errorf("path is not a directory: %s", root.String())
	}

	matcher, err := LoadIgnoreMatcher(root.String(), m.ignore)
	if err != nil {
		return nil, nil, err
	}

	var paths []*dedup.Path
	var skipped []dedup.SkippedFile
	err = filepath.WalkDir(root.String(), func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if p == root.String() {
				return err
			}
			skipped = append(skipped, dedup.SkippedFile{Path: p, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root.String(), p)
		if relErr != nil {
			return relErr
		}
		if rel != "." && matcher.Match(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			skipped = append(skipped, dedup.SkippedFile{Path: p, Err: err})
			return nil
		}
		paths = append(paths, dedup.NewPath(p, false, info))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking directory: %w", err)
	}
	return paths, skipped, nil
}

// Exists reports whether anything is present at absPath.
func (m *OSFilesystemManager) Exists(absPath string) (bool, error) {
	_, err := os.Lstat(absPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// FindByPrefix returns the regular files under root whose base name
// starts with prefix, such as a "20190412_" capture-date prefix.
func (m *OSFilesystemManager) FindByPrefix(ctx context.Context, root *dedup.Path, prefix string) ([]*dedup.Path, error) {
	files, _, err := m.FindFiles(ctx, root)
	if err != nil {
		return nil, err
	}
	var out []*dedup.Path
	for _, f := range files {
		if strings.HasPrefix(filepath.Base(f.String()), prefix) {
			out = append(out, f)
		}
	}
	return out, nil
}

var _ dedup.FilesystemManager = (*OSFilesystemManager)(nil)
