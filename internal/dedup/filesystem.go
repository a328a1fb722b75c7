package dedup

import (
	"context"
	"io"
	"io/fs"
)

// FileID identifies the underlying file independent of the path used to
// reach it. Two paths with the same non-zero FileID are hard links or
// aliases of one file.
type FileID struct {
	Dev uint64
	Ino uint64
}

// IsZero reports whether the identity is unknown.
func (id FileID) IsZero() bool {
	return id.Dev == 0 && id.Ino == 0
}

// SkippedFile is a file the scan could not process. Skips are counted and
// reported, never fatal.
type SkippedFile struct {
	Path string
	Err  error
}

// FilesystemManager abstracts file access so the scan pipeline can be
// tested without touching the real filesystem.
type FilesystemManager interface {
	// Resolve makes rawPath absolute, stats it and rejects symlinks,
	// devices, pipes and sockets.
	Resolve(rawPath string) (*Path, error)

	// Open opens a regular file for reading.
	Open(path *Path) (io.ReadCloser, error)

	// Stat returns fresh file info for a path.
	Stat(path *Path) (fs.FileInfo, error)

	// FindFiles lists every regular file below root in lexical order.
	// Entries that cannot be read are returned as skips rather than
	// failing the walk. Ignore rules are applied.
	FindFiles(ctx context.Context, root *Path) ([]*Path, []SkippedFile, error)

	// Identify returns the device and inode behind a path.
	Identify(path *Path) (FileID, error)

	// Exists reports whether anything is present at the absolute path,
	// without following symlinks.
	Exists(absPath string) (bool, error)
}
