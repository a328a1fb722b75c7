//go:build unix

package fs

import (
	"fmt"
	"syscall"

	"medup/internal/dedup"
)

// Identify returns the device and inode of path from its cached stat info.
func (m *OSFilesystemManager) Identify(path *dedup.Path) (dedup.FileID, error) {
	info := path.Info()
	if info == nil {
		return dedup.FileID{}, fmt.Errorf("no stat info for %s", path.String())
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return dedup.FileID{}, fmt.Errorf("cannot extract file identity: expected *syscall.Stat_t, got %T", info.Sys())
	}
	return dedup.FileID{Dev: uint64(stat.Dev), Ino: uint64(stat.Ino)}, nil
}
