//go:build !unix

package fs

import (
	"fmt"

	"medup/internal/dedup"
)

// Identify is unsupported here; matching falls back to path comparison.
func (m *OSFilesystemManager) Identify(path *dedup.Path) (dedup.FileID, error) {
	return dedup.FileID{}, fmt.Errorf("file identity not available on this platform: %s", path.String())
}
