package testutil

import (
	"medup/internal/trash"
)

// NewTestTrash creates an in-memory trash that takes files out of fsmgr.
// Items get increasing deletion times starting at Epoch.
func NewTestTrash(fsmgr *MockFilesystemManager) *trash.MemoryTrash {
	return trash.NewMemoryTrash(fsmgr, TickingClock(), NewStubIDGenerator())
}
