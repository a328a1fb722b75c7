package dedup

import (
	"context"
	"time"
)

// TrashItem describes one file held in recoverable storage.
type TrashItem struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"original_path"`
	Size         int64     `json:"size"`
	DeletedAt    time.Time `json:"deleted_at"`
	Encrypted    bool      `json:"encrypted"`
}

// Trash is the reversible-delete capability. MoveToTrash must leave the
// file recoverable through Restore; it never erases content.
type Trash interface {
	// MoveToTrash removes path from its location and keeps it recoverable.
	MoveToTrash(ctx context.Context, path string) (*TrashItem, error)

	// List returns every item currently held, oldest first.
	List(ctx context.Context) ([]*TrashItem, error)

	// Restore moves an item back to its original path. It refuses to
	// overwrite an existing file. dec is required for encrypted items.
	Restore(ctx context.Context, id string, dec DecryptionContext) (*TrashItem, error)

	// ValidateSetup checks the backend is reachable and writable.
	ValidateSetup() error
}
