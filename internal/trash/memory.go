package trash

import (
	"context"
	"fmt"
	"sync"

	"medup/internal/dedup"
)

// Store is the file source a MemoryTrash takes files from and restores
// them to.
type Store interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Remove(path string) error
	Exists(path string) (bool, error)
}

// MemoryTrash holds trashed content in memory. It is meant for tests and
// is safe for concurrent use.
type MemoryTrash struct {
	store Store
	clock dedup.Clock
	idgen dedup.IDGenerator

	mu       sync.RWMutex
	items    map[string]*dedup.TrashItem
	content  map[string][]byte
	calls    map[string]int
	failures map[string]error
}

// NewMemoryTrash creates an empty in-memory trash over store.
func NewMemoryTrash(store Store, clock dedup.Clock, idgen dedup.IDGenerator) *MemoryTrash {
	return &MemoryTrash{
		store:    store,
		clock:    clock,
		idgen:    idgen,
		items:    make(map[string]*dedup.TrashItem),
		content:  make(map[string][]byte),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// FailOn makes every MoveToTrash of path return err.
func (m *MemoryTrash) FailOn(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = err
}

// Calls returns how many times MoveToTrash was invoked for path.
func (m *MemoryTrash) Calls(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[path]
}

func (m *MemoryTrash) MoveToTrash(ctx context.Context, path string) (*dedup.TrashItem, error) {
	m.mu.Lock()
	m.calls[path]++
	failure := m.failures[path]
	m.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := m.store.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := m.store.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	item := &dedup.TrashItem{
		ID:           m.idgen.New(),
		OriginalPath: path,
		Size:         int64(len(data)),
		DeletedAt:    m.clock.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	m.content[item.ID] = data
	copied := *item
	return &copied, nil
}

func (m *MemoryTrash) List(ctx context.Context) ([]*dedup.TrashItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]*dedup.TrashItem, 0, len(m.items))
	for _, it := range m.items {
		copied := *it
		items = append(items, &copied)
	}
	sortItems(items)
	return items, nil
}

func (m *MemoryTrash) Restore(ctx context.Context, id string, _ dedup.DecryptionContext) (*dedup.TrashItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("trash item not found: %s", id)
	}
	exists, err := m.store.Exists(item.OriginalPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("refusing to overwrite existing file: %s", item.OriginalPath)
	}
	if err := m.store.WriteFile(item.OriginalPath, m.content[id]); err != nil {
		return nil, fmt.Errorf("failed to restore %s: %w", item.OriginalPath, err)
	}
	delete(m.items, id)
	delete(m.content, id)
	return item, nil
}

// ValidateSetup always succeeds for the in-memory trash.
func (m *MemoryTrash) ValidateSetup() error {
	return nil
}

var _ dedup.Trash = (*MemoryTrash)(nil)
