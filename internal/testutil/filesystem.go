package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"medup/internal/dedup"
)

// MockFile is one file or directory in the mock filesystem. Hard links
// share a single MockFile.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
	Ino         uint64
}

// MockFilesystemManager is an in-memory filesystem for testing. It is safe
// for concurrent use.
type MockFilesystemManager struct {
	mu        sync.RWMutex
	files     map[string]*MockFile
	openErrs  map[string]error
	nextIno   uint64
	walkSkips []dedup.SkippedFile
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:    make(map[string]*MockFile),
		openErrs: make(map[string]error),
	}
}

func (m *MockFilesystemManager) newFile(content []byte, isDir bool) *MockFile {
	m.nextIno++
	perm := fs.FileMode(0644)
	if isDir {
		perm = 0755
	}
	return &MockFile{
		Content:     content,
		Permissions: perm,
		ModTime:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		IsDirectory: isDir,
		Ino:         m.nextIno,
	}
}

// AddFile adds a file, creating missing parent directories.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addParents(path)
	m.files[path] = m.newFile(content, false)
}

// AddDirectory adds a directory and its missing parents.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addParents(path)
	if _, ok := m.files[path]; !ok {
		m.files[path] = m.newFile(nil, true)
	}
}

// AddHardLink makes path another name for target.
func (m *MockFilesystemManager) AddHardLink(path, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[target]
	if !ok {
		panic("AddHardLink: no such target " + target)
	}
	m.addParents(path)
	m.files[path] = f
}

// FailOpen makes every Open of path return err.
func (m *MockFilesystemManager) FailOpen(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErrs[path] = err
}

// AddWalkSkip makes FindFiles report an unreadable entry.
func (m *MockFilesystemManager) AddWalkSkip(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walkSkips = append(m.walkSkips, dedup.SkippedFile{Path: path, Err: err})
}

// Has reports whether path is present.
func (m *MockFilesystemManager) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}

func (m *MockFilesystemManager) addParents(path string) {
	for dir := filepath.Dir(path); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		if _, ok := m.files[dir]; ok {
			return
		}
		m.files[dir] = m.newFile(nil, true)
	}
}

func (m *MockFilesystemManager) info(path string, f *MockFile) *mockFileInfo {
	return &mockFileInfo{
		name:     filepath.Base(path),
		size:     int64(len(f.Content)),
		mode:     f.Permissions,
		modTime:  f.ModTime,
		isDir:    f.IsDirectory,
		mockFile: f,
	}
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*dedup.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[absPath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", absPath)
	}
	return dedup.NewPath(absPath, f.IsDirectory, m.info(absPath, f)), nil
}

func (m *MockFilesystemManager) Open(path *dedup.Path) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.openErrs[path.String()]; err != nil {
		return nil, err
	}
	f, ok := m.files[path.String()]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path.String())
	}
	if f.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path.String())
	}
	return io.NopCloser(bytes.NewReader(f.Content)), nil
}

func (m *MockFilesystemManager) Stat(path *dedup.Path) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path.String()]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path.String())
	}
	return m.info(path.String(), f), nil
}

// FindFiles returns every file below root in lexical order.
func (m *MockFilesystemManager) FindFiles(ctx context.Context, root *dedup.Path) ([]*dedup.Path, []dedup.SkippedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := strings.TrimSuffix(root.String(), "/") + "/"
	var names []string
	for p, f := range m.files {
		if !f.IsDirectory && strings.HasPrefix(p, prefix) {
			names = append(names, p)
		}
	}
	sort.Strings(names)

	paths := make([]*dedup.Path, len(names))
	for i, p := range names {
		paths[i] = dedup.NewPath(p, false, m.info(p, m.files[p]))
	}

	var skipped []dedup.SkippedFile
	for _, s := range m.walkSkips {
		if strings.HasPrefix(s.Path, prefix) {
			skipped = append(skipped, s)
		}
	}
	return paths, skipped, nil
}

func (m *MockFilesystemManager) Identify(path *dedup.Path) (dedup.FileID, error) {
	info, ok := path.Info().(*mockFileInfo)
	if !ok {
		return dedup.FileID{}, fmt.Errorf("not a mock path: %s", path.String())
	}
	return dedup.FileID{Dev: 1, Ino: info.mockFile.Ino}, nil
}

func (m *MockFilesystemManager) Exists(absPath string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[absPath]
	return ok, nil
}

// ReadFile, WriteFile and Remove let the mock back an in-memory trash.

func (m *MockFilesystemManager) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok || f.IsDirectory {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return bytes.Clone(f.Content), nil
}

func (m *MockFilesystemManager) WriteFile(path string, data []byte) error {
	m.AddFile(path, bytes.Clone(data))
	return nil
}

func (m *MockFilesystemManager) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("file not found: %s", path)
	}
	delete(m.files, path)
	return nil
}

type mockFileInfo struct {
	name     string
	size     int64
	mode     fs.FileMode
	modTime  time.Time
	isDir    bool
	mockFile *MockFile
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return m.mockFile }

var _ dedup.FilesystemManager = (*MockFilesystemManager)(nil)
