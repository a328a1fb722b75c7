package trash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"medup/internal/dedup"
)

// FileSystemTrash keeps trashed files in a directory tree:
//
//	<root>/
//	  files/
//	    <id>        (file content, age-encrypted when an encryptor is set)
//	  info/
//	    <id>.json   (original path, size, deletion time)
type FileSystemTrash struct {
	root      string
	filesDir  string
	infoDir   string
	encryptor dedup.Encryptor
	clock     dedup.Clock
	idgen     dedup.IDGenerator
}

// NewFileSystemTrash creates the trash directories under root. encryptor
// may be nil to store files as-is.
func NewFileSystemTrash(root string, encryptor dedup.Encryptor, clock dedup.Clock, idgen dedup.IDGenerator) (*FileSystemTrash, error) {
	filesDir := filepath.Join(root, "files")
	infoDir := filepath.Join(root, "info")

	if err := os.MkdirAll(filesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	if err := os.MkdirAll(infoDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create info directory: %w", err)
	}

	return &FileSystemTrash{
		root:      root,
		filesDir:  filesDir,
		infoDir:   infoDir,
		encryptor: encryptor,
		clock:     clock,
		idgen:     idgen,
	}, nil
}

// MoveToTrash moves path into the trash. The info record is written first
// so a crash never leaves content without its original location.
func (t *FileSystemTrash) MoveToTrash(ctx context.Context, path string) (*dedup.TrashItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	item := &dedup.TrashItem{
		ID:           t.idgen.New(),
		OriginalPath: path,
		Size:         info.Size(),
		DeletedAt:    t.clock.Now().UTC(),
		Encrypted:    t.encryptor != nil,
	}
	if err := t.writeInfo(item); err != nil {
		return nil, err
	}

	dest := filepath.Join(t.filesDir, item.ID)
	if t.encryptor != nil {
		err = t.encryptInto(path, dest)
	} else {
		err = moveFile(path, dest)
	}
	if err != nil {
		os.Remove(t.infoPath(item.ID))
		return nil, err
	}
	return item, nil
}

func (t *FileSystemTrash) encryptInto(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	err = writeFileAtomic(dest, func(w io.Writer) error {
		return t.encryptor.Encrypt(f, w)
	})
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		os.Remove(dest)
		return fmt.Errorf("removing %s: %w", src, err)
	}
	return nil
}

// List returns every trashed item, oldest first.
func (t *FileSystemTrash) List(ctx context.Context) ([]*dedup.TrashItem, error) {
	entries, err := os.ReadDir(t.infoDir)
	if err != nil {
		return nil, fmt.Errorf("reading info directory: %w", err)
	}

	var items []*dedup.TrashItem
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		item, err := t.readInfo(e.Name()[:len(e.Name())-len(".json")])
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

// Restore moves an item back to its original path.
func (t *FileSystemTrash) Restore(ctx context.Context, id string, dec dedup.DecryptionContext) (*dedup.TrashItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	item, err := t.readInfo(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(item.OriginalPath); err == nil {
		return nil, fmt.Errorf("refusing to overwrite existing file: %s", item.OriginalPath)
	}
	if err := os.MkdirAll(filepath.Dir(item.OriginalPath), 0755); err != nil {
		return nil, fmt.Errorf("recreating parent directory: %w", err)
	}

	src := filepath.Join(t.filesDir, id)
	if item.Encrypted {
		if dec == nil {
			return nil, fmt.Errorf("trash item %s is encrypted: passphrase required", id)
		}
		if err := decryptInto(src, item.OriginalPath, dec); err != nil {
			return nil, err
		}
		os.Remove(src)
	} else if err := moveFile(src, item.OriginalPath); err != nil {
		return nil, err
	}

	if err := os.Remove(t.infoPath(id)); err != nil {
		return nil, fmt.Errorf("removing info record: %w", err)
	}
	return item, nil
}

// ValidateSetup verifies that the trash directories are accessible.
func (t *FileSystemTrash) ValidateSetup() error {
	for _, dir := range []string{t.root, t.filesDir, t.infoDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("trash directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("trash path is not a directory: %s", dir)
		}
	}
	return nil
}

func (t *FileSystemTrash) infoPath(id string) string {
	return filepath.Join(t.infoDir, id+".json")
}

func (t *FileSystemTrash) writeInfo(item *dedup.TrashItem) error {
	return writeFileAtomic(t.infoPath(item.ID), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	})
}

func (t *FileSystemTrash) readInfo(id string) (*dedup.TrashItem, error) {
	data, err := os.ReadFile(t.infoPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("trash item not found: %s", id)
		}
		return nil, fmt.Errorf("reading info record: %w", err)
	}
	var item dedup.TrashItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decoding info record %s: %w", id, err)
	}
	return &item, nil
}

// moveFile renames src to dest, copying across devices when needed.
func moveFile(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("moving %s: %w", src, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	if err := writeFileAtomic(dest, func(w io.Writer) error {
		_, err := io.Copy(w, f)
		return err
	}); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		os.Remove(dest)
		return fmt.Errorf("removing %s: %w", src, err)
	}
	return nil
}

func decryptInto(src, dest string, dec dedup.DecryptionContext) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open trashed content: %w", err)
	}
	defer f.Close()

	if err := writeFileAtomic(dest, func(w io.Writer) error {
		return dec.Decrypt(f, w)
	}); err != nil {
		return fmt.Errorf("decrypting to %s: %w", dest, err)
	}
	return nil
}

// writeFileAtomic writes through a temp file in the destination directory
// and renames it into place once synced.
func writeFileAtomic(destPath string, write func(io.Writer) error) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func sortItems(items []*dedup.TrashItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].DeletedAt.Equal(items[j].DeletedAt) {
			return items[i].DeletedAt.Before(items[j].DeletedAt)
		}
		return items[i].ID < items[j].ID
	})
}

var _ dedup.Trash = (*FileSystemTrash)(nil)
