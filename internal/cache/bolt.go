package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"medup/internal/dedup"
)

// BucketName holds one entry per absolute file path.
const BucketName = "content_hashes"

// openTimeout bounds the wait for the file lock held by another process.
const openTimeout = time.Second

type entry struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
	SHA256  string `json:"sha256"`
}

// BoltCache stores content hashes in a bbolt file. An entry is only
// returned while the file's size and modification time are unchanged.
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens or creates the cache file at path.
func NewBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening fingerprint cache %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}

	return &BoltCache{db: db}, nil
}

func (c *BoltCache) Get(path string, size int64, modTime time.Time) ([sha256.Size]byte, bool, error) {
	var sum [sha256.Size]byte
	var e entry
	found := false

	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketName)).Get([]byte(path))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &e)
	})
	if err != nil {
		return sum, false, fmt.Errorf("reading cache entry for %s: %w", path, err)
	}
	if !found || e.Size != size || e.ModTime != modTime.UnixNano() {
		return sum, false, nil
	}

	raw, err := hex.DecodeString(e.SHA256)
	if err != nil || len(raw) != sha256.Size {
		return sum, false, nil
	}
	copy(sum[:], raw)
	return sum, true, nil
}

func (c *BoltCache) Put(path string, size int64, modTime time.Time, sum [sha256.Size]byte) error {
	data, err := json.Marshal(entry{
		Size:    size,
		ModTime: modTime.UnixNano(),
		SHA256:  hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketName)).Put([]byte(path), data)
	})
}

// Delete drops the entries for paths, typically after they were trashed.
func (c *BoltCache) Delete(paths ...string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		for _, p := range paths {
			if err := b.Delete([]byte(p)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of cached entries.
func (c *BoltCache) Len() (int, error) {
	n := 0
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(BucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}

var _ dedup.FingerprintCache = (*BoltCache)(nil)
