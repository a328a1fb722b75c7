// Package cache remembers content hashes between scans so unchanged files
// are not read again.
package cache

import (
	"crypto/sha256"
	"fmt"
	"time"

	"medup/internal/config"
	"medup/internal/dedup"
)

// Cache is a FingerprintCache that can forget paths and be closed.
type Cache interface {
	dedup.FingerprintCache
	Delete(paths ...string) error
	Close() error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(string, int64, time.Time) ([sha256.Size]byte, bool, error) {
	return [sha256.Size]byte{}, false, nil
}

func (NopCache) Put(string, int64, time.Time, [sha256.Size]byte) error { return nil }
func (NopCache) Delete(...string) error                                 { return nil }
func (NopCache) Close() error                                           { return nil }

// NewCacheFromConfig creates a Cache implementation based on the cache config type.
func NewCacheFromConfig(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "bolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for bolt cache")
		}
		c, err := NewBoltCache(cfg.Path)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "none", "":
		return NopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

var (
	_ Cache = (*BoltCache)(nil)
	_ Cache = NopCache{}
)
