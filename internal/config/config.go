package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for medup.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	Scan       ScanConfig       `toml:"scan"`
	Trash      TrashConfig      `toml:"trash"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Cache      CacheConfig      `toml:"cache"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	ExifTool   ExifToolConfig   `toml:"exiftool"`
}

// ScanConfig controls how files are fingerprinted and matched.
type ScanConfig struct {
	Mode                string `toml:"mode"`              // "exact" (default), "metadata" or "size"
	MissingTimestamp    string `toml:"missing_timestamp"` // "equal" (default) or "distinct"
	Perceptual          bool   `toml:"perceptual"`        // add a perceptual signature to metadata fingerprints
	Workers             int    `toml:"workers"`           // 0 means GOMAXPROCS
	MinSize             uint64 `toml:"min_size"`
	Similarity          bool   `toml:"similarity"` // run the perceptual similarity pass
	SimilarityThreshold int    `toml:"similarity_threshold"`
	DeleteWorkers       int    `toml:"delete_workers"`
}

// TrashConfig selects where deleted files go.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type TrashConfig struct {
	Type    string `toml:"type"` // "filesystem" or "s3"
	Encrypt bool   `toml:"encrypt"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSTrashRoot string `toml:"fs_trash_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for trash encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DatabaseConfig represents configuration for the session database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CacheConfig configures the content hash cache.
type CacheConfig struct {
	Type string `toml:"type"`           // "bolt" or "none"
	Path string `toml:"path,omitempty"` // only used for type=bolt
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// ExifToolConfig locates the exiftool binary used to write capture times.
type ExifToolConfig struct {
	Path string `toml:"path"`
}

// NewConfig creates a Config rooted at baseDir with working defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Scan: ScanConfig{
			Mode:                "exact",
			MissingTimestamp:    "equal",
			SimilarityThreshold: 5,
		},
		Trash: TrashConfig{
			Type:        "filesystem",
			FSTrashRoot: filepath.Join(baseDir, "trash"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "medup.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "medup.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Cache:    CacheConfig{Type: "bolt", Path: filepath.Join(baseDir, "cache", "fingerprints.db")},
		Filesystem: FilesystemConfig{
			Ignore: []string{".DS_Store", "Thumbs.db", "desktop.ini"},
		},
		ExifTool: ExifToolConfig{Path: "exiftool"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
