package trash

import (
	"context"
	"fmt"

	"medup/internal/config"
	"medup/internal/dedup"
)

// NewTrashFromConfig creates a Trash implementation based on the trash
// config type. encryptor is only used when cfg.Encrypt is set. logger may
// be nil.
func NewTrashFromConfig(ctx context.Context, cfg config.TrashConfig, encryptor dedup.Encryptor, clock dedup.Clock, idgen dedup.IDGenerator, logger dedup.Logger) (dedup.Trash, error) {
	if !cfg.Encrypt {
		encryptor = nil
	} else if encryptor == nil || !encryptor.IsConfigured() {
		return nil, fmt.Errorf("trash encryption enabled but no keys are configured (run 'medup keys init')")
	}

	switch cfg.Type {
	case "filesystem":
		if cfg.FSTrashRoot == "" {
			return nil, fmt.Errorf("filesystem trash requires fs_trash_root to be set")
		}
		return NewFileSystemTrash(cfg.FSTrashRoot, encryptor, clock, idgen)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 trash requires s3_bucket to be set")
		}
		client, err := NewS3Client(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Trash(client, cfg.S3Bucket, cfg.S3Prefix, encryptor, clock, idgen, logger), nil
	default:
		return nil, fmt.Errorf("unknown trash type: %s", cfg.Type)
	}
}
