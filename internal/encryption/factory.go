package encryption

import (
	"fmt"
	"strings"

	"medup/internal/config"
	"medup/internal/dedup"
)

// NewEncryptorFromConfig picks the trash encryptor named by cfg.Type.
// The age encryptor needs both key paths even before keys exist, since
// keys init writes to them.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (dedup.Encryptor, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "age":
		var missing []string
		if cfg.PublicKeyPath == "" {
			missing = append(missing, "public_key_path")
		}
		if cfg.PrivateKeyPath == "" {
			missing = append(missing, "private_key_path")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("age encryption: %s not set", strings.Join(missing, ", "))
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	}
	return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
}
