package dedup

import "io"

// Encryptor protects trashed content at rest. Encryption needs only the
// public key; decryption needs the passphrase to unlock the private key.
type Encryptor interface {
	// Setup generates a key pair and stores the private key encrypted
	// with passphrase.
	Setup(passphrase string) error

	// Encrypt writes the ciphertext of r to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context able to
	// decrypt trashed content.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
