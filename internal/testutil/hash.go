package testutil

import "crypto/sha256"

// SHA256 returns the digest a ContentHash fingerprint of data carries.
func SHA256(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}
