package encryption

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"medup/internal/dedup"
)

var testMagic = []byte("MEDUPENC")

// scrambleMask is XORed into every payload byte so a trashed file never
// matches its source fingerprint.
const scrambleMask = 0x5a

// TestEncryptor writes testMagic followed by the XOR-scrambled payload.
// Unlock accepts only the passphrase given to Setup, which is empty
// until Setup is called.
type TestEncryptor struct {
	passphrase string
}

var _ dedup.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	return scramble(r, w)
}

func (e *TestEncryptor) Unlock(passphrase string) (dedup.DecryptionContext, error) {
	if passphrase != e.passphrase {
		return nil, fmt.Errorf("decrypting private key: wrong passphrase")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext reverses TestEncryptor.
type TestDecryptionContext struct{}

var _ dedup.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	header, err := br.Peek(len(testMagic))
	if err != nil || !bytes.Equal(header, testMagic) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := br.Discard(len(testMagic)); err != nil {
		return err
	}
	return scramble(br, w)
}

func scramble(r io.Reader, w io.Writer) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for i := range buf[:n] {
				buf[i] ^= scrambleMask
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("copying data: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("copying data: %w", err)
		}
	}
}
