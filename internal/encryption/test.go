package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"cas-go/internal/cas"
)

// testHeader opens every TestEncryptor output: magic, then format version.
var testHeader = []byte("CASENC\x00\x01")

// testMask is XORed over the payload so a masked database snapshot never
// carries the SQLite magic or any other readable plaintext.
var testMask = []byte("cas-test-encryptor-mask")

// TestEncryptor stands in for age in tests and in the "test" encryption
// type. It is deterministic and keyless: output is the header followed by
// the masked payload. A passphrase given to Setup is checked by Unlock,
// so callers can exercise the wrong-passphrase path without age keys.
type TestEncryptor struct {
	passphrase string
}

var _ cas.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor returns an encryptor that unlocks with any passphrase
// until Setup fixes one.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(&maskWriter{w: w}, r); err != nil {
		return fmt.Errorf("masking payload: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (cas.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext reverses TestEncryptor.Encrypt.
type TestDecryptionContext struct{}

var _ cas.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header[:6], testHeader[:6]) {
		return errors.New("not a test-encrypted stream")
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("unsupported test encryption version %d", header[len(header)-1])
	}
	if _, err := io.Copy(&maskWriter{w: w}, br); err != nil {
		return fmt.Errorf("unmasking payload: %w", err)
	}
	return nil
}

// maskWriter XORs everything written through it with testMask. Each stream
// gets a fresh maskWriter so the mask starts at offset zero.
type maskWriter struct {
	w   io.Writer
	off int
}

func (m *maskWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	for i, b := range p {
		buf[i] = b ^ testMask[(m.off+i)%len(testMask)]
	}
	n, err := m.w.Write(buf)
	m.off += n
	return n, err
}
