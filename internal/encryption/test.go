package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"bowtie-go/internal/bowtie"
)

// testMagic marks output of TestEncryptor.
var testMagic = []byte("BOWTIE\x00\x01")

// ErrNotSealed is returned when decrypting data without the test marker.
var ErrNotSealed = errors.New("data was not sealed by the test encryptor")

// TestEncryptor frames data with a fixed marker instead of encrypting it.
// Output is deterministic and always differs from the input.
type TestEncryptor struct {
	generated bool
}

var _ bowtie.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) GenerateKeys(string) error {
	e.generated = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (bowtie.Decryptor, error) {
	return TestDecryptor{}, nil
}

func (e *TestEncryptor) HasKeys() bool { return true }

// TestDecryptor strips the marker written by TestEncryptor.
type TestDecryptor struct{}

var _ bowtie.Decryptor = TestDecryptor{}

func (TestDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	marker := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, marker); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(marker, testMagic) {
		return ErrNotSealed
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
