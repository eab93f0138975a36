package bowtie

import "io"

// Encryptor seals database snapshots to a key pair whose private half is
// protected by a passphrase.
type Encryptor interface {
	// GenerateKeys creates the key pair. Existing keys are never replaced.
	GenerateKeys(passphrase string) error

	// Encrypt writes the sealed form of r to w using the public key.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key with passphrase.
	Unlock(passphrase string) (Decryptor, error)

	// HasKeys reports whether the key pair is present.
	HasKeys() bool
}

// Decryptor holds an unlocked private key.
type Decryptor interface {
	Decrypt(r io.Reader, w io.Writer) error
}
