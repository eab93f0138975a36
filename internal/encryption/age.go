// Package encryption seals database snapshots with age.
package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/config"
)

// ErrKeysExist is returned when generating keys over an existing pair.
var ErrKeysExist = errors.New("encryption keys already exist")

// AgeEncryptor uses an X25519 key pair. The recipient (public key) is stored
// in plaintext; the identity (private key) is itself sealed with the
// passphrase using age's scrypt recipient.
type AgeEncryptor struct {
	recipientPath string
	identityPath  string
}

var _ bowtie.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor using the configured key paths.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		recipientPath: cfg.PublicKeyPath,
		identityPath:  cfg.PrivateKeyPath,
	}
}

func (e *AgeEncryptor) GenerateKeys(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	if exists(e.recipientPath) || exists(e.identityPath) {
		return ErrKeysExist
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	lock, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	var sealed bytes.Buffer
	if err := seal(strings.NewReader(identity.String()+"\n"), &sealed, lock); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	for _, p := range []string{e.recipientPath, e.identityPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(e.identityPath, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(e.recipientPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	data, err := os.ReadFile(e.recipientPath)
	if err != nil {
		return fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipient in %s", e.recipientPath)
	}
	return seal(r, w, recipients...)
}

func (e *AgeEncryptor) Unlock(passphrase string) (bowtie.Decryptor, error) {
	sealed, err := os.ReadFile(e.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	unlock, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	var plain bytes.Buffer
	if err := (&AgeDecryptor{identities: []age.Identity{unlock}}).Decrypt(bytes.NewReader(sealed), &plain); err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}

	identities, err := age.ParseIdentities(&plain)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identity in %s", e.identityPath)
	}
	return &AgeDecryptor{identities: identities}, nil
}

func (e *AgeEncryptor) HasKeys() bool {
	return exists(e.recipientPath) && exists(e.identityPath)
}

// AgeDecryptor decrypts with unlocked identities.
type AgeDecryptor struct {
	identities []age.Identity
}

var _ bowtie.Decryptor = (*AgeDecryptor)(nil)

func (d *AgeDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(r, d.identities...)
	if err != nil {
		return fmt.Errorf("opening ciphertext: %w", err)
	}
	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}

func seal(r io.Reader, w io.Writer, recipients ...age.Recipient) error {
	sealed, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(sealed, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	return sealed.Close()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
