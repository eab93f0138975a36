package encryption

import (
	"fmt"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/config"
)

// NewEncryptorFromConfig returns the encryptor selected by cfg.Type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (bowtie.Encryptor, error) {
	switch cfg.Type {
	case "", "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	}
	return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
}
