package encryption

import (
	"fmt"

	"cas-go/internal/cas"
	"cas-go/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Type "none" returns a nil Encryptor: archive snapshots are uploaded
// in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (cas.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
