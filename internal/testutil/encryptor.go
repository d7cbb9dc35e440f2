package testutil

import (
	"cas-go/internal/cas"
	"cas-go/internal/encryption"
)

// NewTestEncryptor returns the deterministic keyless encryptor used for
// archive snapshots in tests.
func NewTestEncryptor() cas.Encryptor {
	return encryption.NewTestEncryptor()
}
