package testutil

import "cas-go/internal/archive"

// NewTestArchive returns an empty in-memory archive.
func NewTestArchive(name string) *archive.MemoryArchive {
	return archive.NewMemoryArchive(name)
}
