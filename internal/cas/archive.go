package cas

import (
	"context"
	"io"
)

// Archive is an off-site target for copies of the metadata database.
// Blob content is never archived; only named metadata items are.
type Archive interface {
	// Name returns the configured name of the archive.
	Name() string

	// PutMetadata stores a named item for a host. size is the number of
	// bytes that will be read from r; version is stored alongside so that a
	// later process can tell whether its local copy is behind.
	// Known names: "db" (SQLite snapshot), "public_key", "private_key".
	PutMetadata(ctx context.Context, hostID, name string, r io.Reader, size, version int64) error

	// GetMetadata writes the named item for a host to w.
	GetMetadata(ctx context.Context, hostID, name string, w io.Writer) error

	// GetMetadataVersion returns the stored version, or 0 if the item has
	// never been archived for this host.
	GetMetadataVersion(ctx context.Context, hostID, name string) (int64, error)

	// ValidateSetup verifies that the archive is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
