package cas

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// ContentStore is the physical layout under a storage root:
//
//	<root>/blobs/<hash[0:2]>/<hash>
//	<root>/manifests/<YYYY>/<MM>/<uuid>.json
//
// It knows nothing about locking or metadata rows; the BlobStore and the
// VersionGraph drive it.
type ContentStore interface {
	// BlobPath returns the canonical path of hash.
	BlobPath(hash string) string

	// Sealed reports whether the canonical file of hash exists and is no
	// longer writable. info is nil when the file does not exist.
	Sealed(hash string) (sealed bool, info fs.FileInfo, err error)

	// WriteBlob creates a temp file in the shard directory, lets write fill
	// it, fsyncs it and renames it onto the canonical path, then seals it
	// read-only. The temp file is removed on every failure and the rename
	// is skipped if ctx is done. Returns the stored size.
	WriteBlob(ctx context.Context, hash string, write func(w io.Writer) error) (int64, error)

	// OpenBlob opens the stored (possibly compressed) bytes of hash.
	OpenBlob(hash string) (io.ReadCloser, error)

	// RemoveBlob deletes the canonical file of hash. Missing files are ignored.
	RemoveBlob(hash string) error

	// SweepTemp removes temp files last modified before cutoff.
	SweepTemp(cutoff time.Time) (int, error)

	// WriteManifest atomically writes a manifest document and returns its
	// path relative to the root.
	WriteManifest(ctx context.Context, id string, version time.Time, doc []byte) (string, error)

	// ReadManifest reads a manifest document by its root-relative path.
	ReadManifest(relPath string) ([]byte, error)

	// ValidateSetup verifies the root is accessible.
	ValidateSetup() error
}
