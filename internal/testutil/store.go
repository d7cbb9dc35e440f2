package testutil

import (
	"path/filepath"
	"testing"

	"cas-go/internal/blobfs"
	"cas-go/internal/cas"
	"cas-go/internal/database"
	"cas-go/internal/lock"
)

// Store bundles a storage root with every component built on it.
type Store struct {
	Root    string
	DB      *database.SQLiteDatabase
	Content *blobfs.Store
	Locker  *lock.LocalLocker
	Clock   *StubClock
	IDs     *StubIDGenerator

	Blobs *cas.BlobStore
	Graph *cas.VersionGraph
	GC    *cas.Collector
}

// NewTestStore creates a storage root under t.TempDir with a migrated
// in-memory database, a local locker and a fixed clock.
func NewTestStore(t *testing.T, opts cas.BlobStoreOptions) *Store {
	t.Helper()

	base := t.TempDir()
	content, err := blobfs.New(filepath.Join(base, "storage"))
	if err != nil {
		t.Fatalf("creating content store: %v", err)
	}
	locker, err := lock.NewLocalLocker(filepath.Join(base, "locks"))
	if err != nil {
		t.Fatalf("creating locker: %v", err)
	}

	s := &Store{
		Root:    content.Root(),
		DB:      NewTestDatabase(t),
		Content: content,
		Locker:  locker,
		Clock:   FixedClock(),
		IDs:     NewStubIDGenerator(),
	}
	s.Blobs = cas.NewBlobStore(s.DB, content, locker, nil, s.Clock, opts)
	s.Graph = cas.NewVersionGraph(s.DB, content, locker, nil, s.Clock, s.IDs, 0)
	s.GC = cas.NewCollector(s.DB, content, locker, nil, s.Clock, cas.GCOptions{})
	return s
}
