package cas

import (
	"context"
	"database/sql"
	"time"
)

// Database provides the relational records behind the blob store and the
// version graph. Lookups return (nil, nil) when the record does not exist.
// Methods that write more than one row run in a single transaction.
type Database interface {
	// Blob operations

	// FindBlob returns the metadata row for hash.
	FindBlob(ctx context.Context, hash string) (*Blob, error)

	// UpsertBlob inserts the row, or fills in fields of an existing row that
	// were recorded as unknown. Existing non-empty values are never changed.
	UpsertBlob(ctx context.Context, blob *Blob) error

	// TouchBlob records that the blob was stored again at at.
	TouchBlob(ctx context.Context, hash string, at time.Time) error

	// DeleteBlob removes the metadata row for hash.
	DeleteBlob(ctx context.Context, hash string) error

	// FindOrphanBlobs returns blobs last stored before cutoff that no File
	// row references through blob_hash or old_blob_hash, in any workspace.
	FindOrphanBlobs(ctx context.Context, cutoff time.Time) ([]*Blob, error)

	// IsBlobReferenced reports whether any File row references hash.
	IsBlobReferenced(ctx context.Context, hash string) (bool, error)

	// Manifest operations

	// FindManifestByHash returns the manifest index row for a hash tree.
	FindManifestByHash(ctx context.Context, hashTree string) (*ManifestRecord, error)

	// CreateManifest records a manifest document. A row with the same hash
	// tree that already exists is left untouched and returned instead.
	CreateManifest(ctx context.Context, manifest *ManifestRecord) (*ManifestRecord, error)

	// Workspace operations

	CreateWorkspace(ctx context.Context, workspace *Workspace) error
	FindWorkspace(ctx context.Context, id string) (*Workspace, error)
	ListWorkspaces(ctx context.Context, includeDeleted bool) ([]*Workspace, error)
	SoftDeleteWorkspace(ctx context.Context, id string, at time.Time) error

	// PurgeWorkspace hard-deletes the merges and files of a workspace and the
	// workspace row itself. Returns the number of File rows removed.
	PurgeWorkspace(ctx context.Context, id string) (int64, error)

	// Merge operations

	FindMerge(ctx context.Context, id string) (*Merge, error)

	// FindHeadMerge returns the merge with the highest sequence in the workspace.
	FindHeadMerge(ctx context.Context, workspaceID string) (*Merge, error)

	// ListMerges returns merges of a workspace, newest first.
	ListMerges(ctx context.Context, workspaceID string, limit int) ([]*Merge, error)

	// CommitMerge inserts the merge and its file rows atomically. A merge
	// whose (workspace, sequence) is already taken fails with ConcurrentCommit.
	CommitMerge(ctx context.Context, merge *Merge, files []*File) error

	// CreateWorkspaceWithMerge inserts a new workspace together with its first
	// merge and file rows in one transaction.
	CreateWorkspaceWithMerge(ctx context.Context, workspace *Workspace, merge *Merge, files []*File) error

	// FindFilesByMerge returns the file rows persisted against one merge.
	FindFilesByMerge(ctx context.Context, mergeID string) ([]*File, error)

	// FindChainFiles returns every file row on the chain ending at mergeID,
	// nearest merge first, so the first row seen per path is authoritative.
	FindChainFiles(ctx context.Context, mergeID string) ([]*File, error)

	// MergeSession operations

	CreateMergeSession(ctx context.Context, session *MergeSession) error
	FinishMergeSession(ctx context.Context, id string, status string, mergeID sql.NullString, metadata string, at time.Time) error
	ListMergeSessions(ctx context.Context, workspaceID string, limit int) ([]*MergeSession, error)

	// Operation log

	CreateOperation(ctx context.Context, operation string, parameters string) (*Operation, error)
	FinishOperation(ctx context.Context, id int64, status string) error
	ListOperations(ctx context.Context, limit int) ([]*Operation, error)
	MaxOperationID(ctx context.Context) (int64, error)

	// Close closes the database connection.
	Close() error
}
