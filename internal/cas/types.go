package cas

import (
	"database/sql"
	"time"
)

// Blob is the metadata record of one physical, content-addressed file.
// Hash is the 64-character lowercase hex SHA-256 identity of the content.
type Blob struct {
	Hash                string
	MimeType            string
	IsBinary            bool
	OriginalSizeBytes   int64
	StoredSizeBytes     int64
	IsStoredCompressed  bool
	CompressionType     sql.NullString // "zstd" or "lz4"; invalid when stored raw
	IsAlreadyCompressed bool
	CreatedAt           time.Time
	// LastStoredAt is refreshed every time Store is asked for the blob
	// again. Invalid on rows that predate the column.
	LastStoredAt sql.NullTime
}

// StoredAt returns the last time the blob was stored or re-stored. The GC
// grace period counts from here.
func (b *Blob) StoredAt() time.Time {
	if b.LastStoredAt.Valid && b.LastStoredAt.Time.After(b.CreatedAt) {
		return b.LastStoredAt.Time
	}
	return b.CreatedAt
}

// Shard returns the two-character directory and lock-granularity key of the blob.
func (b *Blob) Shard() string {
	return ShardOf(b.Hash)
}

// ShardOf returns the first two hex characters of a blob hash.
func ShardOf(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2]
}

// BlobMetadata is optional caller-supplied classification for Store.
// Nil fields are detected from the content.
type BlobMetadata struct {
	MimeType *string
	IsBinary *bool
}

// StoreResult is what Store hands back to the upload layer.
type StoreResult struct {
	Hash              string
	OriginalSizeBytes int64
	StoredSizeBytes   int64
	CompressionType   string // empty when stored raw
	MimeType          string
	IsBinary          bool
	// Deduplicated is true when the blob was already sealed and nothing was written.
	Deduplicated bool
}

// Action describes how a path changed at a Merge relative to its parent.
type Action string

const (
	ActionAdded     Action = "added"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionCopied    Action = "copied"
	ActionUnchanged Action = "unchanged"
)

// Visibility of a workspace.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityShared, VisibilityPublic:
		return true
	}
	return false
}

// SourceType names the origin of a version-graph operation.
type SourceType string

const (
	SourceRemote   SourceType = "remote"
	SourceUpload   SourceType = "upload"
	SourceManual   SourceType = "manual"
	SourceRollback SourceType = "rollback"
	SourceClone    SourceType = "clone"
)

// Session statuses.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// Workspace is a named, owned container of versioned files.
type Workspace struct {
	ID         string
	Name       string
	Owner      string
	Visibility Visibility
	CreatedAt  time.Time
	DeletedAt  sql.NullTime
}

// Deleted reports whether the workspace has been soft-deleted.
func (w *Workspace) Deleted() bool {
	return w.DeletedAt.Valid
}

// ManifestRecord is the relational index row of a manifest document.
type ManifestRecord struct {
	ID             string // UUID, also the document file name
	HashTreeSHA256 string
	Source         string
	Version        string
	TotalFiles     int64
	TotalSizeBytes int64
	Path           string // document path relative to the storage root
	CreatedAt      time.Time
}

// Merge is one node of a workspace's linear history.
type Merge struct {
	ID           string
	PrevMergeID  sql.NullString
	WorkspaceID  string
	Sequence     int64
	ManifestHash string
	Label        string
	Message      string
	MergedAt     time.Time
}

// File is a merge-scoped path entry. It never carries content, only a pointer.
type File struct {
	MergeID        string
	RelativePath   string
	BlobHash       string
	OldBlobHash    sql.NullString
	Action         Action
	SizeBytes      int64
	FileModifiedAt string
}

// MergeSession is an append-only audit record of one version-graph operation.
type MergeSession struct {
	ID          string
	WorkspaceID string
	MergeID     sql.NullString
	SourceType  SourceType
	Status      string
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	Metadata    string // JSON object
}

// Operation is a recorded CLI operation that mutated the database.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Operation  string
	Parameters string
	Status     string
}

// StateEntry is one path of a resolved workspace state.
type StateEntry struct {
	RelativePath   string
	BlobHash       string
	SizeBytes      int64
	FileModifiedAt string
}

// DiffSummary counts the persisted File rows of a commit by action.
type DiffSummary struct {
	Added     int
	Updated   int
	Deleted   int
	Unchanged int
}

// Changed reports whether the diff produced any File rows.
func (d DiffSummary) Changed() bool {
	return d.Added+d.Updated+d.Deleted > 0
}

// CommitResult is returned by CommitSnapshot.
type CommitResult struct {
	MergeID        string
	HashTreeSHA256 string
	Diff           DiffSummary
}

// ProgressEvent reports the progress of a multi-file store.
type ProgressEvent struct {
	Processed int
	Total     int
	Path      string
	LastHash  string
	Result    *StoreResult
}

// OrphanBlob is a GC candidate.
type OrphanBlob struct {
	Hash              string
	OriginalSizeBytes int64
	StoredSizeBytes   int64
}

// CollectResult summarizes one GC run.
type CollectResult struct {
	DryRun       bool
	DeletedCount int
	FreedBytes   int64
	Candidates   []OrphanBlob
	TempSwept    int
}
