package cas

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CommitOptions annotate a committed snapshot.
type CommitOptions struct {
	Label      string
	Message    string
	SourceType SourceType // defaults to upload
}

// RollbackOptions select where a rolled-back state is materialized.
// With TargetWorkspaceID set the state is applied on top of that workspace;
// otherwise a new workspace is created, named NewName or
// "<name>-rollback-<merge id prefix>".
type RollbackOptions struct {
	NewName           string
	TargetWorkspaceID string
}

// RollbackResult describes the merge created by Rollback or Clone.
type RollbackResult struct {
	WorkspaceID string
	MergeID     string
	FilesCopied int
}

// WorkspaceOptions describe a new workspace.
type WorkspaceOptions struct {
	Name       string
	Owner      string
	Visibility Visibility
}

// VersionGraph tracks workspaces as linear chains of merges whose file rows
// point at blobs by hash.
type VersionGraph struct {
	db          Database
	content     ContentStore
	locker      Locker
	logger      Logger
	clock       Clock
	ids         IDGenerator
	lockTimeout time.Duration
}

// NewVersionGraph wires a VersionGraph. A zero lockTimeout selects
// DefaultLockTimeout.
func NewVersionGraph(db Database, content ContentStore, locker Locker, logger Logger, clock Clock, ids IDGenerator, lockTimeout time.Duration) *VersionGraph {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &VersionGraph{
		db:          db,
		content:     content,
		locker:      locker,
		logger:      logger,
		clock:       clock,
		ids:         ids,
		lockTimeout: lockTimeout,
	}
}

// CreateWorkspace creates an empty workspace.
func (g *VersionGraph) CreateWorkspace(ctx context.Context, opts WorkspaceOptions) (*Workspace, error) {
	if opts.Name == "" {
		return nil, Errorf(KindInternal, "create workspace", "name is required")
	}
	if opts.Visibility == "" {
		opts.Visibility = VisibilityPrivate
	}
	if !opts.Visibility.Valid() {
		return nil, Errorf(KindInternal, "create workspace", "invalid visibility %q", opts.Visibility)
	}

	ws := &Workspace{
		ID:         g.ids.New(),
		Name:       opts.Name,
		Owner:      opts.Owner,
		Visibility: opts.Visibility,
		CreatedAt:  g.clock.Now(),
	}
	if err := g.db.CreateWorkspace(ctx, ws); err != nil {
		return nil, dbError("create workspace", err)
	}
	g.logger.Info("created workspace", "workspace", ws.ID, "name", ws.Name)
	return ws, nil
}

// GetWorkspace returns a workspace, including soft-deleted ones.
func (g *VersionGraph) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	ws, err := g.db.FindWorkspace(ctx, id)
	if err != nil {
		return nil, dbError("get workspace", err)
	}
	if ws == nil {
		return nil, Errorf(KindWorkspaceNotFound, "get workspace", "workspace not found: %s", id)
	}
	return ws, nil
}

// ListWorkspaces returns workspaces, optionally with soft-deleted ones.
func (g *VersionGraph) ListWorkspaces(ctx context.Context, includeDeleted bool) ([]*Workspace, error) {
	list, err := g.db.ListWorkspaces(ctx, includeDeleted)
	if err != nil {
		return nil, dbError("list workspaces", err)
	}
	return list, nil
}

// DeleteWorkspace soft-deletes a workspace. Its merges and files remain and
// keep their blobs alive until PurgeWorkspace.
func (g *VersionGraph) DeleteWorkspace(ctx context.Context, id string) error {
	ws, err := g.activeWorkspace(ctx, "delete workspace", id)
	if err != nil {
		return err
	}
	if err := g.db.SoftDeleteWorkspace(ctx, ws.ID, g.clock.Now()); err != nil {
		return dbError("delete workspace", err)
	}
	g.logger.Info("deleted workspace", "workspace", ws.ID)
	return nil
}

// PurgeWorkspace hard-removes a soft-deleted workspace with its merges and
// files. Returns the number of file rows removed.
func (g *VersionGraph) PurgeWorkspace(ctx context.Context, id string) (int64, error) {
	ws, err := g.GetWorkspace(ctx, id)
	if err != nil {
		return 0, err
	}
	if !ws.Deleted() {
		return 0, Errorf(KindInternal, "purge workspace", "workspace %s must be deleted before it is purged", id)
	}

	return WithLock(ctx, g.locker, WorkspaceLockKey(id), g.lockTimeout, func() (int64, error) {
		n, err := g.db.PurgeWorkspace(ctx, id)
		if err != nil {
			return 0, dbError("purge workspace", err)
		}
		g.logger.Info("purged workspace", "workspace", id, "files", n)
		return n, nil
	})
}

// CommitSnapshot diffs the snapshot against the workspace head and appends
// a merge holding only the changed paths. The chain extension is serialized
// per workspace; a head that moved underneath is a ConcurrentCommit.
func (g *VersionGraph) CommitSnapshot(ctx context.Context, workspaceID string, in ManifestInput, opts CommitOptions) (*CommitResult, error) {
	const op = "commit snapshot"

	m, err := BuildManifest(in)
	if err != nil {
		return nil, err
	}
	ws, err := g.activeWorkspace(ctx, op, workspaceID)
	if err != nil {
		return nil, err
	}
	if opts.SourceType == "" {
		opts.SourceType = SourceUpload
	}

	sess, err := g.startSession(ctx, ws.ID, opts.SourceType, map[string]any{
		"source":           m.Source,
		"version":          m.Version,
		"hash_tree_sha256": m.HashTreeSHA256,
		"total_files":      m.TotalFiles,
	})
	if err != nil {
		return nil, err
	}

	result, err := WithLock(ctx, g.locker, WorkspaceLockKey(ws.ID), g.lockTimeout, func() (*CommitResult, error) {
		return g.commit(ctx, ws, m, opts)
	})

	if err != nil {
		g.failSession(ctx, sess, err)
		g.logger.Warn("commit failed", "workspace", ws.ID, "error", err)
		return nil, err
	}
	g.completeSession(ctx, sess, result.MergeID, map[string]any{
		"added":     result.Diff.Added,
		"updated":   result.Diff.Updated,
		"deleted":   result.Diff.Deleted,
		"unchanged": result.Diff.Unchanged,
	})
	g.logger.Info("committed snapshot",
		"workspace", ws.ID,
		"merge", result.MergeID,
		"added", result.Diff.Added,
		"updated", result.Diff.Updated,
		"deleted", result.Diff.Deleted)
	return result, nil
}

func (g *VersionGraph) commit(ctx context.Context, ws *Workspace, m *Manifest, opts CommitOptions) (*CommitResult, error) {
	const op = "commit snapshot"

	head, err := g.db.FindHeadMerge(ctx, ws.ID)
	if err != nil {
		return nil, dbError(op, err)
	}
	current, err := g.stateOf(ctx, head)
	if err != nil {
		return nil, err
	}

	rows, summary := diffState(current, m.Files)

	record, err := g.persistManifest(ctx, m)
	if err != nil {
		return nil, err
	}

	merge := g.nextMerge(ws.ID, head, record.HashTreeSHA256)
	merge.Label = opts.Label
	merge.Message = opts.Message
	if err := g.db.CommitMerge(ctx, merge, rows); err != nil {
		return nil, dbError(op, err)
	}

	return &CommitResult{
		MergeID:        merge.ID,
		HashTreeSHA256: record.HashTreeSHA256,
		Diff:           summary,
	}, nil
}

// Rollback materializes the state at mergeID, which must belong to
// workspaceID, as a new workspace or on top of an existing target. The
// source workspace is never modified.
func (g *VersionGraph) Rollback(ctx context.Context, workspaceID, mergeID string, opts RollbackOptions) (*RollbackResult, error) {
	return g.rollback(ctx, workspaceID, mergeID, opts, SourceRollback)
}

// Clone copies the head state of a workspace into a new workspace.
func (g *VersionGraph) Clone(ctx context.Context, workspaceID, newName string) (*RollbackResult, error) {
	head, err := g.db.FindHeadMerge(ctx, workspaceID)
	if err != nil {
		return nil, dbError("clone", err)
	}
	if head == nil {
		if _, err := g.activeWorkspace(ctx, "clone", workspaceID); err != nil {
			return nil, err
		}
		return nil, Errorf(KindMergeNotFound, "clone", "workspace %s has no merges", workspaceID)
	}
	if newName == "" {
		ws, err := g.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		newName = ws.Name + "-clone"
	}
	return g.rollback(ctx, workspaceID, head.ID, RollbackOptions{NewName: newName}, SourceClone)
}

func (g *VersionGraph) rollback(ctx context.Context, workspaceID, mergeID string, opts RollbackOptions, source SourceType) (*RollbackResult, error) {
	op := string(source)

	ws, err := g.activeWorkspace(ctx, op, workspaceID)
	if err != nil {
		return nil, err
	}
	m, err := g.GetMerge(ctx, mergeID)
	if err != nil {
		return nil, err
	}
	if m.WorkspaceID != ws.ID {
		return nil, Errorf(KindMergeNotFound, op, "merge %s does not belong to workspace %s", mergeID, ws.ID)
	}

	want, err := g.stateOf(ctx, m)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"source_merge_id": m.ID}
	if opts.TargetWorkspaceID != "" {
		meta["target_workspace_id"] = opts.TargetWorkspaceID
	}
	sess, err := g.startSession(ctx, ws.ID, source, meta)
	if err != nil {
		return nil, err
	}

	var result *RollbackResult
	if opts.TargetWorkspaceID != "" {
		result, err = g.rollbackOnto(ctx, opts.TargetWorkspaceID, m, want)
	} else {
		name := opts.NewName
		if name == "" {
			name = fmt.Sprintf("%s-rollback-%s", ws.Name, shortID(m.ID))
		}
		result, err = g.rollbackInto(ctx, ws, name, m, want)
	}
	if err != nil {
		g.failSession(ctx, sess, err)
		g.logger.Warn(op+" failed", "workspace", ws.ID, "merge", m.ID, "error", err)
		return nil, err
	}

	g.completeSession(ctx, sess, result.MergeID, map[string]any{
		"target_workspace_id": result.WorkspaceID,
		"files_copied":        result.FilesCopied,
	})
	g.logger.Info(op+" complete",
		"workspace", ws.ID,
		"merge", m.ID,
		"target", result.WorkspaceID,
		"files_copied", result.FilesCopied)
	return result, nil
}

// rollbackInto creates a new workspace whose first merge copies want.
func (g *VersionGraph) rollbackInto(ctx context.Context, source *Workspace, name string, m *Merge, want map[string]StateEntry) (*RollbackResult, error) {
	ws := &Workspace{
		ID:         g.ids.New(),
		Name:       name,
		Owner:      source.Owner,
		Visibility: source.Visibility,
		CreatedAt:  g.clock.Now(),
	}
	merge := g.nextMerge(ws.ID, nil, m.ManifestHash)
	merge.Message = fmt.Sprintf("rollback of %s to merge %s", source.ID, m.ID)

	rows := materialize(nil, want)
	if err := g.db.CreateWorkspaceWithMerge(ctx, ws, merge, rows); err != nil {
		return nil, dbError("rollback", err)
	}
	return &RollbackResult{WorkspaceID: ws.ID, MergeID: merge.ID, FilesCopied: len(want)}, nil
}

// rollbackOnto appends a merge to targetID whose resolved state equals want.
func (g *VersionGraph) rollbackOnto(ctx context.Context, targetID string, m *Merge, want map[string]StateEntry) (*RollbackResult, error) {
	target, err := g.activeWorkspace(ctx, "rollback", targetID)
	if err != nil {
		return nil, err
	}

	return WithLock(ctx, g.locker, WorkspaceLockKey(target.ID), g.lockTimeout, func() (*RollbackResult, error) {
		head, err := g.db.FindHeadMerge(ctx, target.ID)
		if err != nil {
			return nil, dbError("rollback", err)
		}
		current, err := g.stateOf(ctx, head)
		if err != nil {
			return nil, err
		}

		merge := g.nextMerge(target.ID, head, m.ManifestHash)
		merge.Message = fmt.Sprintf("rollback to merge %s of %s", m.ID, m.WorkspaceID)
		if err := g.db.CommitMerge(ctx, merge, materialize(current, want)); err != nil {
			return nil, dbError("rollback", err)
		}
		return &RollbackResult{WorkspaceID: target.ID, MergeID: merge.ID, FilesCopied: len(want)}, nil
	})
}

// CurrentState resolves the visible files at the workspace head, ordered by
// path. A workspace without merges has an empty state.
func (g *VersionGraph) CurrentState(ctx context.Context, workspaceID string) ([]StateEntry, error) {
	if _, err := g.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	head, err := g.db.FindHeadMerge(ctx, workspaceID)
	if err != nil {
		return nil, dbError("current state", err)
	}
	state, err := g.stateOf(ctx, head)
	if err != nil {
		return nil, err
	}
	return sortedState(state), nil
}

// StateAt resolves the visible files at a merge, ordered by path.
func (g *VersionGraph) StateAt(ctx context.Context, mergeID string) ([]StateEntry, error) {
	m, err := g.GetMerge(ctx, mergeID)
	if err != nil {
		return nil, err
	}
	state, err := g.stateOf(ctx, m)
	if err != nil {
		return nil, err
	}
	return sortedState(state), nil
}

// GetMerge returns a merge by ID.
func (g *VersionGraph) GetMerge(ctx context.Context, id string) (*Merge, error) {
	m, err := g.db.FindMerge(ctx, id)
	if err != nil {
		return nil, dbError("get merge", err)
	}
	if m == nil {
		return nil, Errorf(KindMergeNotFound, "get merge", "merge not found: %s", id)
	}
	return m, nil
}

// ListMerges returns the merges of a workspace, newest first. limit <= 0
// returns all of them.
func (g *VersionGraph) ListMerges(ctx context.Context, workspaceID string, limit int) ([]*Merge, error) {
	if _, err := g.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	list, err := g.db.ListMerges(ctx, workspaceID, limit)
	if err != nil {
		return nil, dbError("list merges", err)
	}
	return list, nil
}

// MergeFiles returns the rows persisted at one merge.
func (g *VersionGraph) MergeFiles(ctx context.Context, mergeID string) ([]*File, error) {
	if _, err := g.GetMerge(ctx, mergeID); err != nil {
		return nil, err
	}
	files, err := g.db.FindFilesByMerge(ctx, mergeID)
	if err != nil {
		return nil, dbError("merge files", err)
	}
	return files, nil
}

// ListSessions returns the merge sessions of a workspace, newest first.
func (g *VersionGraph) ListSessions(ctx context.Context, workspaceID string, limit int) ([]*MergeSession, error) {
	list, err := g.db.ListMergeSessions(ctx, workspaceID, limit)
	if err != nil {
		return nil, dbError("list sessions", err)
	}
	return list, nil
}

// LoadManifest reads the manifest document for a hash tree and validates
// its integrity. A document that fails validation is logged and returned
// with the IntegrityViolation; it is never rewritten.
func (g *VersionGraph) LoadManifest(ctx context.Context, hashTree string) (*Manifest, error) {
	const op = "load manifest"

	record, err := g.db.FindManifestByHash(ctx, hashTree)
	if err != nil {
		return nil, dbError(op, err)
	}
	if record == nil {
		return nil, Errorf(KindManifestNotFound, op, "manifest not found: %s", hashTree)
	}

	data, err := g.content.ReadManifest(record.Path)
	if err != nil {
		return nil, err
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return nil, err
	}
	if err := m.ValidateIntegrity(); err != nil {
		g.logger.Error("manifest integrity violation", "hash_tree", hashTree, "path", record.Path, "error", err)
		return m, err
	}
	if m.HashTreeSHA256 != record.HashTreeSHA256 {
		err := Errorf(KindIntegrityViolation, op, "document %s holds hash tree %s", record.Path, m.HashTreeSHA256)
		g.logger.Error("manifest integrity violation", "hash_tree", hashTree, "path", record.Path, "error", err)
		return m, err
	}
	return m, nil
}

// persistManifest writes the document and its index row, reusing an
// existing row with the same hash tree.
func (g *VersionGraph) persistManifest(ctx context.Context, m *Manifest) (*ManifestRecord, error) {
	const op = "persist manifest"

	existing, err := g.db.FindManifestByHash(ctx, m.HashTreeSHA256)
	if err != nil {
		return nil, dbError(op, err)
	}
	if existing != nil {
		return existing, nil
	}

	doc, err := m.Encode()
	if err != nil {
		return nil, E(KindInternal, op, err)
	}
	version, err := m.VersionTime()
	if err != nil {
		return nil, E(KindInvalidManifest, op, err)
	}

	id := g.ids.New()
	path, err := g.content.WriteManifest(ctx, id, version, doc)
	if err != nil {
		return nil, err
	}

	record, err := g.db.CreateManifest(ctx, &ManifestRecord{
		ID:             id,
		HashTreeSHA256: m.HashTreeSHA256,
		Source:         m.Source,
		Version:        m.Version,
		TotalFiles:     m.TotalFiles,
		TotalSizeBytes: m.TotalSizeBytes,
		Path:           path,
		CreatedAt:      g.clock.Now(),
	})
	if err != nil {
		return nil, dbError(op, err)
	}
	g.logger.Debug("stored manifest", "hash_tree", record.HashTreeSHA256, "path", record.Path)
	return record, nil
}

func (g *VersionGraph) stateOf(ctx context.Context, m *Merge) (map[string]StateEntry, error) {
	if m == nil {
		return map[string]StateEntry{}, nil
	}
	chain, err := g.db.FindChainFiles(ctx, m.ID)
	if err != nil {
		return nil, dbError("resolve state", err)
	}
	return resolveState(chain), nil
}

func (g *VersionGraph) nextMerge(workspaceID string, head *Merge, manifestHash string) *Merge {
	merge := &Merge{
		ID:           g.ids.New(),
		WorkspaceID:  workspaceID,
		Sequence:     1,
		ManifestHash: manifestHash,
		MergedAt:     g.clock.Now(),
	}
	if head != nil {
		merge.PrevMergeID = sql.NullString{String: head.ID, Valid: true}
		merge.Sequence = head.Sequence + 1
	}
	return merge
}

// activeWorkspace returns the workspace unless it is missing or soft-deleted.
func (g *VersionGraph) activeWorkspace(ctx context.Context, op, id string) (*Workspace, error) {
	ws, err := g.db.FindWorkspace(ctx, id)
	if err != nil {
		return nil, dbError(op, err)
	}
	if ws == nil || ws.Deleted() {
		return nil, Errorf(KindWorkspaceNotFound, op, "workspace not found: %s", id)
	}
	return ws, nil
}

// session is an open merge session and the metadata it started with.
type session struct {
	id   string
	meta map[string]any
}

func (g *VersionGraph) startSession(ctx context.Context, workspaceID string, source SourceType, meta map[string]any) (*session, error) {
	s := &MergeSession{
		ID:          g.ids.New(),
		WorkspaceID: workspaceID,
		SourceType:  source,
		Status:      SessionRunning,
		StartedAt:   g.clock.Now(),
		Metadata:    encodeMetadata(meta),
	}
	if err := g.db.CreateMergeSession(ctx, s); err != nil {
		return nil, dbError("start session", err)
	}
	return &session{id: s.ID, meta: meta}, nil
}

func (g *VersionGraph) completeSession(ctx context.Context, s *session, mergeID string, extra map[string]any) {
	g.finishSession(ctx, s, SessionCompleted, sql.NullString{String: mergeID, Valid: true}, extra)
}

func (g *VersionGraph) failSession(ctx context.Context, s *session, cause error) {
	g.finishSession(ctx, s, SessionFailed, sql.NullString{}, map[string]any{
		"error":      cause.Error(),
		"error_code": Code(cause),
	})
}

// finishSession records the outcome. A failure to record it is logged, not
// returned.
func (g *VersionGraph) finishSession(ctx context.Context, s *session, status string, mergeID sql.NullString, extra map[string]any) {
	meta := make(map[string]any, len(s.meta)+len(extra))
	for k, v := range s.meta {
		meta[k] = v
	}
	for k, v := range extra {
		meta[k] = v
	}
	err := g.db.FinishMergeSession(context.WithoutCancel(ctx), s.id, status, mergeID, encodeMetadata(meta), g.clock.Now())
	if err != nil {
		g.logger.Error("failed to finish merge session", "session", s.id, "status", status, "error", err)
	}
}

func encodeMetadata(meta map[string]any) string {
	if len(meta) == 0 {
		return "{}"
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// dbError passes domain errors through and classifies anything else as
// Internal.
func dbError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return E(KindInternal, op, err)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
