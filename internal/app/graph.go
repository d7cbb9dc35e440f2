package app

import (
	"context"
	"fmt"

	"cas-go/internal/cas"
)

// CreateWorkspace creates an empty workspace.
func (a *App) CreateWorkspace(ctx context.Context, opts cas.WorkspaceOptions) (*cas.Workspace, error) {
	if err := a.persistOperation(ctx, "name="+opts.Name); err != nil {
		return nil, err
	}
	ws, err := a.graph.CreateWorkspace(ctx, opts)
	return ws, a.op.Track(err)
}

// ListWorkspaces lists workspaces in creation order.
func (a *App) ListWorkspaces(ctx context.Context, includeDeleted bool) ([]*cas.Workspace, error) {
	return a.graph.ListWorkspaces(ctx, includeDeleted)
}

// DeleteWorkspace soft-deletes a workspace.
func (a *App) DeleteWorkspace(ctx context.Context, id string) error {
	if err := a.persistOperation(ctx, "workspace="+id); err != nil {
		return err
	}
	return a.op.Track(a.graph.DeleteWorkspace(ctx, id))
}

// PurgeWorkspace hard-deletes a soft-deleted workspace and its history.
func (a *App) PurgeWorkspace(ctx context.Context, id string) (int64, error) {
	if err := a.persistOperation(ctx, "workspace="+id); err != nil {
		return 0, err
	}
	n, err := a.graph.PurgeWorkspace(ctx, id)
	return n, a.op.Track(err)
}

// Rollback restores the state at mergeID into a new workspace, or onto an
// existing one when opts.TargetWorkspaceID is set.
func (a *App) Rollback(ctx context.Context, workspaceID, mergeID string, opts cas.RollbackOptions) (*cas.RollbackResult, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("workspace=%s merge=%s", workspaceID, mergeID)); err != nil {
		return nil, err
	}
	res, err := a.graph.Rollback(ctx, workspaceID, mergeID, opts)
	return res, a.op.Track(err)
}

// Clone copies the head state of a workspace into a new one.
func (a *App) Clone(ctx context.Context, workspaceID, newName string) (*cas.RollbackResult, error) {
	if err := a.persistOperation(ctx, "workspace="+workspaceID); err != nil {
		return nil, err
	}
	res, err := a.graph.Clone(ctx, workspaceID, newName)
	return res, a.op.Track(err)
}

// Log returns the merges of a workspace, newest first.
func (a *App) Log(ctx context.Context, workspaceID string, limit int) ([]*cas.Merge, error) {
	return a.graph.ListMerges(ctx, workspaceID, limit)
}

// State resolves the files of a workspace head, or of mergeID when set.
func (a *App) State(ctx context.Context, workspaceID, mergeID string) ([]cas.StateEntry, error) {
	if mergeID != "" {
		return a.graph.StateAt(ctx, mergeID)
	}
	return a.graph.CurrentState(ctx, workspaceID)
}

// Changes returns the file rows written by one merge.
func (a *App) Changes(ctx context.Context, mergeID string) ([]*cas.File, error) {
	return a.graph.MergeFiles(ctx, mergeID)
}

// Sessions lists the merge sessions of a workspace, newest first.
func (a *App) Sessions(ctx context.Context, workspaceID string, limit int) ([]*cas.MergeSession, error) {
	return a.graph.ListSessions(ctx, workspaceID, limit)
}

// Verify loads a manifest document and checks its integrity.
func (a *App) Verify(ctx context.Context, hashTree string) (*cas.Manifest, error) {
	return a.graph.LoadManifest(ctx, hashTree)
}

// Orphans lists GC candidates without deleting anything.
func (a *App) Orphans(ctx context.Context) ([]cas.OrphanBlob, error) {
	return a.gc.Orphans(ctx)
}

// CollectGarbage removes unreferenced blobs. A dry run is not recorded in
// the operation log because it changes nothing.
func (a *App) CollectGarbage(ctx context.Context, dryRun bool) (*cas.CollectResult, error) {
	if !dryRun {
		if err := a.persistOperation(ctx, ""); err != nil {
			return nil, err
		}
	}
	res, err := a.gc.Collect(ctx, dryRun)
	return res, a.op.Track(err)
}

// History returns the most recent operations, newest first.
func (a *App) History(ctx context.Context, limit int) ([]*cas.Operation, error) {
	ops, err := a.db.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
