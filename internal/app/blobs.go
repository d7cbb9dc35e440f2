package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"cas-go/internal/cas"
)

// Store adds one file to the blob store. declaredHash and mime are
// optional.
func (a *App) Store(ctx context.Context, rawPath, declaredHash, mime string) (*cas.StoreResult, error) {
	path, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if err := a.persistOperation(ctx, "path="+path); err != nil {
		return nil, err
	}

	var meta *cas.BlobMetadata
	if mime != "" {
		meta = &cas.BlobMetadata{MimeType: &mime}
	}
	res, err := a.blobs.Store(ctx, path, declaredHash, meta)
	return res, a.op.Track(err)
}

// StatBlob returns the metadata row of a blob.
func (a *App) StatBlob(ctx context.Context, hash string) (*cas.Blob, error) {
	return a.blobs.Stat(ctx, hash)
}

// Cat writes the original bytes of a blob to w.
func (a *App) Cat(ctx context.Context, hash string, w io.Writer) error {
	r, err := a.blobs.Open(ctx, hash)
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("reading blob %s: %w", hash, err)
	}
	return nil
}

// IngestOptions control a directory ingest.
type IngestOptions struct {
	// WorkspaceID, when set, commits the ingested snapshot to the workspace.
	WorkspaceID string
	Source      string
	Tags        []string
	Label       string
	Message     string
}

// IngestSummary reports the outcome of Ingest.
type IngestSummary struct {
	Files        int
	Failed       int
	Deduplicated int
	StoredBytes  int64
	Commit       *cas.CommitResult
}

// Ingest stores every file under dir and optionally commits the result.
// progress, when non-nil, receives every event in completion order.
// Files that fail are reported through progress and left out of the
// snapshot.
func (a *App) Ingest(ctx context.Context, dir string, opts IngestOptions, progress func(cas.ProgressEvent, error)) (*IngestSummary, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("dir=%s workspace=%s", dir, opts.WorkspaceID)); err != nil {
		return nil, err
	}

	run, err := a.ingester.Start(dir)
	if err != nil {
		return nil, a.op.Track(err)
	}
	for ev, err := range run.Events(ctx) {
		if progress != nil {
			progress(ev, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, a.op.Track(err)
	}

	summary := &IngestSummary{
		Files:        run.Total(),
		Failed:       run.Failed(),
		Deduplicated: run.Deduplicated(),
		StoredBytes:  run.StoredBytes(),
	}
	if opts.WorkspaceID == "" {
		return summary, a.op.Track(failedFiles(summary))
	}

	in := run.Snapshot(opts.Source, cas.FormatTime(a.clock.Now()), opts.Tags)
	res, err := a.graph.CommitSnapshot(ctx, opts.WorkspaceID, in, cas.CommitOptions{
		Label:      opts.Label,
		Message:    opts.Message,
		SourceType: cas.SourceUpload,
	})
	if err != nil {
		return summary, a.op.Track(err)
	}
	summary.Commit = res
	return summary, a.op.Track(failedFiles(summary))
}

func failedFiles(s *IngestSummary) error {
	if s.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", s.Failed, s.Files)
	}
	return nil
}

// Commit decodes a snapshot document from r and commits it to a workspace.
func (a *App) Commit(ctx context.Context, workspaceID string, r io.Reader, opts cas.CommitOptions) (*cas.CommitResult, error) {
	if err := a.persistOperation(ctx, "workspace="+workspaceID); err != nil {
		return nil, err
	}

	var in cas.ManifestInput
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, a.op.Track(cas.E(cas.KindInvalidManifest, "commit", fmt.Errorf("decoding snapshot: %w", err)))
	}
	if opts.SourceType == "" {
		opts.SourceType = cas.SourceRemote
	}
	res, err := a.graph.CommitSnapshot(ctx, workspaceID, in, opts)
	return res, a.op.Track(err)
}
