package cas

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Ingester stores every file of a directory through a BlobStore using a
// bounded pool of workers.
type Ingester struct {
	blobs       *BlobStore
	fs          FilesystemManager
	logger      Logger
	concurrency int
}

// NewIngester wires an Ingester. concurrency <= 0 selects GOMAXPROCS.
func NewIngester(blobs *BlobStore, fsmgr FilesystemManager, logger Logger, concurrency int) *Ingester {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Ingester{blobs: blobs, fs: fsmgr, logger: logger, concurrency: concurrency}
}

// IngestRun is one directory ingest. Drain Events before calling Snapshot.
type IngestRun struct {
	ing   *Ingester
	root  string
	files []*Path

	// entries is indexed like files; nil marks a file that failed.
	entries      []*SnapshotFile
	failed       int
	deduplicated int
	storedBytes  int64
}

// Start resolves dir and lists its files. Nothing is stored until the
// events are consumed.
func (i *Ingester) Start(dir string) (*IngestRun, error) {
	root, err := i.fs.Resolve(dir)
	if err != nil {
		return nil, E(KindSourceNotFound, "ingest", err)
	}
	if !root.IsDir() {
		return nil, Errorf(KindSourceNotFound, "ingest", "%s is not a directory", root)
	}
	files, err := i.fs.FindFiles(root)
	if err != nil {
		return nil, E(KindSourceNotFound, "ingest", err)
	}
	i.logger.Info("ingest started", "dir", root.String(), "files", len(files))
	return &IngestRun{
		ing:     i,
		root:    root.String(),
		files:   files,
		entries: make([]*SnapshotFile, len(files)),
	}, nil
}

// Total is the number of files found.
func (r *IngestRun) Total() int {
	return len(r.files)
}

// Events stores the files concurrently and yields one event per finished
// file, in completion order. Stopping early cancels the remaining work.
func (r *IngestRun) Events(ctx context.Context) iter.Seq2[ProgressEvent, error] {
	return func(yield func(ProgressEvent, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		type outcome struct {
			idx int
			res *StoreResult
			err error
		}
		out := make(chan outcome, r.ing.concurrency)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.ing.concurrency)
		go func() {
			defer close(out)
			for idx, p := range r.files {
				if gctx.Err() != nil {
					break
				}
				g.Go(func() error {
					res, err := r.ing.blobs.Store(gctx, p.String(), "", nil)
					select {
					case out <- outcome{idx: idx, res: res, err: err}:
					case <-gctx.Done():
					}
					// Per-file failures are reported as events, not as group errors.
					return nil
				})
			}
			_ = g.Wait()
		}()

		processed := 0
		for o := range out {
			processed++
			rel := r.relative(r.files[o.idx])
			ev := ProgressEvent{Processed: processed, Total: len(r.files), Path: rel}

			var err error
			if o.err != nil {
				r.failed++
				err = fmt.Errorf("%s: %w", rel, o.err)
				r.ing.logger.Warn("ingest failed for file", "path", rel, "error", o.err)
			} else {
				r.record(o.idx, rel, o.res)
				ev.LastHash = o.res.Hash
				ev.Result = o.res
			}

			if !yield(ev, err) {
				cancel()
				for range out {
				}
				return
			}
		}
		if err := ctx.Err(); err != nil && processed < len(r.files) {
			yield(ProgressEvent{Processed: processed, Total: len(r.files)}, err)
		}
	}
}

func (r *IngestRun) record(idx int, rel string, res *StoreResult) {
	info := r.files[idx].Info()
	r.entries[idx] = &SnapshotFile{
		RelativePath:   rel,
		SHA256:         res.Hash,
		SizeBytes:      res.OriginalSizeBytes,
		FileModifiedAt: FormatTime(info.ModTime()),
	}
	if res.Deduplicated {
		r.deduplicated++
	} else {
		r.storedBytes += res.StoredSizeBytes
	}
}

// Failed is the number of files that could not be stored.
func (r *IngestRun) Failed() int {
	return r.failed
}

// Deduplicated is the number of files whose content was already stored.
func (r *IngestRun) Deduplicated() int {
	return r.deduplicated
}

// StoredBytes is the number of bytes newly written to the store.
func (r *IngestRun) StoredBytes() int64 {
	return r.storedBytes
}

// Snapshot returns the manifest input of the successfully stored files in
// path order.
func (r *IngestRun) Snapshot(source, version string, tags []string) ManifestInput {
	in := ManifestInput{Source: source, Version: version, Tags: tags}
	for _, e := range r.entries {
		if e != nil {
			in.Files = append(in.Files, *e)
		}
	}
	return in
}

func (r *IngestRun) relative(p *Path) string {
	rel, err := filepath.Rel(r.root, p.String())
	if err != nil {
		return filepath.ToSlash(p.String())
	}
	return filepath.ToSlash(rel)
}
