package cas

import (
	"context"
	"time"
)

// Defaults for the collector.
const (
	DefaultGCMinAge   = time.Hour
	DefaultTempMaxAge = 24 * time.Hour
)

// GCOptions tune a Collector. Zero values select defaults.
type GCOptions struct {
	// MinAge protects blobs stored but not yet committed.
	MinAge      time.Duration
	TempMaxAge  time.Duration
	LockTimeout time.Duration
}

// Collector removes blobs that no file row references.
type Collector struct {
	db      Database
	content ContentStore
	locker  Locker
	logger  Logger
	clock   Clock
	opts    GCOptions
}

func NewCollector(db Database, content ContentStore, locker Locker, logger Logger, clock Clock, opts GCOptions) *Collector {
	if opts.MinAge <= 0 {
		opts.MinAge = DefaultGCMinAge
	}
	if opts.TempMaxAge <= 0 {
		opts.TempMaxAge = DefaultTempMaxAge
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Collector{db: db, content: content, locker: locker, logger: logger, clock: clock, opts: opts}
}

// Orphans lists blobs older than the grace period that no file row of any
// workspace, soft-deleted ones included, references.
func (c *Collector) Orphans(ctx context.Context) ([]OrphanBlob, error) {
	return c.orphans(ctx, c.cutoff())
}

// cutoff is the newest store time a blob may have and still be collected.
func (c *Collector) cutoff() time.Time {
	return c.clock.Now().Add(-c.opts.MinAge)
}

func (c *Collector) orphans(ctx context.Context, cutoff time.Time) ([]OrphanBlob, error) {
	blobs, err := c.db.FindOrphanBlobs(ctx, cutoff)
	if err != nil {
		return nil, dbError("find orphans", err)
	}
	orphans := make([]OrphanBlob, 0, len(blobs))
	for _, b := range blobs {
		orphans = append(orphans, OrphanBlob{
			Hash:              b.Hash,
			OriginalSizeBytes: b.OriginalSizeBytes,
			StoredSizeBytes:   b.StoredSizeBytes,
		})
	}
	return orphans, nil
}

// Collect deletes orphaned blobs and sweeps stale temp files. A dry run
// only reports the candidates.
func (c *Collector) Collect(ctx context.Context, dryRun bool) (*CollectResult, error) {
	cutoff := c.cutoff()
	orphans, err := c.orphans(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	result := &CollectResult{DryRun: dryRun, Candidates: orphans}
	if dryRun {
		c.logger.Info("gc dry run", "candidates", len(orphans))
		return result, nil
	}

	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		deleted, err := c.collectOne(ctx, o, cutoff)
		if err != nil {
			c.logger.Warn("gc skipped blob", "hash", o.Hash, "error", err)
			continue
		}
		if deleted {
			result.DeletedCount++
			result.FreedBytes += o.StoredSizeBytes
		}
	}

	swept, err := c.content.SweepTemp(c.clock.Now().Add(-c.opts.TempMaxAge))
	if err != nil {
		c.logger.Warn("temp sweep failed", "error", err)
	}
	result.TempSwept = swept

	c.logger.Info("gc complete",
		"candidates", len(orphans),
		"deleted", result.DeletedCount,
		"freed_bytes", result.FreedBytes,
		"temp_swept", swept)
	return result, nil
}

// collectOne re-checks the orphan under its shard lock, then removes the
// physical file before the row. A blob stored again after cutoff is kept.
func (c *Collector) collectOne(ctx context.Context, o OrphanBlob, cutoff time.Time) (bool, error) {
	return WithLock(ctx, c.locker, ShardLockKey(ShardOf(o.Hash)), c.opts.LockTimeout, func() (bool, error) {
		referenced, err := c.db.IsBlobReferenced(ctx, o.Hash)
		if err != nil {
			return false, dbError("gc", err)
		}
		if referenced {
			c.logger.Debug("blob referenced since scan", "hash", o.Hash)
			return false, nil
		}
		blob, err := c.db.FindBlob(ctx, o.Hash)
		if err != nil {
			return false, dbError("gc", err)
		}
		if blob != nil && !blob.StoredAt().Before(cutoff) {
			c.logger.Debug("blob stored again since scan", "hash", o.Hash)
			return false, nil
		}
		if err := c.content.RemoveBlob(o.Hash); err != nil {
			return false, E(KindInternal, "gc", err)
		}
		if err := c.db.DeleteBlob(ctx, o.Hash); err != nil {
			return false, dbError("gc", err)
		}
		c.logger.Debug("collected blob", "hash", o.Hash, "freed", o.StoredSizeBytes)
		return true, nil
	})
}
