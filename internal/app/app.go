package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cas-go/internal/archive"
	"cas-go/internal/blobfs"
	"cas-go/internal/cas"
	"cas-go/internal/classify"
	"cas-go/internal/compress"
	"cas-go/internal/config"
	"cas-go/internal/database"
	"cas-go/internal/encryption"
	"cas-go/internal/fs"
	"cas-go/internal/lock"
)

// MetadataName is the archive item holding the database snapshot.
const MetadataName = "db"

// App is the layer between the CLI and the storage core. It builds every
// component from config, records mutating commands in the operation log
// and ships a database snapshot to the archives on Close.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	content   *blobfs.Store
	locker    cas.Locker
	archives  []cas.Archive
	encryptor cas.Encryptor
	logger    cas.Logger
	clock     cas.Clock

	blobs    *cas.BlobStore
	graph    *cas.VersionGraph
	gc       *cas.Collector
	ingester *cas.Ingester

	op      *Operation
	logFile *os.File
}

// NewApp creates a fully wired App from cfg. operation names the CLI
// command being run (e.g. "Store", "Commit"). The caller must call Close.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts, err := blobStoreOptions(cfg)
	if err != nil {
		return nil, err
	}

	content, err := blobfs.New(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("opening storage root: %w", err)
	}
	locker, err := lock.NewLockerFromConfig(cfg.Lock)
	if err != nil {
		return nil, fmt.Errorf("creating locker: %w", err)
	}
	fail := func(err error) (*App, error) {
		closeLocker(locker)
		return nil, err
	}

	archives, err := archive.NewArchivesFromConfig(ctx, cfg.Archives)
	if err != nil {
		return fail(fmt.Errorf("creating archives: %w", err))
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fail(fmt.Errorf("creating encryptor: %w", err))
	}
	if enc != nil && len(archives) > 0 && !enc.IsConfigured() {
		return fail(fmt.Errorf("encryption keys missing: run 'cas config keys'"))
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return fail(fmt.Errorf("creating database: %w", err))
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return fail(fmt.Errorf("database schema out of date: %w", err))
	}
	if err := checkArchiveVersions(ctx, db, archives, cfg.HostID); err != nil {
		db.Close()
		return fail(err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		db.Close()
		return fail(fmt.Errorf("creating logger: %w", err))
	}
	logger := &slogAdapter{l: slogger.With(slog.String("host", cfg.HostID))}

	clock := cas.RealClock{}
	lockTimeout := lock.Timeout(cfg.Lock)
	opts.LockTimeout = lockTimeout
	blobs := cas.NewBlobStore(db, content, locker, logger, clock, opts)

	return &App{
		cfg:       cfg,
		db:        db,
		content:   content,
		locker:    locker,
		archives:  archives,
		encryptor: enc,
		logger:    logger,
		clock:     clock,
		blobs:     blobs,
		graph:     cas.NewVersionGraph(db, content, locker, logger, clock, cas.UUIDGenerator{}, lockTimeout),
		gc: cas.NewCollector(db, content, locker, logger, clock, cas.GCOptions{
			MinAge:      time.Duration(cfg.GC.MinAgeSeconds) * time.Second,
			TempMaxAge:  time.Duration(cfg.Storage.TempMaxAgeSeconds) * time.Second,
			LockTimeout: lockTimeout,
		}),
		ingester: cas.NewIngester(blobs, fs.NewOSFilesystemManager(cfg.Filesystem.Ignore), logger, 0),
		op:       NewOperation(operation, ""),
		logFile:  logFile,
	}, nil
}

// closeLocker closes lockers that hold a connection.
func closeLocker(l cas.Locker) error {
	if c, ok := l.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// blobStoreOptions translates the storage section of the config.
func blobStoreOptions(cfg *config.Config) (cas.BlobStoreOptions, error) {
	opts := cas.BlobStoreOptions{
		HashThreshold:      cfg.Storage.HashThresholdBytes,
		PartialVerifyAbove: cfg.Storage.PartialVerifyAboveBytes,
		CompressMinSize:    cfg.Storage.Compression.MinSizeBytes,
		Policy:             classify.DefaultPolicy(),
	}
	if len(cfg.Storage.Compression.AlreadyCompressedMIME) > 0 {
		opts.Policy = classify.Policy{AlreadyCompressed: cfg.Storage.Compression.AlreadyCompressedMIME}
	}
	if cfg.Storage.Compression.Enabled {
		alg, err := compress.Parse(cfg.Storage.Compression.Algorithm)
		if err != nil {
			return opts, err
		}
		opts.Compression = alg
	}
	return opts, nil
}

// checkArchiveVersions refuses to start when any archive holds a snapshot
// newer than the local database: writing on top of it would fork history.
func checkArchiveVersions(ctx context.Context, db cas.Database, archives []cas.Archive, hostID string) error {
	if len(archives) == 0 {
		return nil
	}
	localMax, err := db.MaxOperationID(ctx)
	if err != nil {
		return fmt.Errorf("checking local metadata version: %w", err)
	}
	for _, a := range archives {
		remote, err := a.GetMetadataVersion(ctx, hostID, MetadataName)
		if err != nil {
			return fmt.Errorf("checking metadata version in archive %s: %w", a.Name(), err)
		}
		if remote > localMax {
			return fmt.Errorf("local database is behind archive %s (local=%d, remote=%d): run 'cas db restore' or re-initialize", a.Name(), localMax, remote)
		}
	}
	return nil
}

// persistOperation saves the operation, giving it its auto-increment ID.
// Only DB-mutating commands call it.
func (a *App) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(ctx, a.op.Operation, parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Close finalizes the operation and releases resources. For persisted
// operations it also snapshots the database and uploads it to every
// archive with the operation ID as version.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var snapshot string
	if a.op.Persisted() {
		if err := a.db.FinishOperation(ctx, a.op.ID, a.op.Status); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}
		if len(a.archives) > 0 {
			path, err := a.snapshotDatabase()
			keep(err)
			snapshot = path
		}
	}

	if err := a.db.Close(); err != nil {
		keep(fmt.Errorf("closing database: %w", err))
	}

	if snapshot != "" {
		keep(a.uploadMetadata(ctx, snapshot, a.op.ID))
		os.RemoveAll(filepath.Dir(snapshot))
	}

	if err := closeLocker(a.locker); err != nil {
		keep(fmt.Errorf("closing locker: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// snapshotDatabase writes a consistent copy of the database with VACUUM
// INTO, encrypted when an encryptor is configured. The caller removes the
// directory holding the returned file.
func (a *App) snapshotDatabase() (string, error) {
	dir, err := os.MkdirTemp("", "cas-db-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	plain := filepath.Join(dir, "snapshot.db")
	if err := a.db.BackupTo(plain); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("backing up database: %w", err)
	}
	if a.encryptor == nil {
		return plain, nil
	}

	sealed := filepath.Join(dir, "snapshot.db.age")
	if err := encryptFile(a.encryptor, plain, sealed); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	os.Remove(plain)
	return sealed, nil
}

func encryptFile(enc cas.Encryptor, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	if err := enc.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing encrypted snapshot: %w", err)
	}
	return nil
}

// uploadMetadata sends the snapshot at path to every archive.
func (a *App) uploadMetadata(ctx context.Context, path string, version int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat db snapshot: %w", err)
	}

	var firstErr error
	for _, arc := range a.archives {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening db snapshot for upload: %w", err)
		}
		err = arc.PutMetadata(ctx, a.cfg.HostID, MetadataName, f, info.Size(), version)
		f.Close()
		if err != nil {
			a.logger.Error("metadata upload failed", "archive", arc.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("uploading metadata to archive %s: %w", arc.Name(), err)
			}
			continue
		}
		a.logger.Info("metadata uploaded", "archive", arc.Name(), "version", version, "bytes", info.Size())
	}
	return firstErr
}
