package cas

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"cas-go/internal/classify"
	"cas-go/internal/compress"
	"cas-go/internal/hasher"
)

// DefaultPartialVerifyAbove is the size above which a declared hash is
// checked by sample prefix instead of a full rehash.
const DefaultPartialVerifyAbove int64 = 50 * 1000 * 1000

// BlobStoreOptions tunes a BlobStore. Zero values select defaults.
type BlobStoreOptions struct {
	HashThreshold      int64
	PartialVerifyAbove int64
	// Compression is the codec for compressible blobs; compress.None disables it.
	Compression     compress.Algorithm
	CompressMinSize int64
	Policy          classify.Policy
	LockTimeout     time.Duration
}

// StoreRequest is one item of a StoreAll batch.
type StoreRequest struct {
	Path         string
	DeclaredHash string
	Metadata     *BlobMetadata
}

// BlobStore owns the lifecycle of blobs: hashing, deduplication, atomic
// durable writes and their metadata rows.
type BlobStore struct {
	db      Database
	content ContentStore
	locker  Locker
	hasher  *hasher.Hasher
	opts    BlobStoreOptions
	logger  Logger
	clock   Clock

	flight singleflight.Group
}

// NewBlobStore wires a BlobStore.
func NewBlobStore(db Database, content ContentStore, locker Locker, logger Logger, clock Clock, opts BlobStoreOptions) *BlobStore {
	if opts.PartialVerifyAbove <= 0 {
		opts.PartialVerifyAbove = DefaultPartialVerifyAbove
	}
	if opts.CompressMinSize <= 0 {
		opts.CompressMinSize = 512
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Policy.AlreadyCompressed == nil {
		opts.Policy = classify.DefaultPolicy()
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &BlobStore{
		db:      db,
		content: content,
		locker:  locker,
		hasher:  hasher.New(opts.HashThreshold),
		opts:    opts,
		logger:  logger,
		clock:   clock,
	}
}

// Hasher returns the content hasher used for identities.
func (s *BlobStore) Hasher() *hasher.Hasher {
	return s.hasher
}

// Store durably records the file at sourcePath and returns its identity.
// declaredHash may be empty; meta may be nil. Storing content that is
// already sealed writes nothing and reports Deduplicated.
func (s *BlobStore) Store(ctx context.Context, sourcePath string, declaredHash string, meta *BlobMetadata) (*StoreResult, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, E(KindSourceNotFound, "store", err)
	}
	if !info.Mode().IsRegular() {
		return nil, Errorf(KindSourceNotFound, "store", "%s is not a regular file", sourcePath)
	}

	hash, err := s.resolveHash(sourcePath, info, declaredHash)
	if err != nil {
		return nil, err
	}

	v, err, _ := s.flight.Do(hash, func() (any, error) {
		return s.store(ctx, sourcePath, info, hash, meta)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*StoreResult)
	return &result, nil
}

// resolveHash computes the identity of the source, checking it against a
// declared hash when one is given. Above PartialVerifyAbove only a sample
// prefix is compared and the declared hash becomes the identity.
func (s *BlobStore) resolveHash(path string, info fs.FileInfo, declared string) (string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))

	if declared != "" && !hasher.ValidHex(declared) {
		return "", Errorf(KindHashMismatch, "store", "declared hash %q is not a sha256 hex digest", declared)
	}

	if declared != "" && info.Size() > s.opts.PartialVerifyAbove {
		if err := hasher.VerifyPartial(path, declared); err != nil {
			if errors.Is(err, hasher.ErrPartialMismatch) {
				return "", E(KindHashMismatch, "store", err)
			}
			return "", E(KindSourceNotFound, "store", err)
		}
		return declared, nil
	}

	computed, err := s.hasher.Hash(path)
	if err != nil {
		return "", E(KindSourceNotFound, "store", err)
	}
	if declared != "" && computed != declared {
		return "", Errorf(KindHashMismatch, "store", "declared %s, computed %s", declared, computed)
	}
	return computed, nil
}

func (s *BlobStore) store(ctx context.Context, path string, info fs.FileInfo, hash string, meta *BlobMetadata) (*StoreResult, error) {
	sealed, stored, err := s.content.Sealed(hash)
	if err != nil {
		return nil, E(KindInternal, "store", err)
	}
	if sealed {
		return s.sealedResult(ctx, path, info, hash, stored, meta)
	}

	return WithLock(ctx, s.locker, ShardLockKey(ShardOf(hash)), s.opts.LockTimeout, func() (*StoreResult, error) {
		sealed, stored, err := s.content.Sealed(hash)
		if err != nil {
			return nil, E(KindInternal, "store", err)
		}
		if sealed {
			return s.sealedResult(ctx, path, info, hash, stored, meta)
		}
		return s.write(ctx, path, info, hash, meta)
	})
}

// write streams the source into the shard and records the blob row.
// Called with the shard lock held.
func (s *BlobStore) write(ctx context.Context, path string, info fs.FileInfo, hash string, meta *BlobMetadata) (*StoreResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, E(KindSourceNotFound, "store", err)
	}
	defer f.Close()

	head, err := readHead(f, classify.SniffSize)
	if err != nil {
		return nil, E(KindSourceNotFound, "store", err)
	}

	cls := s.classify(head, meta)
	alg := compress.None
	if s.shouldCompress(cls, info.Size()) {
		alg = s.opts.Compression
	}

	storedSize, err := s.content.WriteBlob(ctx, hash, func(w io.Writer) error {
		dst, err := compress.NewWriter(alg, w)
		if err != nil {
			return E(KindInternal, "compress", err)
		}
		n, err := io.Copy(dst, io.MultiReader(bytes.NewReader(head), f))
		if err != nil {
			dst.Close()
			return E(KindIncompleteWrite, "copy", err)
		}
		if err := dst.Close(); err != nil {
			return E(KindIncompleteWrite, "copy", err)
		}
		if n != info.Size() {
			return Errorf(KindIncompleteWrite, "copy", "copied %d of %d bytes", n, info.Size())
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("blob write failed", "hash", hash, "path", path, "error", err)
		return nil, err
	}

	blob := &Blob{
		Hash:                hash,
		MimeType:            cls.MimeType,
		IsBinary:            cls.IsBinary,
		OriginalSizeBytes:   info.Size(),
		StoredSizeBytes:     storedSize,
		IsStoredCompressed:  alg != compress.None,
		IsAlreadyCompressed: cls.IsAlreadyCompressed,
		CreatedAt:           s.clock.Now(),
	}
	if alg != compress.None {
		blob.CompressionType = sql.NullString{String: string(alg), Valid: true}
	}
	if err := s.db.UpsertBlob(ctx, blob); err != nil {
		return nil, E(KindInternal, "store", err)
	}

	s.logger.Info("stored blob", "hash", hash, "size", info.Size(), "stored", storedSize, "compression", alg.String())
	return resultFromBlob(blob, false), nil
}

// sealedResult returns the existing blob, inserting its row when an earlier
// store crashed between the rename and the upsert.
func (s *BlobStore) sealedResult(ctx context.Context, path string, info fs.FileInfo, hash string, stored fs.FileInfo, meta *BlobMetadata) (*StoreResult, error) {
	blob, err := s.db.FindBlob(ctx, hash)
	if err != nil {
		return nil, E(KindInternal, "store", err)
	}
	if blob != nil {
		if err := s.db.TouchBlob(ctx, hash, s.clock.Now()); err != nil {
			return nil, E(KindInternal, "store", err)
		}
		s.logger.Debug("blob already sealed", "hash", hash)
		return resultFromBlob(blob, true), nil
	}

	blob, err = s.describeSealed(path, info, hash, stored, meta)
	if err != nil {
		return nil, err
	}
	if err := s.db.UpsertBlob(ctx, blob); err != nil {
		return nil, E(KindInternal, "store", err)
	}
	s.logger.Warn("backfilled missing blob row", "hash", hash)
	return resultFromBlob(blob, true), nil
}

func (s *BlobStore) describeSealed(path string, info fs.FileInfo, hash string, stored fs.FileInfo, meta *BlobMetadata) (*Blob, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, E(KindSourceNotFound, "store", err)
	}
	defer src.Close()
	srcHead, err := readHead(src, classify.SniffSize)
	if err != nil {
		return nil, E(KindSourceNotFound, "store", err)
	}

	storedHead, err := s.storedHead(hash)
	if err != nil {
		return nil, err
	}

	cls := s.classify(srcHead, meta)
	blob := &Blob{
		Hash:                hash,
		MimeType:            cls.MimeType,
		IsBinary:            cls.IsBinary,
		OriginalSizeBytes:   info.Size(),
		StoredSizeBytes:     stored.Size(),
		IsAlreadyCompressed: cls.IsAlreadyCompressed,
		CreatedAt:           s.clock.Now(),
	}
	// Raw content can itself start with a codec magic; only a stored head
	// that differs from the source head means the blob was compressed.
	if alg, ok := compress.Detect(storedHead); ok && !bytes.HasPrefix(srcHead, storedHead) {
		blob.IsStoredCompressed = true
		blob.CompressionType = sql.NullString{String: string(alg), Valid: true}
	}
	return blob, nil
}

func (s *BlobStore) storedHead(hash string) ([]byte, error) {
	r, err := s.content.OpenBlob(hash)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	head, err := readHead(r, compress.MagicLength)
	if err != nil {
		return nil, E(KindInternal, "store", err)
	}
	return head, nil
}

func (s *BlobStore) classify(head []byte, meta *BlobMetadata) classify.Result {
	var mime *string
	var binary *bool
	if meta != nil {
		mime, binary = meta.MimeType, meta.IsBinary
	}
	return s.opts.Policy.Classify(head, mime, binary)
}

func (s *BlobStore) shouldCompress(cls classify.Result, size int64) bool {
	return s.opts.Compression != compress.None &&
		!cls.IsBinary &&
		!cls.IsAlreadyCompressed &&
		size >= s.opts.CompressMinSize
}

// Stat returns the metadata row of hash.
func (s *BlobStore) Stat(ctx context.Context, hash string) (*Blob, error) {
	blob, err := s.db.FindBlob(ctx, hash)
	if err != nil {
		return nil, E(KindInternal, "stat blob", err)
	}
	if blob == nil {
		return nil, Errorf(KindBlobNotFound, "stat blob", "blob not found: %s", hash)
	}
	return blob, nil
}

// Open returns a reader of the original bytes of hash, decompressing if the
// blob was stored compressed.
func (s *BlobStore) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	blob, err := s.db.FindBlob(ctx, hash)
	if err != nil {
		return nil, E(KindInternal, "open blob", err)
	}

	f, err := s.content.OpenBlob(hash)
	if err != nil {
		return nil, err
	}

	alg := compress.None
	if blob != nil && blob.CompressionType.Valid {
		alg, err = compress.Parse(blob.CompressionType.String)
		if err != nil {
			f.Close()
			return nil, E(KindInternal, "open blob", err)
		}
	}

	r, err := compress.NewReader(alg, f)
	if err != nil {
		f.Close()
		return nil, E(KindInternal, "open blob", err)
	}
	return &blobReader{ReadCloser: r, file: f}, nil
}

// StoreAll stores each request in order and yields one event per item.
// Failed items yield their error; iteration continues unless the consumer
// stops.
func (s *BlobStore) StoreAll(ctx context.Context, reqs []StoreRequest) iter.Seq2[ProgressEvent, error] {
	return func(yield func(ProgressEvent, error) bool) {
		for i, req := range reqs {
			ev := ProgressEvent{Processed: i + 1, Total: len(reqs), Path: req.Path}
			if err := ctx.Err(); err != nil {
				yield(ev, err)
				return
			}
			res, err := s.Store(ctx, req.Path, req.DeclaredHash, req.Metadata)
			if err == nil {
				ev.LastHash = res.Hash
				ev.Result = res
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}

type blobReader struct {
	io.ReadCloser
	file io.Closer
}

func (r *blobReader) Close() error {
	err := r.ReadCloser.Close()
	if ferr := r.file.Close(); err == nil {
		err = ferr
	}
	return err
}

func resultFromBlob(b *Blob, deduplicated bool) *StoreResult {
	return &StoreResult{
		Hash:              b.Hash,
		OriginalSizeBytes: b.OriginalSizeBytes,
		StoredSizeBytes:   b.StoredSizeBytes,
		CompressionType:   b.CompressionType.String,
		MimeType:          b.MimeType,
		IsBinary:          b.IsBinary,
		Deduplicated:      deduplicated,
	}
}

func readHead(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading head: %w", err)
	}
	return buf[:read], nil
}
