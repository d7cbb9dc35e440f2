// Package blobfs implements the on-disk layout of a storage root.
package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cas-go/internal/cas"
)

const (
	blobsDir     = "blobs"
	manifestsDir = "manifests"
	tempPrefix   = ".tmp-"

	sealedMode os.FileMode = 0o444
	dirMode    os.FileMode = 0o755
)

// Store is a filesystem ContentStore rooted at a directory:
//
//	<root>/
//	  blobs/
//	    <hash[0:2]>/<hash>               (sealed, read-only)
//	  manifests/
//	    <YYYY>/<MM>/<uuid>.json          (sealed, read-only)
type Store struct {
	root         string
	blobsDir     string
	manifestsDir string
}

// New creates the directory structure under root.
func New(root string) (*Store, error) {
	s := &Store{
		root:         root,
		blobsDir:     filepath.Join(root, blobsDir),
		manifestsDir: filepath.Join(root, manifestsDir),
	}
	for _, dir := range []string{s.blobsDir, s.manifestsDir} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the storage root.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) BlobPath(hash string) string {
	return filepath.Join(s.blobsDir, cas.ShardOf(hash), hash)
}

func (s *Store) Sealed(hash string) (bool, fs.FileInfo, error) {
	info, err := os.Stat(s.BlobPath(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("stat blob %s: %w", hash, err)
	}
	if !info.Mode().IsRegular() {
		return false, info, fmt.Errorf("blob path %s is not a regular file", s.BlobPath(hash))
	}
	return info.Mode().Perm()&0o222 == 0, info, nil
}

func (s *Store) WriteBlob(ctx context.Context, hash string, write func(w io.Writer) error) (int64, error) {
	const op = "write blob"

	shardDir := filepath.Join(s.blobsDir, cas.ShardOf(hash))
	if err := os.MkdirAll(shardDir, dirMode); err != nil {
		return 0, cas.E(cas.KindIncompleteWrite, op, fmt.Errorf("creating shard directory: %w", err))
	}

	return s.writeAtomic(ctx, op, s.BlobPath(hash), tempPrefix+prefix(hash)+"-*", write)
}

func (s *Store) OpenBlob(hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.BlobPath(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cas.Errorf(cas.KindBlobNotFound, "open blob", "blob not found: %s", hash)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *Store) RemoveBlob(hash string) error {
	path := s.BlobPath(hash)
	// The shard directory, not the file mode, controls unlink; the 0444
	// mode only guards against in-place modification.
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove blob %s: %w", hash, err)
	}
	return nil
}

// SweepTemp removes abandoned temp files from every shard and manifest
// directory.
func (s *Store) SweepTemp(cutoff time.Time) (int, error) {
	removed := 0
	for _, dir := range []string{s.blobsDir, s.manifestsDir} {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !strings.HasPrefix(d.Name(), tempPrefix) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !info.ModTime().Before(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("removing temp file %s: %w", path, err)
			}
			removed++
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("sweeping %s: %w", dir, err)
		}
	}
	return removed, nil
}

func (s *Store) WriteManifest(ctx context.Context, id string, version time.Time, doc []byte) (string, error) {
	version = version.UTC()
	rel := filepath.Join(manifestsDir, fmt.Sprintf("%04d", version.Year()), fmt.Sprintf("%02d", int(version.Month())), id+".json")
	dest := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(dest), dirMode); err != nil {
		return "", fmt.Errorf("creating manifest directory: %w", err)
	}

	_, err := s.writeAtomic(ctx, "write manifest", dest, tempPrefix+"manifest-*", func(w io.Writer) error {
		_, err := w.Write(doc)
		return err
	})
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (s *Store) ReadManifest(relPath string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, cas.Errorf(cas.KindInvalidManifest, "read manifest", "path escapes storage root: %s", relPath)
	}
	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cas.Errorf(cas.KindManifestNotFound, "read manifest", "manifest document not found: %s", relPath)
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return data, nil
}

// ValidateSetup verifies that the root directories are accessible.
func (s *Store) ValidateSetup() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", s.root)
	}
	for _, dir := range []string{s.blobsDir, s.manifestsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("storage directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("storage path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeAtomic streams write into a temp file next to dest, fsyncs it,
// renames it onto dest and seals it.
func (s *Store) writeAtomic(ctx context.Context, op, dest, pattern string, write func(w io.Writer) error) (int64, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), pattern)
	if err != nil {
		return 0, cas.E(cas.KindIncompleteWrite, op, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmpFile); err != nil {
		tmpFile.Close()
		var casErr *cas.Error
		if errors.As(err, &casErr) {
			return 0, err
		}
		return 0, cas.E(cas.KindIncompleteWrite, op, err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return 0, cas.E(cas.KindIncompleteWrite, op, fmt.Errorf("failed to sync temp file: %w", err))
	}

	info, err := tmpFile.Stat()
	if err != nil {
		tmpFile.Close()
		return 0, cas.E(cas.KindIncompleteWrite, op, fmt.Errorf("failed to stat temp file: %w", err))
	}

	if err := tmpFile.Close(); err != nil {
		return 0, cas.E(cas.KindIncompleteWrite, op, fmt.Errorf("failed to close temp file: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return 0, cas.E(cas.KindAtomicCommitFailed, op, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, cas.E(cas.KindAtomicCommitFailed, op, fmt.Errorf("failed to rename temp file: %w", err))
	}
	success = true

	if err := os.Chmod(dest, sealedMode); err != nil {
		return 0, cas.E(cas.KindAtomicCommitFailed, op, fmt.Errorf("failed to seal %s: %w", dest, err))
	}

	return info.Size(), nil
}

func prefix(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

var _ cas.ContentStore = (*Store)(nil)
