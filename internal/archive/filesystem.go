package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cas-go/internal/cas"
)

// FileSystemArchive stores metadata as files, typically on a mounted
// remote or removable disk:
//
//	<root>/
//	  metadata/
//	    <hostID>/
//	      <name>          (item bytes)
//	      <name>.version  (decimal version)
type FileSystemArchive struct {
	name        string
	root        string
	metadataDir string
}

// NewFileSystemArchive creates the directory layout under root.
func NewFileSystemArchive(name, root string) (*FileSystemArchive, error) {
	metadataDir := filepath.Join(root, "metadata")
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	return &FileSystemArchive{
		name:        name,
		root:        root,
		metadataDir: metadataDir,
	}, nil
}

// Name returns the archive name.
func (a *FileSystemArchive) Name() string { return a.name }

func (a *FileSystemArchive) itemPath(hostID, name string) string {
	return filepath.Join(a.metadataDir, hostID, name)
}

// PutMetadata writes the item and then its version marker.
func (a *FileSystemArchive) PutMetadata(ctx context.Context, hostID, name string, r io.Reader, size, version int64) error {
	destPath := a.itemPath(hostID, name)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating host directory: %w", err)
	}
	if err := writeFile(ctx, destPath, r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	return writeFile(ctx, destPath+".version", strings.NewReader(versionData), int64(len(versionData)))
}

// GetMetadataVersion returns 0 if no version file exists.
func (a *FileSystemArchive) GetMetadataVersion(_ context.Context, hostID, name string) (int64, error) {
	data, err := os.ReadFile(a.itemPath(hostID, name) + ".version")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata writes the named item for a host to w.
func (a *FileSystemArchive) GetMetadata(_ context.Context, hostID, name string, w io.Writer) error {
	f, err := os.Open(a.itemPath(hostID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("metadata %q not found for host: %s", name, hostID)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the archive directories exist.
func (a *FileSystemArchive) ValidateSetup(context.Context) error {
	for _, dir := range []string{a.root, a.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("archive directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("archive path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes r to destPath through a temp file in the same directory
// and renames it into place once the size checks out.
func writeFile(ctx context.Context, destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ cas.Archive = (*FileSystemArchive)(nil)
