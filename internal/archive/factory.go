package archive

import (
	"context"
	"fmt"

	"cas-go/internal/cas"
	"cas-go/internal/config"
)

// NewArchiveFromConfig creates an Archive implementation based on the archive config type.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (cas.Archive, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryArchive(cfg.Name), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 archive requires s3_bucket to be set")
		}
		return NewS3Archive(ctx, cfg)
	case "filesystem":
		if cfg.FSArchiveRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_archive_root to be set")
		}
		return NewFileSystemArchive(cfg.Name, cfg.FSArchiveRoot)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}

// NewArchivesFromConfig builds every configured archive in order.
func NewArchivesFromConfig(ctx context.Context, cfgs []config.ArchiveConfig) ([]cas.Archive, error) {
	archives := make([]cas.Archive, 0, len(cfgs))
	for _, c := range cfgs {
		a, err := NewArchiveFromConfig(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("archive %q: %w", c.Name, err)
		}
		archives = append(archives, a)
	}
	return archives, nil
}
