package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cas-go/internal/archive"
	"cas-go/internal/config"
	"cas-go/internal/database"
	"cas-go/internal/encryption"
)

// RestoreDatabase replaces the local database with the latest snapshot held
// by the named archive. passphrase unlocks the private key when encryption
// is configured. The previous database, if any, is kept next to it with a
// ".bak" suffix.
func RestoreDatabase(ctx context.Context, cfg *config.Config, archiveName, passphrase string) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("restore needs a sqlite database, have %q", cfg.Database.Type)
	}

	var arcCfg *config.ArchiveConfig
	for i := range cfg.Archives {
		if archiveName == "" || cfg.Archives[i].Name == archiveName {
			arcCfg = &cfg.Archives[i]
			break
		}
	}
	if arcCfg == nil {
		return 0, fmt.Errorf("archive %q not configured", archiveName)
	}
	arc, err := archive.NewArchiveFromConfig(ctx, *arcCfg)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}

	version, err := arc.GetMetadataVersion(ctx, cfg.HostID, MetadataName)
	if err != nil {
		return 0, fmt.Errorf("reading archived version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("archive %s holds no database for host %s", arc.Name(), cfg.HostID)
	}

	var snapshot bytes.Buffer
	if err := arc.GetMetadata(ctx, cfg.HostID, MetadataName, &snapshot); err != nil {
		return 0, fmt.Errorf("downloading database: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}
	data := snapshot.Bytes()
	if enc != nil {
		dc, err := enc.Unlock(passphrase)
		if err != nil {
			return 0, fmt.Errorf("unlocking private key: %w", err)
		}
		var plain bytes.Buffer
		if err := dc.Decrypt(bytes.NewReader(data), &plain); err != nil {
			return 0, fmt.Errorf("decrypting database: %w", err)
		}
		data = plain.Bytes()
	}

	dest := database.FilePath(cfg.Database, cfg.HostID)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}
	tmp := dest + ".restore"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing restored database: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, dest+".bak"); err != nil {
			os.Remove(tmp)
			return 0, fmt.Errorf("keeping previous database: %w", err)
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return 0, fmt.Errorf("installing restored database: %w", err)
	}
	return version, nil
}
