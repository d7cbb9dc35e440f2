package database

import (
	"fmt"
	"os"
	"path/filepath"

	"cas-go/internal/config"
)

// NewDatabaseFromConfig opens the database selected by the config type.
// In-memory databases are migrated immediately since they start empty;
// file databases are migrated explicitly (cas db migrate, cas config init).
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(FilePath(cfg, hostID))
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// FilePath is the database file used for a sqlite config.
func FilePath(cfg config.DatabaseConfig, hostID string) string {
	return filepath.Join(cfg.DataDir, dbFileName(hostID))
}

func dbFileName(hostID string) string {
	if hostID == "" {
		return "cas.db"
	}
	return hostID + ".db"
}
