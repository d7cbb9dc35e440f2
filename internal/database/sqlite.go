package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"cas-go/internal/cas"
	"cas-go/internal/database/migrations"
)

// SQLiteDatabase implements the cas.Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: an in-memory database exists per connection, and a
	// single writer avoids SQLITE_BUSY between goroutines of this process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY violation.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Blob operations

const blobColumns = `hash, mime_type, is_binary, original_size_bytes, stored_size_bytes,
	is_stored_compressed, compression_type, is_already_compressed, created_at, last_stored_at`

func scanBlob(row rowScanner) (*cas.Blob, error) {
	var b cas.Blob
	err := row.Scan(&b.Hash, &b.MimeType, &b.IsBinary, &b.OriginalSizeBytes, &b.StoredSizeBytes,
		&b.IsStoredCompressed, &b.CompressionType, &b.IsAlreadyCompressed, &b.CreatedAt, &b.LastStoredAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteDatabase) FindBlob(ctx context.Context, hash string) (*cas.Blob, error) {
	b, err := scanBlob(s.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE hash = ?`, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding blob: %w", err)
	}
	return b, nil
}

// UpsertBlob fills only the fields an existing row recorded as unknown:
// empty MIME type, zero sizes and missing compression type. A new row is
// last stored at its creation time.
func (s *SQLiteDatabase) UpsertBlob(ctx context.Context, b *cas.Blob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (`+blobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE SET
			mime_type = CASE WHEN blobs.mime_type = '' THEN excluded.mime_type ELSE blobs.mime_type END,
			original_size_bytes = CASE WHEN blobs.original_size_bytes = 0 THEN excluded.original_size_bytes ELSE blobs.original_size_bytes END,
			stored_size_bytes = CASE WHEN blobs.stored_size_bytes = 0 THEN excluded.stored_size_bytes ELSE blobs.stored_size_bytes END,
			is_stored_compressed = CASE WHEN blobs.compression_type IS NULL AND excluded.compression_type IS NOT NULL THEN excluded.is_stored_compressed ELSE blobs.is_stored_compressed END,
			compression_type = COALESCE(blobs.compression_type, excluded.compression_type)`,
		b.Hash, b.MimeType, b.IsBinary, b.OriginalSizeBytes, b.StoredSizeBytes,
		b.IsStoredCompressed, b.CompressionType, b.IsAlreadyCompressed, b.CreatedAt.UTC(), b.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting blob: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) TouchBlob(ctx context.Context, hash string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE blobs SET last_stored_at = ? WHERE hash = ?`, at.UTC(), hash); err != nil {
		return fmt.Errorf("touching blob: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteBlob(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE hash = ?`, hash); err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindOrphanBlobs(ctx context.Context, cutoff time.Time) ([]*cas.Blob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+blobColumns+` FROM blobs b
		WHERE COALESCE(b.last_stored_at, b.created_at) < ?
		  AND NOT EXISTS (SELECT 1 FROM files f WHERE f.blob_hash = b.hash)
		  AND NOT EXISTS (SELECT 1 FROM files f WHERE f.old_blob_hash = b.hash)
		ORDER BY b.hash`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("finding orphan blobs: %w", err)
	}
	defer rows.Close()

	var result []*cas.Blob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) IsBlobReferenced(ctx context.Context, hash string) (bool, error) {
	var referenced bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM files WHERE blob_hash = ?)
		    OR EXISTS (SELECT 1 FROM files WHERE old_blob_hash = ?)`, hash, hash).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("checking blob references: %w", err)
	}
	return referenced, nil
}

// Manifest operations

const manifestColumns = `id, hash_tree_sha256, source, version, total_files, total_size_bytes, path, created_at`

func scanManifest(row rowScanner) (*cas.ManifestRecord, error) {
	var m cas.ManifestRecord
	if err := row.Scan(&m.ID, &m.HashTreeSHA256, &m.Source, &m.Version, &m.TotalFiles, &m.TotalSizeBytes, &m.Path, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteDatabase) FindManifestByHash(ctx context.Context, hashTree string) (*cas.ManifestRecord, error) {
	m, err := scanManifest(s.db.QueryRowContext(ctx, `SELECT `+manifestColumns+` FROM manifests WHERE hash_tree_sha256 = ?`, hashTree))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding manifest: %w", err)
	}
	return m, nil
}

func (s *SQLiteDatabase) CreateManifest(ctx context.Context, m *cas.ManifestRecord) (*cas.ManifestRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO manifests (`+manifestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash_tree_sha256) DO NOTHING`,
		m.ID, m.HashTreeSHA256, m.Source, m.Version, m.TotalFiles, m.TotalSizeBytes, m.Path, m.CreatedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("inserting manifest: %w", err)
	}

	stored, err := scanManifest(tx.QueryRowContext(ctx, `SELECT `+manifestColumns+` FROM manifests WHERE hash_tree_sha256 = ?`, m.HashTreeSHA256))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return stored, nil
}

// Workspace operations

const workspaceColumns = `id, name, owner, visibility, created_at, deleted_at`

func scanWorkspace(row rowScanner) (*cas.Workspace, error) {
	var w cas.Workspace
	if err := row.Scan(&w.ID, &w.Name, &w.Owner, &w.Visibility, &w.CreatedAt, &w.DeletedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func insertWorkspace(ctx context.Context, tx *sql.Tx, w *cas.Workspace) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workspaces (id, name, owner, visibility, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Owner, w.Visibility, w.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting workspace: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) CreateWorkspace(ctx context.Context, w *cas.Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertWorkspace(ctx, tx, w); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) FindWorkspace(ctx context.Context, id string) (*cas.Workspace, error) {
	w, err := scanWorkspace(s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding workspace: %w", err)
	}
	return w, nil
}

func (s *SQLiteDatabase) ListWorkspaces(ctx context.Context, includeDeleted bool) ([]*cas.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var result []*cas.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) SoftDeleteWorkspace(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workspaces SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) PurgeWorkspace(ctx context.Context, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE merge_id IN (SELECT id FROM merges WHERE workspace_id = ?)`, id)
	if err != nil {
		return 0, fmt.Errorf("purging files: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged files: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM merges WHERE workspace_id = ?`, id); err != nil {
		return 0, fmt.Errorf("purging merges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("purging workspace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return removed, nil
}

// Merge operations

const mergeColumns = `id, prev_merge_id, workspace_id, sequence, manifest_hash, label, message, merged_at`

func scanMerge(row rowScanner) (*cas.Merge, error) {
	var m cas.Merge
	if err := row.Scan(&m.ID, &m.PrevMergeID, &m.WorkspaceID, &m.Sequence, &m.ManifestHash, &m.Label, &m.Message, &m.MergedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteDatabase) FindMerge(ctx context.Context, id string) (*cas.Merge, error) {
	m, err := scanMerge(s.db.QueryRowContext(ctx, `SELECT `+mergeColumns+` FROM merges WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding merge: %w", err)
	}
	return m, nil
}

func (s *SQLiteDatabase) FindHeadMerge(ctx context.Context, workspaceID string) (*cas.Merge, error) {
	m, err := scanMerge(s.db.QueryRowContext(ctx,
		`SELECT `+mergeColumns+` FROM merges WHERE workspace_id = ? ORDER BY sequence DESC LIMIT 1`, workspaceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding head merge: %w", err)
	}
	return m, nil
}

func (s *SQLiteDatabase) ListMerges(ctx context.Context, workspaceID string, limit int) ([]*cas.Merge, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mergeColumns+` FROM merges WHERE workspace_id = ? ORDER BY sequence DESC LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing merges: %w", err)
	}
	defer rows.Close()

	var result []*cas.Merge
	for rows.Next() {
		m, err := scanMerge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning merge: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func insertMerge(ctx context.Context, tx *sql.Tx, m *cas.Merge, files []*cas.File) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO merges (`+mergeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PrevMergeID, m.WorkspaceID, m.Sequence, m.ManifestHash, m.Label, m.Message, m.MergedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return cas.Errorf(cas.KindConcurrentCommit, "insert merge",
				"workspace %s already has a merge at sequence %d", m.WorkspaceID, m.Sequence)
		}
		return fmt.Errorf("inserting merge: %w", err)
	}

	if len(files) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (merge_id, relative_path, blob_hash, old_blob_hash, action, size_bytes, file_modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing file insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, m.ID, f.RelativePath, f.BlobHash, f.OldBlobHash, f.Action, f.SizeBytes, f.FileModifiedAt); err != nil {
			return fmt.Errorf("inserting file %s: %w", f.RelativePath, err)
		}
	}
	return nil
}

func (s *SQLiteDatabase) CommitMerge(ctx context.Context, m *cas.Merge, files []*cas.File) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMerge(ctx, tx, m, files); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) CreateWorkspaceWithMerge(ctx context.Context, w *cas.Workspace, m *cas.Merge, files []*cas.File) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertWorkspace(ctx, tx, w); err != nil {
		return err
	}
	if err := insertMerge(ctx, tx, m, files); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing workspace: %w", err)
	}
	return nil
}

const fileColumns = `merge_id, relative_path, blob_hash, old_blob_hash, action, size_bytes, file_modified_at`

func scanFiles(rows *sql.Rows) ([]*cas.File, error) {
	defer rows.Close()

	var result []*cas.File
	for rows.Next() {
		var f cas.File
		if err := rows.Scan(&f.MergeID, &f.RelativePath, &f.BlobHash, &f.OldBlobHash, &f.Action, &f.SizeBytes, &f.FileModifiedAt); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		result = append(result, &f)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) FindFilesByMerge(ctx context.Context, mergeID string) ([]*cas.File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE merge_id = ? ORDER BY relative_path`, mergeID)
	if err != nil {
		return nil, fmt.Errorf("finding files: %w", err)
	}
	return scanFiles(rows)
}

func (s *SQLiteDatabase) FindChainFiles(ctx context.Context, mergeID string) ([]*cas.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain (id, prev_id, depth) AS (
			SELECT id, prev_merge_id, 0 FROM merges WHERE id = ?
			UNION ALL
			SELECT m.id, m.prev_merge_id, c.depth + 1 FROM merges m JOIN chain c ON m.id = c.prev_id
		)
		SELECT f.merge_id, f.relative_path, f.blob_hash, f.old_blob_hash, f.action, f.size_bytes, f.file_modified_at
		FROM files f JOIN chain c ON f.merge_id = c.id
		ORDER BY c.depth, f.relative_path`, mergeID)
	if err != nil {
		return nil, fmt.Errorf("walking merge chain: %w", err)
	}
	return scanFiles(rows)
}

// MergeSession operations

const sessionColumns = `id, workspace_id, merge_id, source_type, status, started_at, finished_at, metadata`

func (s *SQLiteDatabase) CreateMergeSession(ctx context.Context, ms *cas.MergeSession) error {
	metadata := ms.Metadata
	if strings.TrimSpace(metadata) == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO merge_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ms.ID, ms.WorkspaceID, ms.MergeID, ms.SourceType, ms.Status, ms.StartedAt.UTC(), ms.FinishedAt, metadata)
	if err != nil {
		return fmt.Errorf("inserting merge session: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FinishMergeSession(ctx context.Context, id string, status string, mergeID sql.NullString, metadata string, at time.Time) error {
	if strings.TrimSpace(metadata) == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE merge_sessions SET status = ?, merge_id = ?, metadata = ?, finished_at = ? WHERE id = ?`,
		status, mergeID, metadata, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing merge session: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListMergeSessions(ctx context.Context, workspaceID string, limit int) ([]*cas.MergeSession, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM merge_sessions WHERE workspace_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing merge sessions: %w", err)
	}
	defer rows.Close()

	var result []*cas.MergeSession
	for rows.Next() {
		var ms cas.MergeSession
		if err := rows.Scan(&ms.ID, &ms.WorkspaceID, &ms.MergeID, &ms.SourceType, &ms.Status, &ms.StartedAt, &ms.FinishedAt, &ms.Metadata); err != nil {
			return nil, fmt.Errorf("scanning merge session: %w", err)
		}
		result = append(result, &ms)
	}
	return result, rows.Err()
}

// Operation log

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation string, parameters string) (*cas.Operation, error) {
	op := &cas.Operation{
		StartedAt:  time.Now().UTC(),
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)`,
		op.StartedAt, op.Operation, op.Parameters, op.Status)
	if err != nil {
		return nil, fmt.Errorf("inserting operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE operations SET status = ?, finished_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*cas.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, operation, parameters, status FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*cas.Operation
	for rows.Next() {
		var op cas.Operation
		if err := rows.Scan(&op.ID, &op.StartedAt, &op.FinishedAt, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		result = append(result, &op)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) MaxOperationID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading max operation id: %w", err)
	}
	return id, nil
}

// Path returns the database file path.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema up to date.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
// destPath must not exist.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

var _ cas.Database = (*SQLiteDatabase)(nil)
