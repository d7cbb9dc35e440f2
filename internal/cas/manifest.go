package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"cas-go/internal/hasher"
)

// TimeFormat is the millisecond UTC timestamp used for manifest versions
// and file modification times.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// sourcePattern matches type:identifier[-env][-version].
var sourcePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*:[A-Za-z0-9][A-Za-z0-9_./@-]*$`)

// ManifestFile is one entry of a manifest. The field order is part of the
// hash tree and must not change.
type ManifestFile struct {
	RelativePath   string `json:"relative_path"`
	BlobHash       string `json:"blob_hash"`
	SizeBytes      int64  `json:"size_bytes"`
	FileModifiedAt string `json:"file_modified_at"`
}

// Manifest is the immutable snapshot document stored on disk.
type Manifest struct {
	Source         string         `json:"source"`
	Version        string         `json:"version"`
	TotalFiles     int64          `json:"total_files"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	HashTreeSHA256 string         `json:"hash_tree_sha256"`
	Tags           []string       `json:"tags"`
	Files          []ManifestFile `json:"files"`
}

// SnapshotFile is one inbound file entry; the blob hash arrives as sha256.
type SnapshotFile struct {
	RelativePath   string `json:"relative_path"`
	SHA256         string `json:"sha256"`
	SizeBytes      int64  `json:"size_bytes"`
	FileModifiedAt string `json:"file_modified_at"`
}

// ManifestInput is the snapshot a caller submits for commit.
type ManifestInput struct {
	Source  string         `json:"source"`
	Version string         `json:"version"`
	Tags    []string       `json:"tags,omitempty"`
	Files   []SnapshotFile `json:"files"`
}

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime accepts any RFC 3339 timestamp and returns it in UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// normalizeTime re-renders an RFC 3339 timestamp in TimeFormat. An empty
// string stays empty.
func normalizeTime(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return "", err
	}
	return FormatTime(t), nil
}

// ValidSource reports whether s has the form type:identifier[-env][-version].
func ValidSource(s string) bool {
	return sourcePattern.MatchString(s)
}

// BuildManifest validates in and produces the manifest with totals and the
// hash tree filled in. File order is preserved.
func BuildManifest(in ManifestInput) (*Manifest, error) {
	const op = "build manifest"

	if !ValidSource(in.Source) {
		return nil, Errorf(KindInvalidManifest, op, "invalid source %q", in.Source)
	}
	version, err := normalizeTime(in.Version)
	if err != nil || version == "" {
		return nil, Errorf(KindInvalidManifest, op, "invalid version %q", in.Version)
	}

	m := &Manifest{
		Source:  in.Source,
		Version: version,
		Tags:    in.Tags,
		Files:   make([]ManifestFile, 0, len(in.Files)),
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}

	seen := make(map[string]struct{}, len(in.Files))
	for _, f := range in.Files {
		if f.RelativePath == "" {
			return nil, Errorf(KindInvalidManifest, op, "file with empty relative_path")
		}
		if _, dup := seen[f.RelativePath]; dup {
			return nil, Errorf(KindInvalidManifest, op, "duplicate path %q", f.RelativePath)
		}
		seen[f.RelativePath] = struct{}{}

		if !hasher.ValidHex(f.SHA256) {
			return nil, Errorf(KindInvalidManifest, op, "invalid sha256 for %q", f.RelativePath)
		}
		if f.SizeBytes < 0 {
			return nil, Errorf(KindInvalidManifest, op, "negative size for %q", f.RelativePath)
		}
		modified, err := normalizeTime(f.FileModifiedAt)
		if err != nil {
			return nil, Errorf(KindInvalidManifest, op, "invalid file_modified_at for %q: %v", f.RelativePath, err)
		}

		m.Files = append(m.Files, ManifestFile{
			RelativePath:   f.RelativePath,
			BlobHash:       f.SHA256,
			SizeBytes:      f.SizeBytes,
			FileModifiedAt: modified,
		})
		m.TotalSizeBytes += f.SizeBytes
	}
	m.TotalFiles = int64(len(m.Files))

	m.HashTreeSHA256, err = HashTree(m.Files)
	if err != nil {
		return nil, E(KindInternal, op, err)
	}
	return m, nil
}

// HashTree returns the SHA-256 of the compact JSON serialization of files.
// Identical lists hash identically; reordering changes the hash.
func HashTree(files []ManifestFile) (string, error) {
	if files == nil {
		files = []ManifestFile{}
	}
	data, err := marshalCompact(files)
	if err != nil {
		return "", fmt.Errorf("serializing files: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateIntegrity recomputes the hash tree from Files and compares it with
// HashTreeSHA256. A mismatch is an IntegrityViolation and is never repaired.
func (m *Manifest) ValidateIntegrity() error {
	got, err := HashTree(m.Files)
	if err != nil {
		return E(KindInternal, "validate manifest", err)
	}
	if got != m.HashTreeSHA256 {
		return Errorf(KindIntegrityViolation, "validate manifest",
			"hash tree mismatch: recorded %s, computed %s", m.HashTreeSHA256, got)
	}
	if int64(len(m.Files)) != m.TotalFiles {
		return Errorf(KindIntegrityViolation, "validate manifest",
			"total_files %d does not match %d entries", m.TotalFiles, len(m.Files))
	}
	return nil
}

// VersionTime parses Version.
func (m *Manifest) VersionTime() (time.Time, error) {
	return ParseTime(m.Version)
}

// Encode serializes the manifest document.
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeManifest parses a manifest document. It does not validate integrity.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, E(KindInvalidManifest, "decode manifest", err)
	}
	return &m, nil
}

func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder appends a newline that is not part of the serialization.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
