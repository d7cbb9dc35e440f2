package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for cas.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn", "error"
	Storage    StorageConfig    `toml:"storage"`
	Lock       LockConfig       `toml:"lock"`
	Database   DatabaseConfig   `toml:"database"`
	GC         GCConfig         `toml:"gc"`
	Archives   []ArchiveConfig  `toml:"archives"`
	Encryption EncryptionConfig `toml:"encryption"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// StorageConfig describes the storage root and how blobs are written into it.
type StorageConfig struct {
	Root string `toml:"root"`

	// HashThresholdBytes is the head/tail window of the content hash.
	// Files larger than twice this are hashed by windows.
	HashThresholdBytes int64 `toml:"hash_threshold_bytes"`

	// PartialVerifyAboveBytes: declared hashes of larger files are checked
	// by prefix sample instead of a full rehash.
	PartialVerifyAboveBytes int64 `toml:"partial_verify_above_bytes"`

	TempMaxAgeSeconds int64 `toml:"temp_max_age_seconds"`

	Compression CompressionConfig `toml:"compression"`
}

// CompressionConfig controls transparent compression of text blobs.
type CompressionConfig struct {
	Enabled               bool     `toml:"enabled"`
	Algorithm             string   `toml:"algorithm"` // "zstd" (default) or "lz4"
	MinSizeBytes          int64    `toml:"min_size_bytes"`
	AlreadyCompressedMIME []string `toml:"already_compressed_mime,omitempty"`
}

// LockConfig selects the lock backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LockConfig struct {
	Type           string `toml:"type"` // "local" or "redis"
	TimeoutSeconds int64  `toml:"timeout_seconds"`

	// Local-specific fields (only used when Type == "local")
	Dir string `toml:"dir,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	TTLSeconds    int64  `toml:"ttl_seconds,omitempty"`
	KeyPrefix     string `toml:"key_prefix,omitempty"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// GCConfig controls the garbage collector.
type GCConfig struct {
	// MinAgeSeconds is the grace period protecting blobs that were stored
	// but not yet committed.
	MinAgeSeconds int64 `toml:"min_age_seconds"`
}

// ArchiveConfig represents an off-site copy target for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services; implies path-style addressing

	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSArchiveRoot string `toml:"fs_archive_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for archive encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age", "test" or "none" (default)
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultHashThresholdBytes      int64 = 1 << 20
	DefaultPartialVerifyAboveBytes int64 = 50 * 1000 * 1000
	DefaultTempMaxAgeSeconds       int64 = 24 * 60 * 60
	DefaultCompressionAlgorithm          = "zstd"
	DefaultCompressionMinSize      int64 = 512
	DefaultLockTimeoutSeconds      int64 = 30
	DefaultLockTTLSeconds          int64 = 60
	DefaultLockKeyPrefix                 = "cas:lock:"
	DefaultGCMinAgeSeconds         int64 = 60 * 60
	DefaultLogLevel                      = "info"
)

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	cfg := &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Storage: StorageConfig{
			Root: filepath.Join(baseDir, "storage"),
			Compression: CompressionConfig{
				Enabled: true,
			},
		},
		Lock: LockConfig{
			Type: "local",
			Dir:  filepath.Join(baseDir, "locks"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "cas.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "cas.key"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Storage.Root == "" && c.BaseDir != "" {
		c.Storage.Root = filepath.Join(c.BaseDir, "storage")
	}
	if c.Storage.HashThresholdBytes <= 0 {
		c.Storage.HashThresholdBytes = DefaultHashThresholdBytes
	}
	if c.Storage.PartialVerifyAboveBytes <= 0 {
		c.Storage.PartialVerifyAboveBytes = DefaultPartialVerifyAboveBytes
	}
	if c.Storage.TempMaxAgeSeconds <= 0 {
		c.Storage.TempMaxAgeSeconds = DefaultTempMaxAgeSeconds
	}
	if c.Storage.Compression.Algorithm == "" {
		c.Storage.Compression.Algorithm = DefaultCompressionAlgorithm
	}
	if c.Storage.Compression.MinSizeBytes <= 0 {
		c.Storage.Compression.MinSizeBytes = DefaultCompressionMinSize
	}
	if c.Lock.Type == "" {
		c.Lock.Type = "local"
	}
	if c.Lock.Type == "local" && c.Lock.Dir == "" && c.BaseDir != "" {
		c.Lock.Dir = filepath.Join(c.BaseDir, "locks")
	}
	if c.Lock.TimeoutSeconds <= 0 {
		c.Lock.TimeoutSeconds = DefaultLockTimeoutSeconds
	}
	if c.Lock.Type == "redis" {
		if c.Lock.TTLSeconds <= 0 {
			c.Lock.TTLSeconds = DefaultLockTTLSeconds
		}
		if c.Lock.KeyPrefix == "" {
			c.Lock.KeyPrefix = DefaultLockKeyPrefix
		}
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.GC.MinAgeSeconds <= 0 {
		c.GC.MinAgeSeconds = DefaultGCMinAgeSeconds
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "none"
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage.root must be set"))
	}
	switch c.Storage.Compression.Algorithm {
	case "zstd", "lz4":
	default:
		errs = append(errs, fmt.Errorf("storage.compression.algorithm: unknown algorithm %q", c.Storage.Compression.Algorithm))
	}

	switch c.Lock.Type {
	case "local":
		if c.Lock.Dir == "" {
			errs = append(errs, errors.New("lock.dir must be set for local locks"))
		}
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr must be set for redis locks"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.type: unknown type %q", c.Lock.Type))
	}

	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database.data_dir must be set for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.type: unknown type %q", c.Database.Type))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}

	switch c.Encryption.Type {
	case "none", "test":
	case "age":
		if c.Encryption.PublicKeyPath == "" {
			errs = append(errs, errors.New("encryption.public_key_path must be set for age"))
		}
	default:
		errs = append(errs, fmt.Errorf("encryption.type: unknown type %q", c.Encryption.Type))
	}

	for i, a := range c.Archives {
		switch a.Type {
		case "memory":
		case "filesystem":
			if a.FSArchiveRoot == "" {
				errs = append(errs, fmt.Errorf("archives[%d]: fs_archive_root must be set", i))
			}
		case "s3":
			if a.S3Bucket == "" || a.S3Region == "" {
				errs = append(errs, fmt.Errorf("archives[%d]: s3_bucket and s3_region must be set", i))
			}
		default:
			errs = append(errs, fmt.Errorf("archives[%d]: unknown type %q", i, a.Type))
		}
	}

	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and applies defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
