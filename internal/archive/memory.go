package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"cas-go/internal/cas"
)

// MemoryArchive keeps archived metadata in memory. It is safe for
// concurrent use and is mostly useful in tests.
type MemoryArchive struct {
	name     string
	metadata map[string][]byte // "hostID/name" -> bytes
	versions map[string]int64  // "hostID/name" -> version
	mu       sync.RWMutex
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive(name string) *MemoryArchive {
	return &MemoryArchive{
		name:     name,
		metadata: make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func metadataKey(hostID, name string) string {
	return hostID + "/" + name
}

// Name returns the archive name.
func (m *MemoryArchive) Name() string { return m.name }

// PutMetadata stores a named item for a host.
func (m *MemoryArchive) PutMetadata(_ context.Context, hostID, name string, r io.Reader, size, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := metadataKey(hostID, name)
	m.metadata[key] = data
	m.versions[key] = version
	return nil
}

// GetMetadataVersion returns 0 if nothing has been stored for hostID/name.
func (m *MemoryArchive) GetMetadataVersion(_ context.Context, hostID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.versions[metadataKey(hostID, name)], nil
}

// GetMetadata writes the named item for a host to w.
func (m *MemoryArchive) GetMetadata(_ context.Context, hostID, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.metadata[metadataKey(hostID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metadata %q not found for host: %s", name, hostID)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds.
func (m *MemoryArchive) ValidateSetup(context.Context) error {
	return nil
}

var _ cas.Archive = (*MemoryArchive)(nil)
