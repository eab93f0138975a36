package publish

import (
	"context"
	"fmt"
	"io"
	"sync"

	"bowtie-go/internal/bowtie"
)

// MemoryRemote is an in-memory implementation of the Remote interface,
// useful for testing. This implementation is safe for concurrent use.
type MemoryRemote struct {
	mu    sync.RWMutex
	files map[string][]byte
	puts  []string
}

// NewMemoryRemote creates an empty MemoryRemote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{files: make(map[string][]byte)}
}

// Stat returns the size of a stored file.
func (m *MemoryRemote) Stat(_ context.Context, name string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[name]
	return int64(len(data)), ok, nil
}

// Put stores a file, replacing any previous content.
func (m *MemoryRemote) Put(_ context.Context, name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[name] = data
	m.puts = append(m.puts, name)
	return nil
}

// Get returns the stored content of name.
func (m *MemoryRemote) Get(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[name]
	return data, ok
}

// Puts returns the names passed to Put, in call order.
func (m *MemoryRemote) Puts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.puts...)
}

// Close is a no-op for the in-memory remote.
func (m *MemoryRemote) Close() error {
	return nil
}

// Compile-time check that MemoryRemote implements bowtie.Remote interface
var _ bowtie.Remote = (*MemoryRemote)(nil)
