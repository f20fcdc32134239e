package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the external image store collaborator. Jobs hold an opaque ref;
// the bytes live here and are never copied into the job record.
type Store interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// FS serves images from a directory on local disk, the way the original
// gallery keeps its uploads.
type FS struct {
	root string
}

func NewFS(root string) *FS {
	return &FS{root: root}
}

func (f *FS) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	clean := filepath.Clean(ref)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("image ref %q escapes the media root", ref)
	}
	file, err := os.Open(filepath.Join(f.root, clean))
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", ref, err)
	}
	return file, nil
}

// Memory is an in-memory store for tests.
type Memory struct {
	mu     sync.RWMutex
	images map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{images: make(map[string][]byte)}
}

func (m *Memory) Put(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[ref] = data
}

func (m *Memory) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.images[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("image %q not found", ref)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
