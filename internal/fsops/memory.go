package fsops

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory FileOps. Every operation is atomic under a single
// mutex, and waiters are woken on deletion instead of polling.
type Memory struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]struct{}
	waiters map[string][]chan struct{}
	creates map[string]int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		files:   map[string][]byte{},
		dirs:    map[string]struct{}{},
		waiters: map[string][]chan struct{}{},
		creates: map[string]int{},
	}
}

func clean(path string) string {
	return filepath.Clean(path)
}

// Exists implements FileOps.Exists.
func (m *Memory) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[clean(path)]
	return ok, nil
}

// CreateDirectories implements FileOps.CreateDirectories.
func (m *Memory) CreateDirectories(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := filepath.Dir(clean(path)); dir != "." && dir != "/"; dir = filepath.Dir(dir) {
		m.dirs[dir] = struct{}{}
	}
	return nil
}

// CreateEmptyFile implements FileOps.CreateEmptyFile.
func (m *Memory) CreateEmptyFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := clean(path)
	if _, ok := m.files[key]; ok {
		return fmt.Errorf("fsops: create %s: %w", path, fs.ErrExist)
	}
	m.files[key] = []byte{}
	m.creates[key]++
	return nil
}

// DeleteFile implements FileOps.DeleteFile.
func (m *Memory) DeleteFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := clean(path)
	delete(m.files, key)
	for _, ch := range m.waiters[key] {
		close(ch)
	}
	delete(m.waiters, key)
	return nil
}

// BlockUntilDeleted implements FileOps.BlockUntilDeleted. The poll interval
// is ignored; DeleteFile wakes waiters directly.
func (m *Memory) BlockUntilDeleted(ctx context.Context, path string, _ time.Duration) error {
	key := clean(path)
	m.mu.Lock()
	if _, ok := m.files[key]; !ok {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.waiters[key] = append(m.waiters[key], ch)
	m.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// ReadFile implements FileOps.ReadFile.
func (m *Memory) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[clean(path)]
	if !ok {
		return nil, fmt.Errorf("fsops: read %s: %w", path, fs.ErrNotExist)
	}
	return append([]byte{}, data...), nil
}

// WriteFile implements FileOps.WriteFile.
func (m *Memory) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[clean(path)] = append([]byte{}, data...)
	return nil
}

// Paths lists every stored file, sorted.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for path := range m.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Creates reports how many times CreateEmptyFile succeeded for path.
func (m *Memory) Creates(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates[clean(path)]
}
