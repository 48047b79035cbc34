package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-go-golems/parley/pkg/errdefs"
)

// MemoryBackend keeps values in process memory. Several persistence adapters sharing
// one MemoryBackend behave like several tabs sharing one browser storage: each write
// is announced to every watcher.
type MemoryBackend struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers *watchers
	closed   bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values:   map[string][]byte{},
		watchers: newWatchers(),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ensureOpen(); err != nil {
		return nil, err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, errdefs.NotFound("key", key)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	if err := m.ensureOpen(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.values[key] = append([]byte(nil), value...)
	m.mu.Unlock()

	m.watchers.notify(key)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	if err := m.ensureOpen(); err != nil {
		m.mu.Unlock()
		return err
	}
	_, existed := m.values[key]
	delete(m.values, key)
	m.mu.Unlock()

	if existed {
		m.watchers.notify(key)
	}
	return nil
}

func (m *MemoryBackend) Watch(ctx context.Context) (<-chan Change, error) {
	return m.watchers.add(ctx)
}

func (m *MemoryBackend) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]string, 0, len(m.values))
	for k := range m.values {
		ret = append(ret, k)
	}
	return ret
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.watchers.closeAll()
	return nil
}

func (m *MemoryBackend) ensureOpen() error {
	if m.closed {
		return fmt.Errorf("memory storage backend closed")
	}
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
