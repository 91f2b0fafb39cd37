package recordstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps units in process memory. Checkpoints only record their
// message and Refresh keeps everything, so it suits dry runs and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	units   map[string][]byte
	commits []string
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{units: make(map[string][]byte)}
}

func (b *MemoryBackend) Read(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.units[key]
	if !ok {
		return nil, ErrUnitNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Write(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.units[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.units[key]; !ok {
		return ErrUnitNotFound
	}
	delete(b.units, key)
	return nil
}

func (b *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.units))
	for k := range b.units {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *MemoryBackend) Checkpoint(_ context.Context, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commits = append(b.commits, message)
	return nil
}

func (b *MemoryBackend) Refresh(context.Context) error { return nil }

// Commits returns every checkpoint message so far, oldest first.
func (b *MemoryBackend) Commits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commits...)
}
