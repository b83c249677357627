package storage

import (
	"context"
	"sync"
)

// ProgressStore keeps the latest progress report of each background
// confirmation, keyed by transaction hash.
type ProgressStore interface {
	SetProgress(ctx context.Context, hash string, p Progress) error
	GetProgress(ctx context.Context, hash string) (Progress, error)
	DeleteProgress(ctx context.Context, hash string) error
}

var (
	_ ProgressStore = (*RedisStorage)(nil)
	_ ProgressStore = (*MemoryProgress)(nil)
)

// MemoryProgress is a ProgressStore for tests and single-process use.
// Entries never expire.
type MemoryProgress struct {
	mu    sync.RWMutex
	items map[string]Progress
}

func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{items: make(map[string]Progress)}
}

func (m *MemoryProgress) SetProgress(ctx context.Context, hash string, p Progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[hash] = p
	return nil
}

func (m *MemoryProgress) GetProgress(ctx context.Context, hash string) (Progress, error) {
	if err := ctx.Err(); err != nil {
		return Progress{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[hash]
	if !ok {
		return Progress{}, ErrProgressNotFound
	}
	return p, nil
}

func (m *MemoryProgress) DeleteProgress(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, hash)
	return nil
}
