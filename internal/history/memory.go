package history

import (
	"context"
	"sync"
)

type Memory struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append([]Record{rec}, m.records...)
	if len(m.records) > Capacity {
		m.records = m.records[:Capacity]
	}
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}

func (m *Memory) FindByHash(_ context.Context, hash string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if sameHash(r.Hash, hash) {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *Memory) List(context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *Memory) SetStatus(_ context.Context, hash string, status Status) error {
	if !status.Valid() {
		return validate(Record{Hash: hash, Status: status})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if sameHash(m.records[i].Hash, hash) {
			m.records[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}
