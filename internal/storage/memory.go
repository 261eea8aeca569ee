package storage

import (
	"context"
	"sync"
)

type MemoryDurable struct {
	mu      sync.Mutex
	records map[string]string
}

func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{records: map[string]string{}}
}

func (b *MemoryDurable) Open(context.Context) error {
	return nil
}

func (b *MemoryDurable) Get(_ context.Context, id string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.records[id]
	return content, ok, nil
}

func (b *MemoryDurable) Put(_ context.Context, id, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[id] = content
	return nil
}

func (b *MemoryDurable) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
	return nil
}

func (b *MemoryDurable) Close() error {
	return nil
}

func (b *MemoryDurable) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
