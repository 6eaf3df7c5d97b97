package objects

import (
	"bytes"
	"context"
	"sync"

	"github.com/ipfs/go-cid"
)

var _ ObjectTable = (*MemoryObjectTable)(nil)

// MemoryObjectTable is an in-process ObjectTable used by tests and
// single-node deployments without DynamoDB.
type MemoryObjectTable struct {
	mu      sync.RWMutex
	objects map[cid.Cid][]byte
}

func NewMemoryObjectTable() *MemoryObjectTable {
	return &MemoryObjectTable{objects: make(map[cid.Cid][]byte)}
}

func (m *MemoryObjectTable) Put(ctx context.Context, payload cid.Cid, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.objects[payload]; ok {
		if !bytes.Equal(existing, data) {
			return ErrDigestMismatch
		}
		return nil
	}

	m.objects[payload] = bytes.Clone(data)
	return nil
}

func (m *MemoryObjectTable) Get(ctx context.Context, payload cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[payload]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (m *MemoryObjectTable) Has(ctx context.Context, payload cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[payload]
	return ok, nil
}
