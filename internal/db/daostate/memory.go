package daostate

import (
	"context"
	"slices"
	"sync"
)

var _ StateTable = (*MemoryStateTable)(nil)

type MemoryStateTable struct {
	mu    sync.RWMutex
	state *State
}

func NewMemoryStateTable() *MemoryStateTable {
	return &MemoryStateTable{}
}

func (m *MemoryStateTable) Get(ctx context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return nil, ErrNotFound
	}
	return cloneState(m.state), nil
}

func (m *MemoryStateTable) Put(ctx context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = cloneState(state)
	return nil
}

func cloneState(s *State) *State {
	return &State{
		Admin:        s.Admin,
		Members:      slices.Clone(s.Members),
		Records:      slices.Clone(s.Records),
		TotalPledged: s.TotalPledged,
		TotalPaid:    s.TotalPaid,
	}
}
