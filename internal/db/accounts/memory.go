package accounts

import (
	"context"
	"maps"
	"sync"

	"github.com/ipfs/go-cid"
)

var _ AccountTable = (*MemoryAccountTable)(nil)

type MemoryAccountTable struct {
	mu       sync.RWMutex
	accounts map[cid.Cid]*Account
}

func NewMemoryAccountTable() *MemoryAccountTable {
	return &MemoryAccountTable{accounts: make(map[cid.Cid]*Account)}
}

func (m *MemoryAccountTable) Init(ctx context.Context, payload cid.Cid) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[payload]; ok {
		return nil
	}

	m.accounts[payload] = &Account{
		Payload:     payload,
		Subaccounts: map[string]uint64{},
	}
	return nil
}

func (m *MemoryAccountTable) Get(ctx context.Context, payload cid.Cid) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[payload]
	if !ok {
		return nil, ErrNotFound
	}

	return &Account{
		Payload:     account.Payload,
		Balance:     account.Balance,
		Subaccounts: maps.Clone(account.Subaccounts),
	}, nil
}

func (m *MemoryAccountTable) Credit(ctx context.Context, payload cid.Cid, subaccount string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[payload]
	if !ok {
		return ErrNotFound
	}

	account.Balance += amount
	account.Subaccounts[subaccount] += amount
	return nil
}
