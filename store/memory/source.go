// Package memory provides a map backed state source. It is used by tests and
// by tools that do not need state to outlive the process.
package memory

import (
	"bytes"
	"sync"

	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/store"
)

func init() {
	store.Register(store.MemorySourceType, func(map[string]any) (store.Source, error) {
		return NewSource(), nil
	})
}

// Source keeps accounts and storage in maps.
type Source struct {
	mu       sync.RWMutex
	accounts map[core.Address]*store.Account
	storage  map[core.Address]map[string][]byte
}

// NewSource creates an empty in-memory source
func NewSource() *Source {
	return &Source{
		accounts: make(map[core.Address]*store.Account),
		storage:  make(map[core.Address]map[string][]byte),
	}
}

func (s *Source) GetAccount(addr core.Address) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[addr].Copy(), nil
}

func (s *Source) GetStorage(addr core.Address, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.storage[addr][string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(value), nil
}

func (s *Source) Apply(cs *store.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, account := range cs.Accounts {
		s.accounts[addr] = account.Copy()
	}
	for addr, values := range cs.Storage {
		slots, ok := s.storage[addr]
		if !ok {
			slots = make(map[string][]byte)
			s.storage[addr] = slots
		}
		for key, value := range values {
			if value == nil {
				delete(slots, key)
				continue
			}
			slots[key] = bytes.Clone(value)
		}
	}
	return nil
}

func (s *Source) Close() error {
	return nil
}
