// Package store defines the persistent root beneath the state repository and
// a registry of the available backing implementations.
package store

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/govm-net/scvm/core"
)

// Unspent is the single transaction output holding a contract's balance.
type Unspent struct {
	TxHash chainhash.Hash
	Index  uint32
	Value  uint64
}

// Account is the persisted record of one address.
type Account struct {
	Balance uint64
	Code    []byte
	Unspent *Unspent
}

// Copy returns a deep copy of a.
func (a *Account) Copy() *Account {
	if a == nil {
		return nil
	}
	out := &Account{Balance: a.Balance}
	if a.Code != nil {
		out.Code = bytes.Clone(a.Code)
	}
	if a.Unspent != nil {
		u := *a.Unspent
		out.Unspent = &u
	}
	return out
}

// ChangeSet is the set of writes flushed by a root commit. A nil storage
// value deletes the key.
type ChangeSet struct {
	Accounts map[core.Address]*Account
	Storage  map[core.Address]map[string][]byte
}

// NewChangeSet returns an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		Accounts: make(map[core.Address]*Account),
		Storage:  make(map[core.Address]map[string][]byte),
	}
}

// Empty reports whether the change set holds no writes.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Accounts) == 0 && len(cs.Storage) == 0
}

// Source is the persistent root of the state. Reads of absent records
// return nil without error.
type Source interface {
	GetAccount(addr core.Address) (*Account, error)
	GetStorage(addr core.Address, key []byte) ([]byte, error)
	// Apply writes cs atomically.
	Apply(cs *ChangeSet) error
	Close() error
}
