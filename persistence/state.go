// Package persistence is the typed view of the state repository that
// contract code reads and writes through. Every key is passed through a
// KeyEncodingStrategy and every write is charged to the gas meter before it
// reaches the repository.
package persistence

import (
	"fmt"

	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/gas"
	"github.com/govm-net/scvm/serialization"
	"github.com/govm-net/scvm/state"
)

// PersistentState is the storage of one contract.
type PersistentState struct {
	repo   *state.Repository
	addr   core.Address
	meter  *gas.Meter
	prices gas.PriceList
	keys   KeyEncodingStrategy
}

// New binds a PersistentState to the contract at addr.
func New(repo *state.Repository, addr core.Address, meter *gas.Meter, prices gas.PriceList, keys KeyEncodingStrategy) *PersistentState {
	if keys == nil {
		keys = BasicKeyEncoding{}
	}
	return &PersistentState{
		repo:   repo,
		addr:   addr,
		meter:  meter,
		prices: prices,
		keys:   keys,
	}
}

// ContractAddress returns the address whose storage this is.
func (s *PersistentState) ContractAddress() core.Address {
	return s.addr
}

// Meter returns the gas meter writes are charged to.
func (s *PersistentState) Meter() *gas.Meter {
	return s.meter
}

// IsContract reports whether code is installed at addr.
func (s *PersistentState) IsContract(addr core.Address) bool {
	return s.repo.GetCode(addr) != nil
}

// GetBalance returns the balance of the bound contract.
func (s *PersistentState) GetBalance() uint64 {
	return s.repo.GetBalance(s.addr)
}

func (s *PersistentState) get(rawKey []byte) []byte {
	key := s.keys.EncodeKey(rawKey)
	value := s.repo.GetStorageValue(s.addr, key)
	s.meter.Spend(s.prices.StorageRead(key, value))
	return value
}

func (s *PersistentState) set(rawKey, value []byte) {
	key := s.keys.EncodeKey(rawKey)
	s.meter.Spend(s.prices.StorageWrite(key, value))
	s.repo.SetStorageValue(s.addr, key, value)
}

// GetBytes returns the raw value under key, or nil.
func (s *PersistentState) GetBytes(key string) []byte {
	return s.get([]byte(key))
}

// SetBytes writes a raw value. An empty value clears the key.
func (s *PersistentState) SetBytes(key string, value []byte) {
	s.set([]byte(key), value)
}

// Clear removes key.
func (s *PersistentState) Clear(key string) {
	s.set([]byte(key), nil)
}

// GetObject decodes the value under key as kind. Absent keys yield the zero
// value of the kind.
func (s *PersistentState) GetObject(key string, kind serialization.Kind) (any, error) {
	return decodeOrZero(kind, s.get([]byte(key)))
}

// SetObject encodes value by its kind and writes it under key.
func (s *PersistentState) SetObject(key string, value any) error {
	data, err := serialization.Serialize(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.set([]byte(key), data)
	return nil
}

func decodeOrZero(kind serialization.Kind, data []byte) (any, error) {
	if data == nil {
		return serialization.Zero(kind)
	}
	return serialization.Deserialize(kind, data)
}

// kindFor resolves the kind of T. Unsupported types fail here, when a typed
// accessor is built, rather than on first use.
func kindFor[T any]() (serialization.Kind, error) {
	var zero T
	return serialization.KindOf(zero)
}

// Get reads key as a T.
func Get[T any](s *PersistentState, key string) (T, error) {
	var zero T
	kind, err := kindFor[T]()
	if err != nil {
		return zero, err
	}
	v, err := s.GetObject(key, kind)
	if err != nil {
		return zero, fmt.Errorf("get %q: %w", key, err)
	}
	return v.(T), nil
}

// Set writes a T under key.
func Set[T any](s *PersistentState, key string, value T) error {
	return s.SetObject(key, value)
}

func (s *PersistentState) GetBool(key string) (bool, error) { return Get[bool](s, key) }
func (s *PersistentState) SetBool(key string, v bool) error { return Set(s, key, v) }
func (s *PersistentState) GetUInt32(key string) (uint32, error) { return Get[uint32](s, key) }
func (s *PersistentState) SetUInt32(key string, v uint32) error { return Set(s, key, v) }
func (s *PersistentState) GetUInt64(key string) (uint64, error) { return Get[uint64](s, key) }
func (s *PersistentState) SetUInt64(key string, v uint64) error { return Set(s, key, v) }
func (s *PersistentState) GetInt64(key string) (int64, error) { return Get[int64](s, key) }
func (s *PersistentState) SetInt64(key string, v int64) error { return Set(s, key, v) }
func (s *PersistentState) GetString(key string) (string, error) { return Get[string](s, key) }
func (s *PersistentState) SetString(key string, v string) error { return Set(s, key, v) }

func (s *PersistentState) GetAddress(key string) (core.Address, error) {
	return Get[core.Address](s, key)
}

func (s *PersistentState) SetAddress(key string, v core.Address) error {
	return Set(s, key, v)
}
