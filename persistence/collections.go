package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/serialization"
)

// ErrIndexOutOfRange is returned for list positions at or past Count.
var ErrIndexOutOfRange = errors.New("list index out of range")

// compoundKey hashes a collection name together with an element key. The
// name is length prefixed so that distinct (name, key) pairs never meet.
func compoundKey(name string, sub []byte) []byte {
	prefix := binary.LittleEndian.AppendUint32(nil, uint32(len(name)))
	return core.Keccak256(prefix, []byte(name), sub)
}

// Mapping is a string keyed map of V values stored under one name.
type Mapping[V any] struct {
	state *PersistentState
	name  string
	kind  serialization.Kind
}

// NewMapping returns the mapping called name. V must be a supported
// primitive kind.
func NewMapping[V any](s *PersistentState, name string) (*Mapping[V], error) {
	kind, err := kindFor[V]()
	if err != nil {
		return nil, fmt.Errorf("mapping %q: %w", name, err)
	}
	return &Mapping[V]{state: s, name: name, kind: kind}, nil
}

func (m *Mapping[V]) Name() string {
	return m.name
}

// Get returns the value under key, or the zero value.
func (m *Mapping[V]) Get(key string) (V, error) {
	var zero V
	v, err := decodeOrZero(m.kind, m.state.get(compoundKey(m.name, []byte(key))))
	if err != nil {
		return zero, fmt.Errorf("mapping %q key %q: %w", m.name, key, err)
	}
	return v.(V), nil
}

// Set overwrites the value under key.
func (m *Mapping[V]) Set(key string, value V) error {
	data, err := serialization.SerializeAs(m.kind, value)
	if err != nil {
		return fmt.Errorf("mapping %q key %q: %w", m.name, key, err)
	}
	m.state.set(compoundKey(m.name, []byte(key)), data)
	return nil
}

// Delete removes key.
func (m *Mapping[V]) Delete(key string) {
	m.state.set(compoundKey(m.name, []byte(key)), nil)
}

// List is an append-only sequence of T values. Its length lives in the
// "<name>.Count" object.
type List[T any] struct {
	state *PersistentState
	name  string
	kind  serialization.Kind
}

// NewList returns the list called name. T must be a supported primitive
// kind.
func NewList[T any](s *PersistentState, name string) (*List[T], error) {
	kind, err := kindFor[T]()
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", name, err)
	}
	return &List[T]{state: s, name: name, kind: kind}, nil
}

func (l *List[T]) Name() string {
	return l.name
}

func (l *List[T]) countKey() string {
	return l.name + ".Count"
}

func (l *List[T]) elementKey(index uint32) []byte {
	return compoundKey(l.name, []byte("["+strconv.FormatUint(uint64(index), 10)+"]"))
}

// Count returns the number of elements added so far.
func (l *List[T]) Count() (uint32, error) {
	return Get[uint32](l.state, l.countKey())
}

// Add appends value at position Count and increments Count.
func (l *List[T]) Add(value T) error {
	data, err := serialization.SerializeAs(l.kind, value)
	if err != nil {
		return fmt.Errorf("list %q: %w", l.name, err)
	}
	count, err := l.Count()
	if err != nil {
		return err
	}
	if count == ^uint32(0) {
		return fmt.Errorf("list %q is full: %w", l.name, ErrIndexOutOfRange)
	}
	l.state.set(l.elementKey(count), data)
	return Set(l.state, l.countKey(), count+1)
}

// Get returns the element at index.
func (l *List[T]) Get(index uint32) (T, error) {
	var zero T
	if err := l.checkIndex(index); err != nil {
		return zero, err
	}
	v, err := decodeOrZero(l.kind, l.state.get(l.elementKey(index)))
	if err != nil {
		return zero, fmt.Errorf("list %q[%d]: %w", l.name, index, err)
	}
	return v.(T), nil
}

// Set replaces the element at index.
func (l *List[T]) Set(index uint32, value T) error {
	data, err := serialization.SerializeAs(l.kind, value)
	if err != nil {
		return fmt.Errorf("list %q: %w", l.name, err)
	}
	if err := l.checkIndex(index); err != nil {
		return err
	}
	l.state.set(l.elementKey(index), data)
	return nil
}

func (l *List[T]) checkIndex(index uint32) error {
	count, err := l.Count()
	if err != nil {
		return err
	}
	if index >= count {
		return fmt.Errorf("list %q index %d, count %d: %w", l.name, index, count, ErrIndexOutOfRange)
	}
	return nil
}
