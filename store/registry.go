package store

import (
	"fmt"
	"sort"
	"sync"
)

// SourceType names a Source implementation.
type SourceType string

const (
	// MemorySourceType is the in-memory implementation
	MemorySourceType SourceType = "memory"
	// DBSourceType is the sqlite implementation
	DBSourceType SourceType = "db"
)

// SourceConstructor creates a new Source from implementation specific
// parameters.
type SourceConstructor func(params map[string]any) (Source, error)

// Registry manages the available Source implementations
type Registry interface {
	// Register adds a new Source implementation to the registry
	Register(st SourceType, constructor SourceConstructor) error
	// Get returns a new instance of the specified source type
	Get(st SourceType, params map[string]any) (Source, error)
	// ListRegistered returns the registered source types, sorted
	ListRegistered() []SourceType
}

type registry struct {
	mu      sync.RWMutex
	sources map[SourceType]SourceConstructor
}

var defaultRegistry Registry = &registry{
	sources: make(map[SourceType]SourceConstructor),
}

// GetRegistry returns the global Registry instance
func GetRegistry() Registry {
	return defaultRegistry
}

func (r *registry) Register(st SourceType, constructor SourceConstructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[st]; exists {
		return fmt.Errorf("source type %s already registered", st)
	}
	r.sources[st] = constructor
	return nil
}

func (r *registry) Get(st SourceType, params map[string]any) (Source, error) {
	r.mu.RLock()
	constructor, exists := r.sources[st]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("source type %s not found", st)
	}
	return constructor(params)
}

func (r *registry) ListRegistered() []SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]SourceType, 0, len(r.sources))
	for st := range r.sources {
		types = append(types, st)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Register adds a new Source implementation to the default registry
func Register(st SourceType, constructor SourceConstructor) error {
	return GetRegistry().Register(st, constructor)
}

// Get returns a new instance of the specified source type. An empty type
// selects the memory source.
func Get(st SourceType, params map[string]any) (Source, error) {
	if st == "" {
		st = MemorySourceType
	}
	return GetRegistry().Get(st, params)
}

// ListRegistered returns the source types of the default registry
func ListRegistered() []SourceType {
	return GetRegistry().ListRegistered()
}
