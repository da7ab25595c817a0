package storage

import (
	"errors"
	"sync"
)

// ErrKeyNotFound is returned when a file doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// Store defines the interface for a node's local file storage.
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves the record for a file
	// Returns ErrKeyNotFound if the file doesn't exist
	Get(name string) (ValueVersion, error)

	// Put stores a record, overwriting any existing one
	Put(name string, vv ValueVersion) error

	// Delete removes a file and returns the record it held
	// Returns ErrKeyNotFound if the file doesn't exist
	Delete(name string) (ValueVersion, error)

	// List returns all file names in the store
	// Order is not guaranteed
	List() []string

	// Stats returns storage statistics
	Stats() StoreStats

	// Clear removes every file
	Clear() error

	// Close releases any resources held by the store
	Close() error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Files     int `json:"files"`     // Number of files
	Values    int `json:"values"`    // Total values across all files
	Conflicts int `json:"conflicts"` // Files holding more than one value
}

func (s *StoreStats) add(vv ValueVersion) {
	s.Files++
	s.Values += vv.Len()
	if vv.Conflicted() {
		s.Conflicts++
	}
}

// MemoryStore implements Store with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	data map[string]ValueVersion
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]ValueVersion),
	}
}

// Get returns a copy of the record to prevent external modification
func (m *MemoryStore) Get(name string) (ValueVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vv, exists := m.data[name]
	if !exists {
		return ValueVersion{}, ErrKeyNotFound
	}
	return vv.Clone(), nil
}

// Put stores a copy of the record
func (m *MemoryStore) Put(name string, vv ValueVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[name] = vv.Clone()
	return nil
}

// Delete removes a file and hands back what it held
func (m *MemoryStore) Delete(name string) (ValueVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vv, exists := m.data[name]
	if !exists {
		return ValueVersion{}, ErrKeyNotFound
	}
	delete(m.data, name)
	return vv, nil
}

// List returns all file names in the store
func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	return names
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats StoreStats
	for _, vv := range m.data {
		stats.add(vv)
	}
	return stats
}

// Clear removes every file
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]ValueVersion)
	return nil
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}
