package node

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dreamware/drift/internal/storage"
)

var (
	// ErrUnavailable is returned by every operation on a node that is
	// currently unreachable.
	ErrUnavailable = errors.New("node unavailable")

	// ErrNotFound is returned when the node holds no replica of a file.
	ErrNotFound = errors.New("file not held by node")
)

// Node is a single storage unit in the pool. It keeps one ValueVersion per
// replicated file and serializes read-modify-write cycles on its own lock, so
// fan-out writes from other nodes never need a global lock.
type Node struct {
	store     storage.Store
	stats     *OperationStats
	logger    zerolog.Logger
	available atomic.Bool
	mu        sync.Mutex // Serializes merges against the store
	ID        int        // Index in the coordinator's pool
}

// OperationStats tracks operation counts
type OperationStats struct {
	Reads    uint64 `json:"reads"`    // Local reads served
	Writes   uint64 `json:"writes"`   // Local writes applied (including fan-out)
	Replicas uint64 `json:"replicas"` // Replica copies received
	Deletes  uint64 `json:"deletes"`  // Replicas removed
	Dropped  uint64 `json:"dropped"`  // Fan-out writes lost to an unavailable peer
}

// Info is a point-in-time description of a node for the admin surface.
type Info struct {
	Storage   storage.StoreStats `json:"storage"`
	Ops       OperationStats     `json:"ops"`
	ID        int                `json:"id"`
	Available bool               `json:"available"`
}

// New creates an available node backed by store.
func New(id int, store storage.Store) *Node {
	n := &Node{
		ID:     id,
		store:  store,
		stats:  &OperationStats{},
		logger: zerolog.Nop(),
	}
	n.available.Store(true)
	return n
}

// NewMemory creates a node with in-memory storage.
func NewMemory(id int) *Node {
	return New(id, storage.NewMemoryStore())
}

// SetLogger sets the logger for the node.
func (n *Node) SetLogger(logger zerolog.Logger) {
	n.logger = logger.With().Int("node", n.ID).Logger()
}

// SetAvailable marks the node reachable or not. An unavailable node rejects
// every operation with ErrUnavailable; its data is kept.
func (n *Node) SetAvailable(available bool) {
	n.available.Store(available)
}

// Available reports whether the node currently accepts operations.
func (n *Node) Available() bool {
	return n.available.Load()
}

func (n *Node) check() error {
	if !n.available.Load() {
		return fmt.Errorf("node %d: %w", n.ID, ErrUnavailable)
	}
	return nil
}

// Read returns the node's full record for a file, conflict set included.
func (n *Node) Read(name string) (storage.ValueVersion, error) {
	if err := n.check(); err != nil {
		return storage.ValueVersion{}, err
	}
	atomic.AddUint64(&n.stats.Reads, 1)
	return n.get(name)
}

func (n *Node) get(name string) (storage.ValueVersion, error) {
	vv, err := n.store.Get(name)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return storage.ValueVersion{}, fmt.Errorf("node %d: %s: %w", n.ID, name, ErrNotFound)
	}
	return vv, err
}

// Write applies (value, version) locally and returns the resulting record.
func (n *Node) Write(name, value string, version int) (storage.ValueVersion, error) {
	if err := n.check(); err != nil {
		return storage.ValueVersion{}, err
	}
	atomic.AddUint64(&n.stats.Writes, 1)

	n.mu.Lock()
	defer n.mu.Unlock()

	current, err := n.store.Get(name)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return storage.ValueVersion{}, err
	}
	next, changed := current.Apply(value, version)
	if !changed {
		return next, nil
	}
	if next.Conflicted() {
		n.logger.Debug().Str("file", name).Int("version", version).
			Strs("values", next.Values).Msg("conflicting write recorded")
	}
	if err := n.store.Put(name, next); err != nil {
		return storage.ValueVersion{}, err
	}
	return next, nil
}

// AddReplica installs a full copy of a file's record, replacing anything the
// node already held for it.
func (n *Node) AddReplica(name string, vv storage.ValueVersion) error {
	if err := n.check(); err != nil {
		return err
	}
	atomic.AddUint64(&n.stats.Replicas, 1)

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.store.Put(name, vv)
}

// Delete removes the node's replica and returns what it held.
func (n *Node) Delete(name string) (storage.ValueVersion, error) {
	if err := n.check(); err != nil {
		return storage.ValueVersion{}, err
	}
	atomic.AddUint64(&n.stats.Deletes, 1)

	n.mu.Lock()
	defer n.mu.Unlock()

	vv, err := n.store.Delete(name)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return storage.ValueVersion{}, fmt.Errorf("node %d: %s: %w", n.ID, name, ErrNotFound)
	}
	return vv, err
}

// Files lists the files the node holds.
func (n *Node) Files() []string {
	return n.store.List()
}

// Reset drops every replica and zeroes the counters. It ignores availability
// so an admin flush always leaves the pool empty.
func (n *Node) Reset() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, c := range []*uint64{&n.stats.Reads, &n.stats.Writes, &n.stats.Replicas, &n.stats.Deletes, &n.stats.Dropped} {
		atomic.StoreUint64(c, 0)
	}
	return n.store.Clear()
}

// Close releases the node's store.
func (n *Node) Close() error {
	return n.store.Close()
}

// Stats returns current operation counters
func (n *Node) Stats() OperationStats {
	return OperationStats{
		Reads:    atomic.LoadUint64(&n.stats.Reads),
		Writes:   atomic.LoadUint64(&n.stats.Writes),
		Replicas: atomic.LoadUint64(&n.stats.Replicas),
		Deletes:  atomic.LoadUint64(&n.stats.Deletes),
		Dropped:  atomic.LoadUint64(&n.stats.Dropped),
	}
}

// Info returns metadata about the node
func (n *Node) Info() Info {
	return Info{
		ID:        n.ID,
		Available: n.Available(),
		Storage:   n.store.Stats(),
		Ops:       n.Stats(),
	}
}
