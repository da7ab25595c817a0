// Package storage provides the node-local persistence layer for drift: the
// ValueVersion record a node keeps for every file it replicates, and the
// Store backends that hold those records.
//
// # Overview
//
// Every node owns exactly one Store. The store is deliberately dumb: it maps
// a file name to a ValueVersion and knows nothing about versions or
// conflicts. The merge rule lives on ValueVersion itself (Apply) so that the
// node can read, merge and write back under its own lock regardless of the
// backend.
//
//	┌─────────────────────────────────────┐
//	│               Node                  │
//	│   Read / Write / AddReplica / ...   │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          Store interface            │
//	└─────────────────────────────────────┘
//	          │                 │
//	          ▼                 ▼
//	    ┌──────────┐      ┌──────────┐
//	    │  Memory  │      │   Bolt   │
//	    │  Store   │      │  Store   │
//	    └──────────┘      └──────────┘
//
// # ValueVersion
//
// A record is a version number plus a set of values. Apply implements the
// only write rule in the system:
//
//   - a higher version replaces the set with the single new value
//   - an equal version adds the value to the set (a conflict if it differs)
//   - a lower version is stale and ignored
//
// A set with more than one value is an unreconciled conflict. It is surfaced
// to readers unchanged; Resolve picks one value at random for display.
//
// # Implementations
//
// MemoryStore: map guarded by sync.RWMutex
//   - no persistence
//   - used by default and in tests
//
// BoltStore: bbolt database, one bucket, JSON records
//   - survives restarts
//   - one file per node under the configured data directory
//
// # Concurrency
//
// Stores are safe for concurrent use. They do not provide read-modify-write
// atomicity across calls; the node serializes that itself.
package storage
