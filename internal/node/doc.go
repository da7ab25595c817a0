// Package node implements the storage unit of a drift pool.
//
// A Node holds one ValueVersion per file it replicates and exposes the local
// primitives the coordinator builds on: Read, Write, AddReplica, Delete and
// Reset. Writes are merged with storage.ValueVersion.Apply under the node's
// own mutex, which is the only lock a fan-out write ever takes.
//
// Propagate is the fire-and-forget half of a write: the replica that
// authored the write pushes it to its peers from detached goroutines and
// never waits for them. A peer that is unavailable misses the update and the
// loss is only logged and counted.
package node
