// Package coordinator implements drift's control plane: it owns the node
// pool, routes reads and writes, records placement metadata, and runs the two
// rebalancing passes that retune replication and spread load.
//
// # Overview
//
// The coordinator is the only component that knows where files live. Nodes
// hold records; the metastore holds everything else:
//
//	┌─────────────────────────────────────┐
//	│            COORDINATOR              │
//	├─────────────────────────────────────┤
//	│  Read / Write        FileLocations  │
//	│  ReadBalance         ServerBalance  │
//	│  Reset               Nodes          │
//	└─────────────────────────────────────┘
//	        │                       │
//	        ▼                       ▼
//	┌──────────────┐        ┌──────────────┐
//	│  node pool   │        │  metastore   │
//	│  0 .. N-1    │        │ memory/redis │
//	└──────────────┘        └──────────────┘
//
// # Metadata layout
//
//	all_files        set of every known file name
//	reads            list of read file names, newest first
//	members:<file>   set of node ids holding the file
//	origin:<file>    id of the node that created the file
//	server:<id>      set of file names held by the node
//	access:<id>      list of access timestamps (unix ms), newest first
//
// members:<file> and server:<id> are two views of the same relation and are
// always updated together.
//
// # Reads and writes
//
// A read of a known file goes to a uniformly random member. A write of a new
// file goes to a uniformly random node, which becomes the file's origin. A
// write of an existing file goes to one member, chosen by hashing the name,
// and is then propagated asynchronously to every other member. Propagation is
// best effort: a member that is unavailable at that moment misses the update.
//
// # Rebalancing
//
// ReadBalance counts each file's reads in the most recent window and moves
// its replica count toward a target: every node for hot files, otherwise
// reads/2+1. New replicas copy the origin's record. The origin replica is
// never removed.
//
// ServerBalance compares each node's access log and moves one file from the
// busiest node to the least busy one. It never moves an origin replica and
// never changes a file's replica count.
//
// Balancer drives both passes on independent timers.
//
// # Concurrency
//
// All operations that read or change placement hold a single coordinator
// mutex, so a rebalancing pass never interleaves with a read or write.
// Propagation goroutines run outside the mutex; WaitFanout blocks until they
// finish.
package coordinator
