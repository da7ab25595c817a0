// Package metastore is the coordination store behind the drift coordinator:
// a shared key space of sets, lists and scalars that holds file membership,
// origins, reverse indexes and access history.
//
// The coordinator talks to it through Store. RedisStore is the production
// backend; MemoryStore keeps the same semantics in-process for single-binary
// runs and tests.
package metastore
