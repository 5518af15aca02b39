// Package cmap provides a concurrent-safe sharded map keyed by strings.
//
// Keys are spread over a power-of-two number of shards with MurmurHash3, each
// shard guarded by its own RWMutex. Single-key operations lock exactly one
// shard; whole-map operations visit the shards one at a time and therefore do
// not observe a consistent snapshot.
package cmap
