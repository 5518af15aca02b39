// Package memory provides the in-memory session store.
//
// Sessions live in a sharded map keyed by token hash, so lookups contend only
// on one shard. Mutations that touch the identity index (create, delete,
// lazy expiry) are serialized by a store-wide mutex.
package memory
