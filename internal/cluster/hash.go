package cluster

import "github.com/cespare/xxhash/v2"

// xxhashSum64 adapts xxhash to the dgryski/go-rendezvous Hasher signature
// (func(string) uint64), reusing the same hash function go-redis pulls in
// for its own cluster client rather than writing a new one.
func xxhashSum64(s string) uint64 { return xxhash.Sum64String(s) }
