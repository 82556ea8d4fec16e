package utils

import "hash/fnv"

// StableHash is FNV-1a of s. It does not change between processes, so
// anything keyed on it replays identically.
func StableHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Pick maps key onto [0, n). n must be positive.
func Pick(key string, n int) int {
	return int(StableHash(key) % uint64(n))
}
