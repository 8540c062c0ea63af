// Package keygroup maps record keys to key groups, the unit of state
// partitioning. The assignment is a pure function of the key and the
// configured max parallelism, so it stays stable across restarts.
package keygroup

import "hash/fnv"

// Assign returns the key group for key, in the range [0, maxParallelism).
func Assign(key string, maxParallelism int) int {
	if maxParallelism <= 0 {
		panic("keygroup: maxParallelism must be positive")
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return int(h.Sum32() % uint32(maxParallelism))
}
