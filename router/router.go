// Package router maps keys to write-behind partitions and derives the
// queue and lock names for a partition index.
//
// Producers and consumers must agree on the hash family: every process in a
// deployment routes with Hash, so a key always lands on the same queue for a
// fixed partition count.
package router

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// LockSuffix is appended to a queue name to form its lease resource.
const LockSuffix = "~lock"

// Hash returns the 64-bit xxhash of key.
func Hash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Route returns the partition index for key in [0, n).
// n <= 0 yields 0.
func Route(key string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(Hash(key) % uint64(n))
}

// QueueName derives the queue name of a partition: prefix + index.
func QueueName(prefix string, index int) string {
	return prefix + strconv.Itoa(index)
}

// LockName derives the lease resource guarding a queue.
func LockName(queue string) string {
	return queue + LockSuffix
}

// QueueNames returns the names of partitions 0..n-1 in index order.
func QueueNames(prefix string, n int) []string {
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = QueueName(prefix, i)
	}
	return out
}
