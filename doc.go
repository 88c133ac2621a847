// Package writebehind implements a write-behind bridge between a
// Redis-compatible cache store and a durable wide-column store.
//
// Components:
//   - Client: type/TTL consistency between the two tiers. Reads go cache
//     first and fall back to durable metadata with lazy expiration. Writes
//     are routed either straight to the durable store or, for keys already
//     live in the cache, through a partition queue.
//   - Producer: encodes write records and pushes them to the queue selected
//     by router.Route(key, ProducerPartitions).
//   - Coordinator: owns a fair share of the partitions across a fleet using
//     one lease per queue and runs one flush worker per owned queue.
//   - flush worker: drains a queue in type-homogeneous batches.
//   - expire scheduler: hashed pool of workers applying TTL updates off the
//     request path.
//
// Durable layout (column family "d"):
//
//	d:t  type name
//	d:e  expiry, unix millis, 8 bytes big endian
//
// Queue and lock names:
//
//	<prefix><index>        partition queue
//	<prefix><index>~lock   lease resource of that queue
package writebehind
