// Package lock provides a keyed operation serializer. Operations sharing a
// key run one at a time in the order they were submitted, while operations on
// different keys run concurrently. Keys need no declaration: they appear on
// first use and disappear once their queue drains.
//
// A failing operation only fails its own caller; the next operation queued on
// the same key still runs. Queued operations cannot be withdrawn, and calling
// WithLock for a key from inside an operation already holding that key
// deadlocks.
package lock
