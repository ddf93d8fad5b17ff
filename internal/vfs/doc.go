// Package vfs provides the worker's virtual file store: a writable in-memory
// overlay on top of a read-only, remote-backed layer.
//
// # Layering
//
// Reads check the overlay first, then the remote layer. A path present in the
// overlay always shadows the same path in the remote layer. A miss on both
// layers is a hard NotFound; the store never fetches on a read miss. Fetch
// policy (what to request, how much surrounding context) belongs to the
// fetch package, not to low-level reads.
//
// # Concurrency
//
// Both layers use sync.Map for fine-grained concurrent access: the fetcher
// populates the remote layer while compile attempts read from it, and keys
// are independent once written. The remote layer's expensive initial mirror
// is guarded by a one-shot Gate so that concurrent compile attempts wait on
// a single initialization instead of polling or duplicating it.
package vfs
