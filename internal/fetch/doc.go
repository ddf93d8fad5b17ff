// Package fetch downloads package artifacts from the remote registry into
// the virtual file store.
//
// The fetcher is the only component allowed to populate the store's
// remote-backed layer. EnsurePath guarantees a single artifact is present
// (plus, best effort, its package metadata sibling), and RecoverFromFailure
// turns a "missing module" failure message into a targeted fetch. Fetches
// are idempotent per path until the store is reset.
package fetch
