// Package modcache installs plugin and preset modules: resolve the name,
// ensure the package is in the store, evaluate its entry file in the
// sandboxed host, and memoize the result.
//
// # Caching
//
// Evaluated values are stored once under a normalized canonical key; every
// raw spelling that reaches the cache (requested name, canonical name) is
// recorded in an alias table pointing at that key. Lookups under either
// spelling hit the same slot without re-evaluation. Concurrent installs of
// the same module deduplicate onto a single in-flight evaluation.
//
// # Recovery
//
// When evaluation fails on an absent file, reported either as a structured
// sandbox.MissingModuleError or detected by text pattern, the fetcher
// recovers the missing artifact, the cache and any registered engine
// memoization are reset, and the install restarts from resolution. The
// number of recovery cycles per install is bounded; exhaustion fails with a
// convergence error instead of recursing forever.
package modcache
