// Package compiler orchestrates one compile request end to end: resolve the
// effective configuration, install every named plugin and preset, invoke the
// transform engine, and extract the discovered dependency list.
//
// # Retry loop
//
// The dependency graph of a file is unknown in advance; it is discovered
// incrementally from failure signals. A transform failure that names a
// missing artifact triggers a fetch, a full cache reset, and a retry of the
// whole attempt from dependency installation. The number of recovery cycles
// is bounded; a store that is still initializing is waited on once via its
// gate and does not consume a cycle. Every other failure is terminal and
// returned verbatim, with a source excerpt attached when the engine reported
// a position.
package compiler
