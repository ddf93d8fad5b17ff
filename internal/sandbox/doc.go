// Package sandbox defines the contract between the worker and the external
// execution host that evaluates fetched code.
//
// The host itself is a collaborator, not implemented here. What this package
// pins down is the capability surface the host is given: the registry of
// already-installed plugins and presets, and an explicit ModuleProvider for
// load-on-demand, so the set of loadable names is visible and testable
// rather than hidden behind an ambient global hook.
package sandbox
