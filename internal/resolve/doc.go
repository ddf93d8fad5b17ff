// Package resolve maps logical plugin and preset names to canonical,
// fetchable package names.
//
// The install-time name a user writes and the canonical distribution name
// frequently diverge by convention, so resolution is a two-step fallback:
// the literal name is probed first, then the prefixing convention for the
// target engine generation. Guessing wrong must not fail silently: both
// candidates are surfaced together when resolution exhausts.
package resolve
