// Package modname holds the pure string conventions for plugin and preset
// names: scoped vs unscoped spellings, version suffixes, and package roots.
// It owns no I/O so both the resolver and the fetcher can share one set of
// rules.
package modname

import "strings"

// MetadataFile is the per-package metadata artifact confirmed during
// resolution and consulted for the entry file.
const MetadataFile = "package.json"

// DefaultEntryFile is used when package metadata declares no entry point.
const DefaultEntryFile = "index.js"

// IsScoped reports whether a name uses the @scope/name spelling.
func IsScoped(name string) bool {
	return strings.HasPrefix(name, "@")
}

// Root reduces a name to its package root: deep sub-paths are stripped, and
// scoped names keep their scope segment. "scope/pkg/sub" becomes "scope/pkg"
// only when scoped; a plain "pkg/sub" reduces to "pkg".
func Root(name string) string {
	parts := strings.Split(name, "/")
	if IsScoped(name) {
		if len(parts) >= 2 {
			return parts[0] + "/" + stripVersion(parts[1])
		}
		return name
	}
	return stripVersion(parts[0])
}

// Normalize collapses the distribution-convention aliases of one logical
// name to a single canonical key: the scope prefix and any pinned version
// suffix are dropped. "@kiln/plugin-env@1.2.0" and "plugin-env" share the
// key "plugin-env".
func Normalize(name string) string {
	if IsScoped(name) {
		if idx := strings.Index(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
	}
	parts := strings.Split(name, "/")
	parts[0] = stripVersion(parts[0])
	return strings.Join(parts, "/")
}

// stripVersion removes a trailing @version pin from a single path segment.
func stripVersion(segment string) string {
	if idx := strings.LastIndex(segment, "@"); idx > 0 {
		return segment[:idx]
	}
	return segment
}
