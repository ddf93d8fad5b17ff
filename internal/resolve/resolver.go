package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/fetch"
	"github.com/vk/kiln/internal/modname"
)

// Kind distinguishes plugins from presets; the two use different canonical
// name prefixes.
type Kind int

const (
	KindPlugin Kind = iota
	KindPreset
)

func (k Kind) String() string {
	if k == KindPreset {
		return "preset"
	}
	return "plugin"
}

// Prefix returns the unscoped canonical prefix for the kind.
func (k Kind) Prefix() string {
	return k.String() + "-"
}

// NotFoundError reports that neither the literal nor the conventionally
// prefixed spelling of a name exists remotely. Both candidates are named so
// the caller can see exactly what was tried.
type NotFoundError struct {
	Name       string
	Kind       Kind
	Candidates []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not resolve %s %q: no registry package for %s",
		e.Kind, e.Name, strings.Join(quoted(e.Candidates), " or "))
}

func quoted(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}

// Resolver turns logical names into canonical package names by probing the
// registry through the fetcher.
type Resolver struct {
	fetcher *fetch.Fetcher
	scope   string
}

// New creates a resolver. scope is the registry namespace canonical names
// live under for newer engine generations, e.g. "@kiln".
func New(fetcher *fetch.Fetcher, scope string) *Resolver {
	return &Resolver{fetcher: fetcher, scope: scope}
}

// Resolve maps a logical name to a canonical package name. The literal name
// is tried first by probing its package root's metadata; on failure the
// generation-appropriate prefixed convention is probed; when both fail, the
// error names both candidates.
func (r *Resolver) Resolve(ctx context.Context, name string, kind Kind, engineMajor int) (string, error) {
	logger := ctxlog.FromContext(ctx)

	root := modname.Root(name)
	if err := r.fetcher.EnsurePackage(ctx, root); err == nil {
		logger.Debug("Resolved literal name.", "name", name, "root", root)
		return name, nil
	}

	candidate := r.Conventional(name, kind, engineMajor)
	if candidate == name || candidate == root {
		return "", &NotFoundError{Name: name, Kind: kind, Candidates: []string{root}}
	}

	if err := r.fetcher.EnsurePackage(ctx, candidate); err != nil {
		return "", &NotFoundError{Name: name, Kind: kind, Candidates: []string{root, candidate}}
	}
	logger.Debug("Resolved via prefix convention.", "name", name, "canonical", candidate)
	return candidate, nil
}

// Conventional derives the canonical spelling of a name for an engine
// generation: older generations use an unscoped "plugin-"/"preset-" prefix,
// newer generations the same prefix under the registry scope.
func (r *Resolver) Conventional(name string, kind Kind, engineMajor int) string {
	base := modname.Normalize(modname.Root(name))
	base = strings.TrimPrefix(base, kind.Prefix())

	if engineMajor >= 7 {
		return r.scope + "/" + kind.Prefix() + base
	}
	return kind.Prefix() + base
}
