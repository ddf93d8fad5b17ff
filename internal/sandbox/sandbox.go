package sandbox

import (
	"context"
	"fmt"
)

// Registry is the read-only view of installed plugins and presets handed to
// a module under evaluation, so that new modules may reference previously
// installed ones.
type Registry interface {
	Lookup(name string) (any, bool)
}

// ModuleProvider is the explicit load-on-demand capability given to the
// host. Resolve returns the bytes for a module reference, or ok=false when
// the reference cannot be satisfied; an error means the provider tried and
// failed (e.g. a fetch failure), which is distinct from plain absence.
type ModuleProvider interface {
	Resolve(ctx context.Context, ref string) (content []byte, ok bool, err error)
}

// Host evaluates a file from the store as an executable module and returns
// its export value. Internal module requests are routed through the provider
// only; the host has no other way to load code.
type Host interface {
	Evaluate(ctx context.Context, path string, registry Registry, provider ModuleProvider) (any, error)
}

// MissingModuleError is the structured failure a host should return when
// evaluation stops on an absent file. Hosts that cannot produce it surface a
// bare message instead, which the fetcher's text-pattern fallback handles.
// The message deliberately matches that pattern so both channels converge.
type MissingModuleError struct {
	Ref string
}

func (e *MissingModuleError) Error() string {
	return fmt.Sprintf("cannot find module '%s'", e.Ref)
}
