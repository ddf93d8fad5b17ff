package sandbox

import (
	"context"
	"errors"
	"strings"

	"github.com/vk/kiln/internal/fetch"
	"github.com/vk/kiln/internal/modname"
	"github.com/vk/kiln/internal/vfs"
)

// StoreProvider is the worker's ModuleProvider: references are served from
// the virtual file store, and misses are routed through the fetcher before
// being reported absent. This keeps every load a host performs inside the
// fetcher contract.
type StoreProvider struct {
	store   *vfs.Store
	fetcher *fetch.Fetcher
}

// NewStoreProvider wires a provider over the store and fetcher.
func NewStoreProvider(store *vfs.Store, fetcher *fetch.Fetcher) *StoreProvider {
	return &StoreProvider{store: store, fetcher: fetcher}
}

// Resolve serves a module reference. Bare package names resolve to the
// package's entry file; store paths are read directly. A reference the
// fetcher cannot satisfy either is reported as absent, not as an error.
func (p *StoreProvider) Resolve(ctx context.Context, ref string) ([]byte, bool, error) {
	path := trimStorePathRef(ref)
	if !isStorePathRef(ref) {
		if err := p.fetcher.EnsurePackage(ctx, modname.Root(ref)); err != nil {
			var fetchErr *fetch.FetchError
			if errors.As(err, &fetchErr) {
				return nil, false, nil
			}
			return nil, false, err
		}
		path = p.fetcher.EntryPath(ref)
	}

	content, err := p.store.Read(path)
	if err != nil {
		if recoverErr := p.fetcher.RecoverPath(ctx, ref); recoverErr != nil {
			return nil, false, nil
		}
		if content, err = p.store.Read(path); err != nil {
			return nil, false, nil
		}
	}
	return content, true, nil
}

func trimStorePathRef(ref string) string {
	ref = strings.TrimPrefix(ref, "./")
	return strings.TrimPrefix(ref, "/")
}

func isStorePathRef(ref string) bool {
	for _, prefix := range []string{"./", "../", "/"} {
		if len(ref) >= len(prefix) && ref[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
