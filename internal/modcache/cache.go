package modcache

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/fetch"
	"github.com/vk/kiln/internal/modname"
	"github.com/vk/kiln/internal/resolve"
	"github.com/vk/kiln/internal/sandbox"
)

// Installed is one evaluated module held by the cache.
type Installed struct {
	Name      string // the spelling the install was requested under
	Canonical string // the resolved canonical package name
	Kind      resolve.Kind
	Value     any
}

// flight tracks a single in-progress install that concurrent callers for
// the same key wait on.
type flight struct {
	done chan struct{}
	val  any
	err  error
}

// Cache owns evaluated module values. It references store paths through the
// fetcher but never owns file bytes.
type Cache struct {
	resolver *resolve.Resolver
	fetcher  *fetch.Fetcher
	host     sandbox.Host
	provider sandbox.ModuleProvider

	maxRecoveryCycles int

	mu       sync.Mutex
	modules  map[string]*Installed // Key: normalized canonical key
	aliases  map[string]string     // Key: raw spelling, Value: normalized key
	inflight map[string]*flight    // Key: normalized canonical key

	resetHooks []func()
}

// New creates an empty cache. maxRecoveryCycles bounds the fetch-and-retry
// loop per install; values below 1 are clamped to 1.
func New(resolver *resolve.Resolver, fetcher *fetch.Fetcher, host sandbox.Host, provider sandbox.ModuleProvider, maxRecoveryCycles int) *Cache {
	if maxRecoveryCycles < 1 {
		maxRecoveryCycles = 1
	}
	return &Cache{
		resolver:          resolver,
		fetcher:           fetcher,
		host:              host,
		provider:          provider,
		maxRecoveryCycles: maxRecoveryCycles,
		modules:           make(map[string]*Installed),
		aliases:           make(map[string]string),
		inflight:          make(map[string]*flight),
	}
}

// AddResetHook registers a function invoked on every Reset, used to clear
// engine-level compilation memoization together with the module cache.
func (c *Cache) AddResetHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetHooks = append(c.resetHooks, fn)
}

// Lookup implements sandbox.Registry: modules under evaluation may reference
// previously installed ones by any known spelling.
func (c *Cache) Lookup(name string) (any, bool) {
	return c.Probe(name)
}

// Probe returns the cached value for name without side effects, checking the
// raw spelling, the alias table, and the normalized form.
func (c *Cache) Probe(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mod, ok := c.probeLocked(name); ok {
		return mod.Value, true
	}
	return nil, false
}

func (c *Cache) probeLocked(name string) (*Installed, bool) {
	if key, ok := c.aliases[name]; ok {
		if mod, ok := c.modules[key]; ok {
			return mod, true
		}
	}
	if mod, ok := c.modules[modname.Normalize(name)]; ok {
		return mod, true
	}
	return nil, false
}

// Preload registers an already-evaluated value under name, bypassing fetch
// and evaluation. Used for the builtin capability plugins compiled into the
// worker.
func (c *Cache) Preload(name string, kind resolve.Kind, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitLocked(name, name, kind, value)
}

// Reset drops every cached module and alias and fires the reset hooks.
// In-flight installs are unaffected; they re-commit after the reset, which
// is safe because installs are idempotent.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.modules = make(map[string]*Installed)
	c.aliases = make(map[string]string)
	hooks := make([]func(), len(c.resetHooks))
	copy(hooks, c.resetHooks)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Names returns every spelling the cache currently answers to, sorted.
func (c *Cache) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.aliases))
	for name := range c.aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many distinct modules are installed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.modules)
}

// Install returns the evaluated module for name, fetching and evaluating it
// on first use. Repeated and concurrent installs of the same logical module
// perform exactly one evaluation.
func (c *Cache) Install(ctx context.Context, name string, kind resolve.Kind, engineMajor int) (any, error) {
	key := modname.Normalize(name)

	c.mu.Lock()
	if mod, ok := c.probeLocked(name); ok {
		// Record this spelling so future symmetric lookups stay cheap.
		c.aliases[name] = modname.Normalize(mod.Canonical)
		c.mu.Unlock()
		return mod.Value, nil
	}
	if fl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-fl.done:
			return fl.val, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &flight{done: make(chan struct{})}
	c.inflight[key] = fl
	c.mu.Unlock()

	val, err := c.install(ctx, name, kind, engineMajor)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	fl.val, fl.err = val, err
	close(fl.done)

	return val, err
}

// install performs resolution, fetch and evaluation, retrying through
// bounded recovery cycles when evaluation stops on a missing file.
func (c *Cache) install(ctx context.Context, name string, kind resolve.Kind, engineMajor int) (any, error) {
	logger := ctxlog.FromContext(ctx)

	for cycle := 0; ; cycle++ {
		canonical, err := c.resolver.Resolve(ctx, name, kind, engineMajor)
		if err != nil {
			return nil, err
		}

		entry := c.fetcher.EntryPath(canonical)
		logger.Debug("Evaluating module.", "name", name, "canonical", canonical, "entry", entry, "cycle", cycle)

		value, evalErr := c.host.Evaluate(ctx, entry, c, c.provider)
		if evalErr == nil {
			if value == nil {
				return nil, &EvaluationError{Name: name}
			}
			c.mu.Lock()
			c.commitLocked(name, canonical, kind, value)
			c.mu.Unlock()
			return value, nil
		}

		if cycle+1 >= c.maxRecoveryCycles {
			if recoverable(evalErr) {
				return nil, &ConvergenceError{Name: name, Cycles: cycle + 1}
			}
			return nil, evalErr
		}

		if err := c.recover(ctx, evalErr); err != nil {
			return nil, err
		}

		// The missing artifact is in the store now, but modules evaluated
		// against its absence may be stale. Start over with a cold cache.
		logger.Info("Recovered missing artifact, resetting caches and retrying install.", "name", name, "cycle", cycle)
		c.Reset()
	}
}

// recover routes an evaluation failure through the fetcher: structured
// missing-module errors carry the reference directly, anything else falls
// back to text-pattern parsing. Failures without a module reference
// propagate unchanged.
func (c *Cache) recover(ctx context.Context, evalErr error) error {
	var missing *sandbox.MissingModuleError
	if errors.As(evalErr, &missing) {
		return c.fetcher.RecoverPath(ctx, missing.Ref)
	}
	if err := c.fetcher.RecoverFromFailure(ctx, evalErr.Error()); err != nil {
		var unrecoverable *fetch.UnrecoverableError
		if errors.As(err, &unrecoverable) {
			return evalErr
		}
		return err
	}
	return nil
}

// recoverable reports whether an evaluation failure names a missing module.
func recoverable(evalErr error) bool {
	var missing *sandbox.MissingModuleError
	if errors.As(evalErr, &missing) {
		return true
	}
	_, ok := fetch.ParseMissingRef(evalErr.Error())
	return ok
}

// commitLocked stores value under the canonical key and records both the
// requested and canonical spellings as aliases.
func (c *Cache) commitLocked(name, canonical string, kind resolve.Kind, value any) {
	key := modname.Normalize(canonical)
	c.modules[key] = &Installed{
		Name:      name,
		Canonical: canonical,
		Kind:      kind,
		Value:     value,
	}
	c.aliases[name] = key
	c.aliases[canonical] = key
}
