package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vk/kiln/internal/config"
	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/engine"
	"github.com/vk/kiln/internal/fetch"
	"github.com/vk/kiln/internal/modcache"
	"github.com/vk/kiln/internal/resolve"
	"github.com/vk/kiln/internal/sandbox"
	"github.com/vk/kiln/internal/vfs"
)

// Compiler coordinates the store, fetcher, module cache and transform engine
// for one worker. It owns no persistent state beyond the caches it
// coordinates and the fingerprint of the last active configuration.
type Compiler struct {
	cfg         *config.Model
	store       *vfs.Store
	fetcher     *fetch.Fetcher
	cache       *modcache.Cache
	transformer engine.Transformer

	// mirror populates the store's remote layer; it runs at most once per
	// store, behind the store's gate. Nil means the remote layer starts
	// empty.
	mirror func(context.Context) error

	mu              sync.Mutex
	lastFingerprint uint64
}

// New wires a compiler. The transformer's memoization is hooked into the
// cache's reset lifecycle so the two can never disagree about which modules
// exist.
func New(cfg *config.Model, store *vfs.Store, fetcher *fetch.Fetcher, cache *modcache.Cache, transformer engine.Transformer, mirror func(context.Context) error) *Compiler {
	cache.AddResetHook(transformer.Reset)
	return &Compiler{
		cfg:         cfg,
		store:       store,
		fetcher:     fetcher,
		cache:       cache,
		transformer: transformer,
		mirror:      mirror,
	}
}

// Cache exposes the module cache, primarily for preloading builtins.
func (c *Compiler) Cache() *modcache.Cache {
	return c.cache
}

// Compile runs one request through the resolve/install/transform cycle,
// fetching and retrying around missing artifacts until the compile converges
// or the recovery bound is hit.
func (c *Compiler) Compile(ctx context.Context, req *Request) (*Response, error) {
	logger := ctxlog.FromContext(ctx).With("source_path", req.SourcePath, "context_id", req.ContextID)
	ctx = ctxlog.WithLogger(ctx, logger)

	if req.EngineVersion <= 0 {
		return nil, fmt.Errorf("engineVersion is required and must be positive, got %d", req.EngineVersion)
	}

	// The remote layer mirrors an entire project and is expensive, so it is
	// initialized lazily here, on first need, behind the one-shot gate.
	if err := c.ensureStoreReady(ctx); err != nil {
		return nil, fmt.Errorf("store initialization failed: %w", err)
	}

	resolved := c.resolveConfig(req)
	c.checkFingerprint(ctx, req.EngineVersion, resolved)

	waitedForStore := false
	for cycle := 0; ; {
		if err := c.installAll(ctx, resolved, req.EngineVersion); err != nil {
			return nil, err
		}

		res, err := c.transform(ctx, req, resolved)
		if err == nil {
			return &Response{
				Code:         res.Code,
				Dependencies: c.augmentDependencies(req.EngineVersion, res.Metadata.Dependencies),
			}, nil
		}

		var notReady *engine.NotReadyError
		if errors.As(err, &notReady) {
			if waitedForStore {
				return nil, fmt.Errorf("transform engine still reports %w after store initialization settled", err)
			}
			waitedForStore = true
			logger.Debug("Transform hit an uninitialized store, waiting on the gate.")
			if gateErr := c.store.Gate().Wait(ctx); gateErr != nil {
				return nil, gateErr
			}
			continue // does not consume a recovery cycle
		}

		cycle++
		if cycle >= c.cfg.MaxRecoveryCycles {
			if c.isRecoverable(err) {
				return nil, fmt.Errorf("dependency resolution did not converge for %q after %d recovery cycles", req.SourcePath, cycle)
			}
			return nil, c.enrich(req, err)
		}

		if recoverErr := c.recover(ctx, err); recoverErr != nil {
			return nil, c.enrich(req, recoverErr)
		}

		logger.Info("Recovered a missing artifact, retrying compile.", "cycle", cycle)
		c.cache.Reset()
	}
}

// ensureStoreReady settles the remote layer's gate, running the project
// mirror at most once per store.
func (c *Compiler) ensureStoreReady(ctx context.Context) error {
	mirror := c.mirror
	if mirror == nil {
		mirror = func(context.Context) error { return nil }
	}
	return c.store.Gate().Init(ctx, mirror)
}

// resolvedConfig is the effective plugin/preset set for one attempt.
type resolvedConfig struct {
	Plugins []PluginRef
	Presets []PluginRef
}

// resolveConfig merges the caller's configuration with the worker's builtin
// capability plugins. Files under the external-library pattern get the
// conservative configuration from the worker config instead of the caller's:
// externally-authored code needs different transform guarantees.
func (c *Compiler) resolveConfig(req *Request) resolvedConfig {
	var rc resolvedConfig

	if c.cfg.IsExternalPath(req.SourcePath) {
		ext := c.cfg.ExternalLibraries
		for _, p := range ext.Plugins {
			rc.Plugins = append(rc.Plugins, PluginRef{Name: p.Name, Options: p.Options})
		}
		for _, name := range ext.Presets {
			rc.Presets = append(rc.Presets, PluginRef{Name: name})
		}
	} else {
		rc.Plugins = append(rc.Plugins, req.Config.Plugins...)
		rc.Presets = append(rc.Presets, req.Config.Presets...)
	}

	// Builtins are appended in both branches: instrumentation must run over
	// external code too.
	for _, b := range c.cfg.BuiltinPlugins {
		rc.Plugins = append(rc.Plugins, PluginRef{Name: b.Name, Options: b.Options})
	}
	return rc
}

// checkFingerprint resets both caches when the active configuration changed
// since the previous compile: cached modules may have been evaluated against
// stale configuration.
func (c *Compiler) checkFingerprint(ctx context.Context, engineVersion int, rc resolvedConfig) {
	fp := fingerprint(engineVersion, rc)

	c.mu.Lock()
	changed := c.lastFingerprint != 0 && c.lastFingerprint != fp
	c.lastFingerprint = fp
	c.mu.Unlock()

	if changed {
		ctxlog.FromContext(ctx).Info("Active configuration changed, resetting module cache.")
		c.cache.Reset()
	}
}

func fingerprint(engineVersion int, rc resolvedConfig) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "v%d;", engineVersion)
	enc := json.NewEncoder(h)
	enc.Encode(rc.Plugins)
	enc.Encode(rc.Presets)
	return h.Sum64()
}

// installAll fans out installs for every plugin, then every preset. Within a
// set there is no ordering dependency, so installs run concurrently and the
// first failure aborts the join. Partial installs are not rolled back; their
// cache entries are harmless because installs are idempotent.
func (c *Compiler) installAll(ctx context.Context, rc resolvedConfig, engineVersion int) error {
	if err := c.installSet(ctx, rc.Plugins, resolve.KindPlugin, engineVersion); err != nil {
		return err
	}
	return c.installSet(ctx, rc.Presets, resolve.KindPreset, engineVersion)
}

func (c *Compiler) installSet(ctx context.Context, refs []PluginRef, kind resolve.Kind, engineVersion int) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		g.Go(func() error {
			if _, err := c.cache.Install(gctx, ref.Name, kind, engineVersion); err != nil {
				return fmt.Errorf("could not install %s %q: %w", kind, ref.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// transform assembles the engine options from the cache and invokes the
// transform primitive.
func (c *Compiler) transform(ctx context.Context, req *Request, rc resolvedConfig) (*engine.Result, error) {
	opts := engine.Options{
		SourcePath: req.SourcePath,
		Version:    req.EngineVersion,
		Plugins:    c.entries(rc.Plugins),
		Presets:    c.entries(rc.Presets),
	}
	return c.transformer.Transform(ctx, req.SourceCode, opts)
}

func (c *Compiler) entries(refs []PluginRef) []engine.Entry {
	out := make([]engine.Entry, 0, len(refs))
	for _, ref := range refs {
		value, _ := c.cache.Probe(ref.Name)
		out = append(out, engine.Entry{Name: ref.Name, Value: value, Options: ref.Options})
	}
	return out
}

// augmentDependencies appends the fixed runtime-helper paths for newer
// engine generations; their own metadata omits them.
func (c *Compiler) augmentDependencies(engineVersion int, deps []engine.Dependency) []engine.Dependency {
	out := make([]engine.Dependency, 0, len(deps)+len(c.cfg.RuntimeHelpers))
	seen := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		out = append(out, d)
		seen[d.Path] = struct{}{}
	}
	if engineVersion >= 7 {
		for _, helper := range c.cfg.RuntimeHelpers {
			if _, dup := seen[helper]; dup {
				continue
			}
			out = append(out, engine.Dependency{Path: helper, Type: engine.DependencyDirect})
		}
	}
	return out
}

// recover routes a transform failure through the fetcher. Structured
// missing-module errors carry the path; everything else goes through the
// text-pattern fallback, whose unrecoverable result means the original
// failure was not dependency-related and must surface unchanged.
func (c *Compiler) recover(ctx context.Context, transformErr error) error {
	var missing *sandbox.MissingModuleError
	if errors.As(transformErr, &missing) {
		if err := c.fetcher.RecoverPath(ctx, missing.Ref); err != nil {
			return err
		}
		return nil
	}
	if err := c.fetcher.RecoverFromFailure(ctx, transformErr.Error()); err != nil {
		var unrecoverable *fetch.UnrecoverableError
		if errors.As(err, &unrecoverable) {
			return transformErr
		}
		return err
	}
	return nil
}

func (c *Compiler) isRecoverable(err error) bool {
	var missing *sandbox.MissingModuleError
	if errors.As(err, &missing) {
		return true
	}
	_, ok := fetch.ParseMissingRef(err.Error())
	return ok
}

// enrich attaches a source excerpt to failures that carry a position.
func (c *Compiler) enrich(req *Request, err error) error {
	var syntaxErr *engine.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	frame := excerpt(req.SourceCode, syntaxErr.Line, syntaxErr.Column)
	if frame == "" {
		return err
	}
	return fmt.Errorf("%w\n%s", err, frame)
}
