package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/kiln/internal/compiler"
	"github.com/vk/kiln/internal/config"
	"github.com/vk/kiln/internal/engine"
	"github.com/vk/kiln/internal/fetch"
	"github.com/vk/kiln/internal/modcache"
	"github.com/vk/kiln/internal/resolve"
	"github.com/vk/kiln/internal/sandbox"
	"github.com/vk/kiln/internal/vfs"
)

// Options carries collaborator overrides, primarily for testing. Nil fields
// fall back to the remote clients configured in the worker config.
type Options struct {
	Host        sandbox.Host
	Transformer engine.Transformer
}

// App encapsulates the worker's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *config.Model

	store    *vfs.Store
	fetcher  *fetch.Fetcher
	cache    *modcache.Cache
	compiler *compiler.Compiler

	httpServer *http.Server
	closers    []io.Closer
}

// New is the constructor for the worker. It returns a fully initialized App
// with its own isolated logger, store and caches. A missing collaborator
// endpoint is a fatal startup error and panics; the entrypoint recovers and
// exits cleanly.
func New(outW io.Writer, cfg *config.Model, opts Options) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	store := vfs.New()
	fetcher := fetch.New(store, cfg.RegistryURL, cfg.PackagesRoot)
	resolver := resolve.New(fetcher, cfg.Scope)
	provider := sandbox.NewStoreProvider(store, fetcher)

	var cache *modcache.Cache
	a := &App{outW: outW, logger: logger, cfg: cfg, store: store, fetcher: fetcher}

	host := opts.Host
	if host == nil {
		if cfg.HostURL == "" {
			panic(fmt.Errorf("host_url is required when no sandbox host is provided"))
		}
		remoteHost := sandbox.NewRemoteHost(cfg.HostURL, func() []string {
			return cache.Names()
		})
		a.closers = append(a.closers, remoteHost)
		host = remoteHost
	}

	transformer := opts.Transformer
	if transformer == nil {
		if cfg.EngineURL == "" {
			panic(fmt.Errorf("engine_url is required when no transform engine is provided"))
		}
		remoteEngine := engine.NewRemote(cfg.EngineURL)
		a.closers = append(a.closers, remoteEngine)
		transformer = remoteEngine
	}

	cache = modcache.New(resolver, fetcher, host, provider, cfg.MaxRecoveryCycles)
	a.cache = cache
	a.compiler = compiler.New(cfg, store, fetcher, cache, transformer, a.mirrorFunc())
	a.closers = append(a.closers, fetcher)

	logger.Debug("Worker components wired.",
		"registry_url", cfg.RegistryURL,
		"packages_root", cfg.PackagesRoot,
		"scope", cfg.Scope)
	return a
}

// SetOutput redirects where RunOnce writes its JSON response. Logs keep the
// writer given to New.
func (a *App) SetOutput(w io.Writer) {
	a.outW = w
}

// Compiler returns the wired compile orchestrator. This is primarily for
// testing and the one-shot CLI path.
func (a *App) Compiler() *compiler.Compiler {
	return a.compiler
}

// Close releases the HTTP clients and stops the healthcheck server.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.closeHealthcheckServer(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
