package modcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/kiln/internal/fetch"
	"github.com/vk/kiln/internal/resolve"
	"github.com/vk/kiln/internal/sandbox"
	"github.com/vk/kiln/internal/vfs"
)

// fakeHost scripts evaluation outcomes per entry path and counts calls.
type fakeHost struct {
	mu       sync.Mutex
	calls    int
	behavior func(call int, path string) (any, error)
}

func (h *fakeHost) Evaluate(ctx context.Context, path string, registry sandbox.Registry, provider sandbox.ModuleProvider) (any, error) {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.mu.Unlock()
	return h.behavior(call, path)
}

func (h *fakeHost) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type testRig struct {
	cache *Cache
	host  *fakeHost
	store *vfs.Store
	files map[string]string
	mu    sync.Mutex
}

func (r *testRig) addFile(path, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = content
}

func newRig(t *testing.T, files map[string]string, maxCycles int) *testRig {
	t.Helper()
	rig := &testRig{files: make(map[string]string), host: &fakeHost{}}
	for k, v := range files {
		rig.files[k] = v
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rig.mu.Lock()
		content, ok := rig.files[req.URL.Path]
		rig.mu.Unlock()
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Write([]byte(content))
	}))
	t.Cleanup(ts.Close)

	rig.store = vfs.New()
	fetcher := fetch.New(rig.store, ts.URL, "node_modules")
	t.Cleanup(func() { fetcher.Close() })

	resolver := resolve.New(fetcher, "@kiln")
	provider := sandbox.NewStoreProvider(rig.store, fetcher)
	rig.cache = New(resolver, fetcher, rig.host, provider, maxCycles)
	return rig
}

func pkgFiles(name string) map[string]string {
	return map[string]string{
		"/" + name + "/package.json": `{"main": "index.js"}`,
		"/" + name + "/index.js":     "module.exports = {};",
	}
}

func TestInstall_EvaluatesOnceAndCaches(t *testing.T) {
	rig := newRig(t, pkgFiles("preset-env"), 5)
	rig.host.behavior = func(int, string) (any, error) { return "evaluated", nil }
	ctx := context.Background()

	first, err := rig.cache.Install(ctx, "preset-env", resolve.KindPreset, 7)
	require.NoError(t, err)
	second, err := rig.cache.Install(ctx, "preset-env", resolve.KindPreset, 7)
	require.NoError(t, err)

	assert.Equal(t, "evaluated", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, rig.host.callCount())
	assert.Equal(t, 1, rig.cache.Len())
}

func TestInstall_RegistersBothSpellings(t *testing.T) {
	rig := newRig(t, pkgFiles("plugin-my-plugin"), 5)
	rig.host.behavior = func(int, string) (any, error) { return "the-plugin", nil }

	_, err := rig.cache.Install(context.Background(), "my-plugin", resolve.KindPlugin, 6)
	require.NoError(t, err)

	requested, ok := rig.cache.Probe("my-plugin")
	require.True(t, ok)
	canonical, ok := rig.cache.Probe("plugin-my-plugin")
	require.True(t, ok)
	assert.Equal(t, requested, canonical)
	assert.Equal(t, 1, rig.host.callCount())
}

func TestInstall_ConcurrentCallsShareOneEvaluation(t *testing.T) {
	rig := newRig(t, pkgFiles("preset-env"), 5)
	rig.host.behavior = func(int, string) (any, error) { return "evaluated", nil }
	ctx := context.Background()

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rig.cache.Install(ctx, "preset-env", resolve.KindPreset, 7); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, rig.host.callCount())
}

func TestInstall_NilExportIsTerminal(t *testing.T) {
	rig := newRig(t, pkgFiles("preset-empty"), 5)
	rig.host.behavior = func(int, string) (any, error) { return nil, nil }

	_, err := rig.cache.Install(context.Background(), "preset-empty", resolve.KindPreset, 7)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "preset-empty", evalErr.Name)
}

func TestInstall_RecoversFromStructuredMissingModule(t *testing.T) {
	rig := newRig(t, pkgFiles("preset-env"), 5)
	// The dependency only appears in the registry after the first failure,
	// mimicking discovery from the failure itself.
	rig.host.behavior = func(call int, _ string) (any, error) {
		if call == 1 {
			for k, v := range pkgFiles("helper-lib") {
				rig.addFile(k, v)
			}
			return nil, &sandbox.MissingModuleError{Ref: "helper-lib"}
		}
		return "evaluated", nil
	}

	value, err := rig.cache.Install(context.Background(), "preset-env", resolve.KindPreset, 7)
	require.NoError(t, err)
	assert.Equal(t, "evaluated", value)
	assert.Equal(t, 2, rig.host.callCount())
	assert.True(t, rig.store.Exists("node_modules/helper-lib/index.js"))
}

func TestInstall_RecoversFromTextPatternFailure(t *testing.T) {
	rig := newRig(t, pkgFiles("preset-env"), 5)
	rig.host.behavior = func(call int, _ string) (any, error) {
		if call == 1 {
			for k, v := range pkgFiles("left-pad") {
				rig.addFile(k, v)
			}
			return nil, errors.New("Error: Cannot find module 'left-pad'")
		}
		return "evaluated", nil
	}

	_, err := rig.cache.Install(context.Background(), "preset-env", resolve.KindPreset, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, rig.host.callCount())
}

func TestInstall_RecoveryResetsCacheAndFiresHooks(t *testing.T) {
	rig := newRig(t, merge(pkgFiles("preset-a"), pkgFiles("preset-b")), 5)
	var resets atomic.Int32
	rig.cache.AddResetHook(func() { resets.Add(1) })

	rig.host.behavior = func(int, string) (any, error) { return "a", nil }
	_, err := rig.cache.Install(context.Background(), "preset-a", resolve.KindPreset, 7)
	require.NoError(t, err)

	var bCalls atomic.Int32
	rig.host.behavior = func(int, string) (any, error) {
		if bCalls.Add(1) == 1 {
			for k, v := range pkgFiles("missing-dep") {
				rig.addFile(k, v)
			}
			return nil, &sandbox.MissingModuleError{Ref: "missing-dep"}
		}
		// preset-a must have been evicted by the recovery reset before the
		// retry evaluation runs.
		if _, ok := rig.cache.Probe("preset-a"); ok {
			return nil, errors.New("cache not reset before retry")
		}
		return "b", nil
	}
	_, err = rig.cache.Install(context.Background(), "preset-b", resolve.KindPreset, 7)
	require.NoError(t, err)

	assert.Equal(t, int32(1), resets.Load())
	_, ok := rig.cache.Probe("preset-a")
	assert.False(t, ok, "recovery must drop previously installed modules")
}

func TestInstall_BoundedRecoveryCycles(t *testing.T) {
	rig := newRig(t, pkgFiles("preset-env"), 3)
	// Always report a missing module the registry can satisfy, but never
	// stop asking: the install must not loop forever.
	for k, v := range pkgFiles("bottomless") {
		rig.addFile(k, v)
	}
	rig.host.behavior = func(int, string) (any, error) {
		return nil, &sandbox.MissingModuleError{Ref: "bottomless"}
	}

	_, err := rig.cache.Install(context.Background(), "preset-env", resolve.KindPreset, 7)
	var convErr *ConvergenceError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, 3, convErr.Cycles)
	assert.Equal(t, 3, rig.host.callCount())
}

func TestInstall_UnrecoverableFailurePropagates(t *testing.T) {
	rig := newRig(t, pkgFiles("preset-env"), 5)
	boom := errors.New("SyntaxError: unexpected token")
	rig.host.behavior = func(int, string) (any, error) { return nil, boom }

	_, err := rig.cache.Install(context.Background(), "preset-env", resolve.KindPreset, 7)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rig.host.callCount())
}

func TestInstall_UnresolvableNameFails(t *testing.T) {
	rig := newRig(t, nil, 5)
	rig.host.behavior = func(int, string) (any, error) { return "x", nil }

	_, err := rig.cache.Install(context.Background(), "ghost", resolve.KindPlugin, 7)
	var notFound *resolve.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPreload_BypassesFetchAndEvaluation(t *testing.T) {
	rig := newRig(t, nil, 5)
	rig.cache.Preload("collect-dependencies", resolve.KindPlugin, "builtin")

	value, err := rig.cache.Install(context.Background(), "collect-dependencies", resolve.KindPlugin, 7)
	require.NoError(t, err)
	assert.Equal(t, "builtin", value)
	assert.Zero(t, rig.host.callCount())
}

func TestReset_ForcesReinstall(t *testing.T) {
	rig := newRig(t, pkgFiles("preset-env"), 5)
	rig.host.behavior = func(int, string) (any, error) { return "evaluated", nil }
	ctx := context.Background()

	_, err := rig.cache.Install(ctx, "preset-env", resolve.KindPreset, 7)
	require.NoError(t, err)
	rig.cache.Reset()
	_, err = rig.cache.Install(ctx, "preset-env", resolve.KindPreset, 7)
	require.NoError(t, err)

	assert.Equal(t, 2, rig.host.callCount())
}

func merge(ms ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
