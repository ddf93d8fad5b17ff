package compile_flow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/kiln/internal/app"
	"github.com/vk/kiln/internal/config"
	"github.com/vk/kiln/internal/engine"
	"github.com/vk/kiln/internal/sandbox"
)

// scriptedHost evaluates every module to a marker value.
type scriptedHost struct{}

func (scriptedHost) Evaluate(ctx context.Context, path string, registry sandbox.Registry, provider sandbox.ModuleProvider) (any, error) {
	return "module:" + path, nil
}

// scriptedTransformer runs a per-call script and counts invocations.
type scriptedTransformer struct {
	mu       sync.Mutex
	calls    int
	behavior func(call int, code string, opts engine.Options) (*engine.Result, error)
}

func (f *scriptedTransformer) Transform(ctx context.Context, code string, opts engine.Options) (*engine.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	behavior := f.behavior
	f.mu.Unlock()

	if behavior == nil {
		return &engine.Result{Code: "transformed:" + code}, nil
	}
	return behavior(call, code, opts)
}

func (f *scriptedTransformer) Reset() {}

func (f *scriptedTransformer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// registryServer serves package artifacts by URL path and counts hits.
type registryServer struct {
	mu    sync.Mutex
	files map[string]string
	hits  map[string]int
}

func (r *registryServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.hits[req.URL.Path]++
	content, ok := r.files[req.URL.Path]
	r.mu.Unlock()
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Write([]byte(content))
}

func (r *registryServer) addPackage(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files["/"+name+"/package.json"] = `{"main": "index.js"}`
	r.files["/"+name+"/index.js"] = "module.exports = {};"
}

func (r *registryServer) hitCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

// newWorker wires a complete worker against an in-process registry, with the
// two remote services faked out.
func newWorker(t *testing.T, extraHCL string, transformer *scriptedTransformer, packages ...string) (*app.App, *registryServer) {
	t.Helper()

	registry := &registryServer{files: make(map[string]string), hits: make(map[string]int)}
	for _, name := range packages {
		registry.addPackage(name)
	}
	ts := httptest.NewServer(registry)
	t.Cleanup(ts.Close)

	src := "registry_url = \"" + ts.URL + "\"\nlog_level = \"error\"\n" + extraHCL
	cfg, err := config.LoadBytes([]byte(src), "worker.hcl")
	require.NoError(t, err)

	worker := app.New(io.Discard, cfg, app.Options{Host: scriptedHost{}, Transformer: transformer})
	t.Cleanup(func() { worker.Close(context.Background()) })
	return worker, registry
}
