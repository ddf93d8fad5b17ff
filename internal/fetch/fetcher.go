package fetch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/modname"
	"github.com/vk/kiln/internal/vfs"
)

// Fetcher downloads registry artifacts into the store's remote layer. It is
// idempotent: a path fetched once is never requested again until Reset.
type Fetcher struct {
	store        *vfs.Store
	client       *resty.Client
	packagesRoot string

	fetched sync.Map // Key: store path string, Value: struct{}
}

// New creates a fetcher that resolves artifacts against the registry at
// baseURL and writes them under packagesRoot in the store's remote layer.
func New(store *vfs.Store, baseURL, packagesRoot string) *Fetcher {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(2)

	return &Fetcher{
		store:        store,
		client:       client,
		packagesRoot: packagesRoot,
	}
}

// Close releases the underlying HTTP client.
func (f *Fetcher) Close() error {
	return f.client.Close()
}

// Reset forgets which paths have been fetched. Call together with a store
// reset; otherwise the idempotence set and the store drift apart.
func (f *Fetcher) Reset() {
	f.fetched.Clear()
}

// EnsurePath guarantees that path is readable from the store, downloading it
// from the registry when absent. On success it also tries, best effort, to
// bring the owning package's metadata file alongside. Fails with FetchError
// when the registry has no such artifact.
func (f *Fetcher) EnsurePath(ctx context.Context, path string) error {
	if _, done := f.fetched.Load(path); done {
		return nil
	}
	if f.store.Exists(path) {
		f.fetched.Store(path, struct{}{})
		return nil
	}

	if err := f.download(ctx, path); err != nil {
		return err
	}
	f.fetched.Store(path, struct{}{})

	// Best effort: the package metadata sibling is cheap to grab now and
	// saves a recovery cycle when the evaluator asks for it later.
	if meta := f.metadataPathFor(path); meta != "" && meta != path {
		if err := f.EnsurePath(ctx, meta); err != nil {
			ctxlog.FromContext(ctx).Debug("Metadata sibling not available, continuing.", "path", meta, "error", err)
		}
	}
	return nil
}

// EnsurePackage guarantees a package's metadata file and entry file are in
// the store. The entry file is read from the metadata's "main" field,
// defaulting to index.js.
func (f *Fetcher) EnsurePackage(ctx context.Context, name string) error {
	root := modname.Root(name)
	metaPath := f.packagePath(root, modname.MetadataFile)
	if err := f.EnsurePath(ctx, metaPath); err != nil {
		return err
	}

	entry := modname.DefaultEntryFile
	if raw, err := f.store.Read(metaPath); err == nil {
		var meta struct {
			Main string `json:"main"`
		}
		if json.Unmarshal(raw, &meta) == nil && meta.Main != "" {
			entry = strings.TrimPrefix(meta.Main, "./")
		}
	}
	return f.EnsurePath(ctx, f.packagePath(root, entry))
}

// EntryPath returns the store path of a package's entry file, consulting the
// already-fetched metadata. EnsurePackage must have succeeded first.
func (f *Fetcher) EntryPath(name string) string {
	root := modname.Root(name)
	entry := modname.DefaultEntryFile
	if raw, err := f.store.Read(f.packagePath(root, modname.MetadataFile)); err == nil {
		var meta struct {
			Main string `json:"main"`
		}
		if json.Unmarshal(raw, &meta) == nil && meta.Main != "" {
			entry = strings.TrimPrefix(meta.Main, "./")
		}
	}
	return f.packagePath(root, entry)
}

// PackagesRoot returns the store directory that package artifacts live under.
func (f *Fetcher) PackagesRoot() string {
	return f.packagesRoot
}

// MetadataPath returns the store path of a package's metadata file.
func (f *Fetcher) MetadataPath(name string) string {
	return f.packagePath(modname.Root(name), modname.MetadataFile)
}

func (f *Fetcher) packagePath(root, file string) string {
	return f.packagesRoot + "/" + root + "/" + file
}

// metadataPathFor maps an artifact path to its package metadata sibling, or
// "" when the path does not live under the packages root.
func (f *Fetcher) metadataPathFor(path string) string {
	rel, ok := strings.CutPrefix(path, f.packagesRoot+"/")
	if !ok {
		return ""
	}
	return f.packagePath(modname.Root(rel), modname.MetadataFile)
}

// download performs the registry request and writes the artifact into the
// remote layer. Registry URLs mirror store paths with the packages root
// stripped, so project files and package files share one endpoint shape.
func (f *Fetcher) download(ctx context.Context, path string) error {
	urlPath := strings.TrimPrefix(path, f.packagesRoot+"/")
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Fetching artifact from registry.", "path", path, "url_path", urlPath)

	res, err := f.client.R().SetContext(ctx).Get("/" + urlPath)
	if err != nil {
		return &FetchError{Path: path, Err: err}
	}
	if res.IsError() {
		return &FetchError{Path: path, Status: res.StatusCode()}
	}

	f.store.WriteRemote(path, res.Bytes())
	logger.Debug("Artifact fetched.", "path", path, "bytes", len(res.Bytes()))
	return nil
}
