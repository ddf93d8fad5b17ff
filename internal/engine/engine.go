// Package engine defines the contract with the external transform engine.
// The engine's semantics are a collaborator capability; the worker only
// depends on this surface.
package engine

import "context"

// DependencyType classifies how a dependency was discovered in the source.
type DependencyType string

const (
	// DependencyDirect is a plain import/require in the source.
	DependencyDirect DependencyType = "direct"
	// DependencyDynamic is a load discovered through macro expansion or an
	// equivalent computed form.
	DependencyDynamic DependencyType = "dynamic"
)

// Dependency is one discovered dependency of a compiled file.
type Dependency struct {
	Path string         `json:"path"`
	Type DependencyType `json:"type"`
}

// Metadata is the machine-readable part of a transform result the worker
// extracts dependencies from.
type Metadata struct {
	Dependencies []Dependency
}

// Result is a successful transform.
type Result struct {
	Code     string
	Metadata Metadata
}

// Entry is one plugin or preset handed to the engine: the evaluated module
// value plus any caller-supplied options.
type Entry struct {
	Name    string
	Value   any
	Options map[string]any
}

// Options is the merged configuration for one transform invocation.
type Options struct {
	SourcePath string
	Version    int
	Plugins    []Entry
	Presets    []Entry
}

// Transformer is the transform primitive. Reset drops any compilation
// memoization the engine keeps; the module cache calls it whenever cached
// modules are invalidated.
type Transformer interface {
	Transform(ctx context.Context, code string, opts Options) (*Result, error)
	Reset()
}
