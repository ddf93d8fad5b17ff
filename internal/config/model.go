package config

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/hcl/v2"
)

// Model is the worker configuration.
type Model struct {
	// RegistryURL is the base URL artifacts are fetched from. Required.
	RegistryURL string `hcl:"registry_url"`

	// EngineURL and HostURL locate the transform engine and sandbox host
	// services. Required to run the worker; tests inject fakes instead.
	EngineURL string `hcl:"engine_url,optional"`
	HostURL   string `hcl:"host_url,optional"`

	PackagesRoot string `hcl:"packages_root,optional"`
	Scope        string `hcl:"scope,optional"`

	LogLevel        string `hcl:"log_level,optional"`
	LogFormat       string `hcl:"log_format,optional"`
	HealthcheckPort int    `hcl:"healthcheck_port,optional"`

	// ControllerURL, when set, makes Run dial the controller and serve
	// compile events over the socket link instead of exiting.
	ControllerURL       string `hcl:"controller_url,optional"`
	ControllerNamespace string `hcl:"controller_namespace,optional"`

	// ProjectRoot, when set, is mirrored into the store's remote layer on
	// first compile.
	ProjectRoot string `hcl:"project_root,optional"`

	MaxRecoveryCycles int `hcl:"max_recovery_cycles,optional"`

	// RuntimeHelpers are appended to every newer-generation compile's
	// dependency list; that engine generation omits them from its own
	// metadata.
	RuntimeHelpers []string `hcl:"runtime_helpers,optional"`

	// BuiltinPlugins are always appended to the caller's plugin list.
	BuiltinPlugins []PluginBlock `hcl:"builtin_plugin,block"`

	// ExternalLibraries substitutes a conservative configuration for files
	// whose path matches its pattern.
	ExternalLibraries *ExternalBlock `hcl:"external_libraries,block"`

	externalPattern *regexp.Regexp
}

// PluginBlock names a plugin together with open-schema options.
type PluginBlock struct {
	Name    string   `hcl:"name,label"`
	Body    hcl.Body `hcl:",remain"`
	Options map[string]any
}

// ExternalBlock is the conservative configuration applied to
// externally-authored code.
type ExternalBlock struct {
	Pattern string        `hcl:"pattern"`
	Presets []string      `hcl:"presets,optional"`
	Plugins []PluginBlock `hcl:"plugin,block"`
}

// Defaults used when the corresponding fields are absent.
const (
	DefaultPackagesRoot      = "node_modules"
	DefaultScope             = "@kiln"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultMaxRecoveryCycles = 5
)

// DefaultRuntimeHelpers returns the runtime helper dependency paths for a
// scope.
func DefaultRuntimeHelpers(scope string) []string {
	return []string{
		scope + "/runtime/helpers/interop-require",
		scope + "/runtime/helpers/async-to-generator",
	}
}

// Finalize fills defaults, compiles the external-library pattern and checks
// required fields. Load calls it; tests that build a Model directly must
// call it themselves.
func (m *Model) Finalize() error {
	if m.RegistryURL == "" {
		return fmt.Errorf("registry_url is required")
	}
	if m.PackagesRoot == "" {
		m.PackagesRoot = DefaultPackagesRoot
	}
	if m.Scope == "" {
		m.Scope = DefaultScope
	}
	if m.LogLevel == "" {
		m.LogLevel = DefaultLogLevel
	}
	if m.LogFormat == "" {
		m.LogFormat = DefaultLogFormat
	}
	if m.MaxRecoveryCycles == 0 {
		m.MaxRecoveryCycles = DefaultMaxRecoveryCycles
	}
	if m.RuntimeHelpers == nil {
		m.RuntimeHelpers = DefaultRuntimeHelpers(m.Scope)
	}
	if m.ExternalLibraries != nil {
		re, err := regexp.Compile(m.ExternalLibraries.Pattern)
		if err != nil {
			return fmt.Errorf("external_libraries.pattern is not a valid regular expression: %w", err)
		}
		m.externalPattern = re
	}
	return nil
}

// IsExternalPath reports whether a source path falls under the
// external-library policy.
func (m *Model) IsExternalPath(path string) bool {
	return m.externalPattern != nil && m.externalPattern.MatchString(path)
}
