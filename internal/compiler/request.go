package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/vk/kiln/internal/engine"
)

// PluginRef names a plugin or preset in a compile request, optionally with
// inline options. On the wire it is either a bare string or a [name,
// options] pair.
type PluginRef struct {
	Name    string
	Options map[string]any
}

// UnmarshalJSON accepts "name" and ["name", {..options..}].
func (p *PluginRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		p.Name = name
		p.Options = nil
		return nil
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("plugin reference must be a name or a [name, options] pair: %w", err)
	}
	if len(pair) == 0 || len(pair) > 2 {
		return fmt.Errorf("plugin reference pair must have one or two elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &p.Name); err != nil {
		return fmt.Errorf("plugin reference name must be a string: %w", err)
	}
	p.Options = nil
	if len(pair) == 2 {
		if err := json.Unmarshal(pair[1], &p.Options); err != nil {
			return fmt.Errorf("plugin reference options must be an object: %w", err)
		}
	}
	return nil
}

// MarshalJSON emits the compact form: a bare name when there are no options.
func (p PluginRef) MarshalJSON() ([]byte, error) {
	if p.Options == nil {
		return json.Marshal(p.Name)
	}
	return json.Marshal([]any{p.Name, p.Options})
}

// RequestConfig is the caller-supplied transform configuration.
type RequestConfig struct {
	Plugins []PluginRef `json:"plugins"`
	Presets []PluginRef `json:"presets"`
}

// Request is one compile call. Transient: a retried compile reuses the same
// request value.
type Request struct {
	SourceCode    string        `json:"sourceCode"`
	SourcePath    string        `json:"sourcePath"`
	Config        RequestConfig `json:"config"`
	EngineVersion int           `json:"engineVersion"`
	ContextID     string        `json:"contextId,omitempty"`
}

// Response is a successful compile.
type Response struct {
	Code         string              `json:"code"`
	Dependencies []engine.Dependency `json:"dependencies"`
}

// ErrorResponse is the terminal-failure shape sent over the wire.
type ErrorResponse struct {
	Message string `json:"message"`
}
