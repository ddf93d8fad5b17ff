package config

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Load parses and validates a worker configuration file.
func Load(path string) (*Model, error) {
	var m Model
	if err := hclsimple.DecodeFile(path, nil, &m); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", path, err)
	}
	if err := finish(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadBytes parses a configuration from memory; filename is used for
// diagnostics only.
func LoadBytes(src []byte, filename string) (*Model, error) {
	var m Model
	if err := hclsimple.Decode(filename, src, nil, &m); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", filename, err)
	}
	if err := finish(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func finish(m *Model) error {
	for i := range m.BuiltinPlugins {
		if err := decodeOptions(&m.BuiltinPlugins[i]); err != nil {
			return err
		}
	}
	if m.ExternalLibraries != nil {
		for i := range m.ExternalLibraries.Plugins {
			if err := decodeOptions(&m.ExternalLibraries.Plugins[i]); err != nil {
				return err
			}
		}
	}
	return m.Finalize()
}

// decodeOptions turns a plugin block's remaining body into plain Go values.
// Options have no schema of their own, so every attribute is evaluated as a
// constant cty value and converted through its JSON form.
func decodeOptions(block *PluginBlock) error {
	if block.Body == nil {
		return nil
	}
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return fmt.Errorf("invalid options for plugin %q: %s", block.Name, diags.Error())
	}
	if len(attrs) == 0 {
		return nil
	}

	block.Options = make(map[string]any, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return fmt.Errorf("invalid option %q for plugin %q: %s", name, block.Name, diags.Error())
		}
		goVal, err := ctyToGo(val)
		if err != nil {
			return fmt.Errorf("option %q for plugin %q: %w", name, block.Name, err)
		}
		block.Options[name] = goVal
	}
	return nil
}

func ctyToGo(val cty.Value) (any, error) {
	raw, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
