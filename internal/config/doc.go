// Package config loads the worker's HCL configuration file: registry
// location, naming conventions, builtin capability plugins, the
// external-library policy, and transport/observability settings.
//
// Plugin option blocks have no fixed schema; options are forwarded to the
// transform engine as-is. They are decoded through cty into plain Go
// values rather than into typed structs.
package config
