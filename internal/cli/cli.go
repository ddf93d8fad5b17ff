// Package cli parses the worker's command line.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Args is the parsed command line.
type Args struct {
	// ConfigPath locates the worker's HCL configuration file.
	ConfigPath string
	// RequestPath, when set, runs a single compile request from a JSON file
	// ("-" reads stdin) instead of serving the controller link.
	RequestPath string
}

// Parse processes command-line arguments. It returns the parsed Args, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*Args, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("kiln", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
kiln - a compile worker that resolves, fetches and caches transform
plugins on demand.

Usage:
  kiln -config worker.hcl [options]

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the worker HCL configuration file.")
	requestFlag := flagSet.String("request", "", "Path to a JSON compile request to run once ('-' for stdin). Without it the worker serves its controller link.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if *configFlag == "" {
		slog.Debug("No config path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	parsed := &Args{
		ConfigPath:  *configFlag,
		RequestPath: *requestFlag,
	}
	slog.Debug("CLI parser finished successfully.", "config", parsed.ConfigPath, "request", parsed.RequestPath)
	return parsed, false, nil
}
