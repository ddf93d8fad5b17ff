package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/kiln/internal/app"
	"github.com/vk/kiln/internal/cli"
	"github.com/vk/kiln/internal/compiler"
	"github.com/vk/kiln/internal/config"
)

// main is the entrypoint for the kiln worker.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(outW io.Writer, args []string) error {
	parsed, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	cfg, err := config.Load(parsed.ConfigPath)
	if err != nil {
		return err
	}

	// The app panics on critical wiring errors, so we recover here to
	// provide a clean exit message to the user.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "A critical startup error occurred: %v\n", r)
			os.Exit(1)
		}
	}()

	worker := app.New(os.Stderr, cfg, app.Options{})
	ctx := context.Background()
	defer worker.Close(ctx)

	if parsed.RequestPath != "" {
		req, err := readRequest(parsed.RequestPath)
		if err != nil {
			return err
		}
		worker.SetOutput(outW)
		return worker.RunOnce(ctx, req)
	}
	return worker.Run(ctx)
}

// readRequest loads a compile request from a JSON file, or stdin for "-".
func readRequest(path string) (*compiler.Request, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read compile request: %w", err)
	}

	var req compiler.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("compile request is not valid JSON: %w", err)
	}
	return &req, nil
}
