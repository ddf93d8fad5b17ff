package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vk/kiln/internal/compiler"
	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/transport"
)

// Run serves compile requests from the controller until the context is
// cancelled. Requires controller_url in the worker configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.startHealthcheckServer()

	if a.cfg.ControllerURL == "" {
		return fmt.Errorf("controller_url is not configured; use a one-shot request instead")
	}

	link := transport.NewControllerLink(a.cfg.ControllerURL, a.cfg.ControllerNamespace, a.compiler.Compile)
	a.logger.Info("Connecting to controller.", "controller_url", a.cfg.ControllerURL)
	err := link.Run(ctx)

	a.logger.Debug("App.Run method finished.", "error", err)
	return err
}

// RunOnce executes a single compile request and writes the JSON response to
// the app's output writer. Terminal failures are written as the wire error
// shape and also returned.
func (a *App) RunOnce(ctx context.Context, req *compiler.Request) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	a.startHealthcheckServer()

	res, err := a.compiler.Compile(ctx, req)
	enc := json.NewEncoder(a.outW)
	enc.SetIndent("", "  ")
	if err != nil {
		if encodeErr := enc.Encode(compiler.ErrorResponse{Message: err.Error()}); encodeErr != nil {
			return encodeErr
		}
		return err
	}
	return enc.Encode(res)
}
