// Package transport maintains the worker's link to its controller. The
// worker dials out over socket.io, listens for compile events, and emits
// results back on the same socket; request timeouts and delivery guarantees
// are the controller's concern.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/kiln/internal/compiler"
	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/engine"
)

// Event names on the controller socket.
const (
	EventCompile = "compile"
	EventResult  = "compile:result"
)

// Handler processes one compile request from the controller.
type Handler func(ctx context.Context, req *compiler.Request) (*compiler.Response, error)

// ResultEnvelope is what the worker emits for every compile event: either
// code plus dependencies, or a single-line failure message. ContextID echoes
// the request so the controller can correlate.
type ResultEnvelope struct {
	ContextID    string              `json:"contextId,omitempty"`
	Code         string              `json:"code,omitempty"`
	Dependencies []engine.Dependency `json:"dependencies,omitempty"`
	Message      string              `json:"message,omitempty"`
}

// ControllerLink is a live connection to the controller.
type ControllerLink struct {
	controllerURL string
	namespace     string
	handler       Handler
}

// NewControllerLink creates an unconnected link. namespace may be empty for
// the controller's root namespace.
func NewControllerLink(controllerURL, namespace string, handler Handler) *ControllerLink {
	return &ControllerLink{
		controllerURL: controllerURL,
		namespace:     namespace,
		handler:       handler,
	}
}

// Run connects to the controller and serves compile events until the
// context is cancelled or the connection fails.
func (l *ControllerLink) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("controller_url", l.controllerURL, "namespace", l.namespace)

	parsedURL, err := url.Parse(l.controllerURL)
	if err != nil {
		return fmt.Errorf("failed to parse controller URL: %w", err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(l.namespace, opts)
	defer func() {
		logger.Debug("Disconnecting from controller.")
		io.Disconnect()
	}()

	fatal := make(chan error, 1)

	io.On(types.EventName("connect"), func(...any) {
		logger.Info("Connected to controller.", "sid", io.Id())
	})

	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if connectErr, ok := errs[0].(error); ok {
				fatal <- connectErr
				return
			}
		}
		fatal <- fmt.Errorf("controller connection failed")
	})

	io.On(types.EventName(EventCompile), func(data ...any) {
		if len(data) == 0 {
			logger.Warn("Compile event without payload, ignoring.")
			return
		}
		// Each compile runs on its own goroutine; the socket callback must
		// not block behind a slow transform.
		go l.serve(ctx, logger, data[0], func(env *ResultEnvelope) {
			io.Emit(EventResult, env)
		})
	})

	io.Connect()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-fatal:
		return fmt.Errorf("controller link failed: %w", err)
	}
}

// serve decodes one compile payload, runs the handler, and emits the result.
func (l *ControllerLink) serve(ctx context.Context, logger *slog.Logger, payload any, emit func(*ResultEnvelope)) {
	req, err := DecodeRequest(payload)
	if err != nil {
		logger.Warn("Discarding malformed compile payload.", "error", err)
		emit(&ResultEnvelope{Message: err.Error()})
		return
	}

	logger.Debug("Compile request received from controller.", "source_path", req.SourcePath, "context_id", req.ContextID)
	res, err := l.handler(ctx, req)
	if err != nil {
		emit(&ResultEnvelope{ContextID: req.ContextID, Message: err.Error()})
		return
	}
	emit(&ResultEnvelope{
		ContextID:    req.ContextID,
		Code:         res.Code,
		Dependencies: res.Dependencies,
	})
}

// DecodeRequest converts a socket payload (generic decoded JSON) into a
// compile request via a JSON round trip.
func DecodeRequest(payload any) (*compiler.Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("compile payload is not serializable: %w", err)
	}
	var req compiler.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("compile payload does not match the request schema: %w", err)
	}
	return &req, nil
}
