package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/vk/kiln/internal/ctxlog"
)

// maxEvaluateRounds bounds the load-on-demand loop of one evaluation. Each
// round adds at least one file to the request, so legitimate evaluations
// converge quickly; the bound only stops hosts that keep asking.
const maxEvaluateRounds = 32

// evaluateRequest is one evaluation round sent to the host service. Files
// carries every module the provider has resolved so far; Installed lists the
// plugin/preset names the module may reference.
type evaluateRequest struct {
	Path      string            `json:"path"`
	Files     map[string]string `json:"files"`
	Installed []string          `json:"installed"`
}

// evaluateResponse is the host service's reply: an export value, a request
// for one more module, or a failure message.
type evaluateResponse struct {
	Value   any    `json:"value"`
	Missing string `json:"missing"`
	Message string `json:"message"`
}

// RemoteHost evaluates modules in a sandboxed host service. Load-on-demand
// is satisfied client-side: when the service reports a missing reference,
// the provider capability resolves it and the evaluation is resubmitted with
// the additional file, keeping every load inside the fetcher contract.
type RemoteHost struct {
	client    *resty.Client
	installed func() []string
}

// NewRemoteHost creates a client for the host service at baseURL. installed
// supplies the current plugin/preset names for each evaluation; it may be
// nil.
func NewRemoteHost(baseURL string, installed func() []string) *RemoteHost {
	return &RemoteHost{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(60 * time.Second),
		installed: installed,
	}
}

// Close releases the underlying HTTP client.
func (h *RemoteHost) Close() error {
	return h.client.Close()
}

// Evaluate implements Host.
func (h *RemoteHost) Evaluate(ctx context.Context, path string, registry Registry, provider ModuleProvider) (any, error) {
	logger := ctxlog.FromContext(ctx)

	content, ok, err := provider.Resolve(ctx, "/"+path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MissingModuleError{Ref: path}
	}

	req := evaluateRequest{
		Path:  path,
		Files: map[string]string{path: string(content)},
	}
	if h.installed != nil {
		req.Installed = h.installed()
	}

	for round := 0; round < maxEvaluateRounds; round++ {
		var reply evaluateResponse
		res, err := h.client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&reply).
			SetError(&reply).
			Post("/evaluate")
		if err != nil {
			return nil, err
		}

		switch {
		case reply.Missing != "":
			moreContent, ok, err := provider.Resolve(ctx, reply.Missing)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &MissingModuleError{Ref: reply.Missing}
			}
			logger.Debug("Host requested another module, resubmitting evaluation.", "path", path, "ref", reply.Missing, "round", round)
			req.Files[reply.Missing] = string(moreContent)

		case res.IsError() || reply.Message != "":
			return nil, fmt.Errorf("evaluation of %s failed: %s", path, reply.Message)

		default:
			return reply.Value, nil
		}
	}
	return nil, fmt.Errorf("evaluation of %s did not settle after %d load-on-demand rounds", path, maxEvaluateRounds)
}
