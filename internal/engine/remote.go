package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"resty.dev/v3"
)

// transformRequest is the wire form of one transform invocation.
type transformRequest struct {
	Code       string      `json:"code"`
	SourcePath string      `json:"sourcePath"`
	Version    int         `json:"version"`
	Plugins    []wireEntry `json:"plugins"`
	Presets    []wireEntry `json:"presets"`
}

type wireEntry struct {
	Name    string         `json:"name"`
	Value   any            `json:"value,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// transformResponse is the engine service's reply. A failure carries a
// message and, when the generation supports positions, a line/column; the
// notReady flag marks the filesystem-not-ready condition explicitly.
type transformResponse struct {
	Code         string       `json:"code"`
	Dependencies []Dependency `json:"dependencies"`
	Message      string       `json:"message"`
	Line         int          `json:"line"`
	Column       int          `json:"column"`
	NotReady     bool         `json:"notReady"`
}

// Remote is a Transformer backed by an engine service over HTTP.
type Remote struct {
	client *resty.Client
}

// NewRemote creates a client for the engine service at baseURL.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(60 * time.Second),
	}
}

// Close releases the underlying HTTP client.
func (r *Remote) Close() error {
	return r.client.Close()
}

// Transform posts one invocation to the engine service and maps its failure
// shapes onto the worker's typed errors.
func (r *Remote) Transform(ctx context.Context, code string, opts Options) (*Result, error) {
	req := transformRequest{
		Code:       code,
		SourcePath: opts.SourcePath,
		Version:    opts.Version,
		Plugins:    toWire(opts.Plugins),
		Presets:    toWire(opts.Presets),
	}

	var reply transformResponse
	res, err := r.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&reply).
		SetError(&reply).
		Post("/transform")
	if err != nil {
		return nil, err
	}
	if res.IsError() || reply.Message != "" {
		return nil, remoteFailure(&reply)
	}

	return &Result{
		Code:     reply.Code,
		Metadata: Metadata{Dependencies: reply.Dependencies},
	}, nil
}

// Reset asks the engine service to drop its compilation memoization. Best
// effort: a reset that cannot be delivered only costs a redundant compile.
func (r *Remote) Reset() {
	res, err := r.client.R().Post("/reset")
	if err != nil || res.IsError() {
		slog.Default().Debug("Engine memoization reset not delivered.", "error", err)
	}
}

func remoteFailure(reply *transformResponse) error {
	if reply.NotReady {
		return &NotReadyError{}
	}
	if reply.Line > 0 {
		return &SyntaxError{Message: reply.Message, Line: reply.Line, Column: reply.Column}
	}
	return &TransformError{Message: reply.Message}
}

func toWire(entries []Entry) []wireEntry {
	out := make([]wireEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wireEntry{Name: e.Name, Value: e.Value, Options: e.Options})
	}
	return out
}
