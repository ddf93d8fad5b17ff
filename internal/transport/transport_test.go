package transport

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/kiln/internal/compiler"
	"github.com/vk/kiln/internal/engine"
)

func TestDecodeRequest_FromGenericPayload(t *testing.T) {
	// socket.io delivers decoded JSON as map[string]any.
	payload := map[string]any{
		"sourceCode": "const a = 1;",
		"sourcePath": "src/App.js",
		"config": map[string]any{
			"presets": []any{"env", []any{"stage-2", map[string]any{"loose": true}}},
		},
		"engineVersion": float64(7),
		"contextId":     "ctx-1",
	}

	req, err := DecodeRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, "const a = 1;", req.SourceCode)
	assert.Equal(t, 7, req.EngineVersion)
	assert.Equal(t, "ctx-1", req.ContextID)
	require.Len(t, req.Config.Presets, 2)
	assert.Equal(t, "env", req.Config.Presets[0].Name)
	assert.Equal(t, "stage-2", req.Config.Presets[1].Name)
	assert.Equal(t, map[string]any{"loose": true}, req.Config.Presets[1].Options)
}

func TestDecodeRequest_RejectsNonObjectPayload(t *testing.T) {
	_, err := DecodeRequest("not a request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request schema")
}

func TestServe_EmitsResultWithContextID(t *testing.T) {
	link := NewControllerLink("http://controller", "", func(ctx context.Context, req *compiler.Request) (*compiler.Response, error) {
		return &compiler.Response{
			Code:         "out",
			Dependencies: []engine.Dependency{{Path: "lodash", Type: engine.DependencyDirect}},
		}, nil
	})

	var got *ResultEnvelope
	link.serve(context.Background(), slog.Default(), map[string]any{
		"sourceCode":    "x",
		"sourcePath":    "a.js",
		"engineVersion": float64(6),
		"contextId":     "ctx-9",
	}, func(env *ResultEnvelope) { got = env })

	require.NotNil(t, got)
	assert.Equal(t, "ctx-9", got.ContextID)
	assert.Equal(t, "out", got.Code)
	require.Len(t, got.Dependencies, 1)
	assert.Empty(t, got.Message)
}

func TestServe_EmitsFailureMessage(t *testing.T) {
	link := NewControllerLink("http://controller", "", func(ctx context.Context, req *compiler.Request) (*compiler.Response, error) {
		return nil, errors.New("dependency resolution did not converge for \"a.js\" after 5 recovery cycles")
	})

	var got *ResultEnvelope
	link.serve(context.Background(), slog.Default(), map[string]any{
		"sourceCode":    "x",
		"sourcePath":    "a.js",
		"engineVersion": float64(6),
		"contextId":     "ctx-9",
	}, func(env *ResultEnvelope) { got = env })

	require.NotNil(t, got)
	assert.Equal(t, "ctx-9", got.ContextID)
	assert.Empty(t, got.Code)
	assert.Contains(t, got.Message, "did not converge")
}

func TestServe_MalformedPayloadStillAnswers(t *testing.T) {
	link := NewControllerLink("http://controller", "", func(ctx context.Context, req *compiler.Request) (*compiler.Response, error) {
		t.Fatal("handler must not run for malformed payloads")
		return nil, nil
	})

	var got *ResultEnvelope
	link.serve(context.Background(), slog.Default(), []any{1, 2, 3}, func(env *ResultEnvelope) { got = env })

	require.NotNil(t, got)
	assert.NotEmpty(t, got.Message)
}
