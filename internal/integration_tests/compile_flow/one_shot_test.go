package compile_flow

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/kiln/internal/compiler"
	"github.com/vk/kiln/internal/engine"
)

func TestOneShot_WritesResponseJSON(t *testing.T) {
	transformer := &scriptedTransformer{}
	worker, _ := newWorker(t, "", transformer, "env")

	var out bytes.Buffer
	worker.SetOutput(&out)

	err := worker.RunOnce(context.Background(), &compiler.Request{
		SourceCode:    "const a = 1;",
		SourcePath:    "src/App.js",
		Config:        compiler.RequestConfig{Presets: []compiler.PluginRef{{Name: "env"}}},
		EngineVersion: 6,
	})
	require.NoError(t, err)

	var res compiler.Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "transformed:const a = 1;", res.Code)
	assert.Empty(t, res.Dependencies)
}

func TestOneShot_WritesErrorShapeAndReturnsError(t *testing.T) {
	transformer := &scriptedTransformer{
		behavior: func(int, string, engine.Options) (*engine.Result, error) {
			return nil, &engine.TransformError{Message: "unsupported construct"}
		},
	}
	worker, _ := newWorker(t, "", transformer, "env")

	var out bytes.Buffer
	worker.SetOutput(&out)

	err := worker.RunOnce(context.Background(), &compiler.Request{
		SourceCode:    "const a = 1;",
		SourcePath:    "src/App.js",
		Config:        compiler.RequestConfig{Presets: []compiler.PluginRef{{Name: "env"}}},
		EngineVersion: 6,
	})
	require.Error(t, err)

	var wireErr compiler.ErrorResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &wireErr))
	assert.Equal(t, "unsupported construct", wireErr.Message)
}

func TestRun_RequiresControllerURL(t *testing.T) {
	transformer := &scriptedTransformer{}
	worker, _ := newWorker(t, "", transformer)

	err := worker.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "controller_url")
}
