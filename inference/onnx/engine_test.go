package onnx

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-helmet/inference"
	"github.com/nvr-ai/go-helmet/inference/providers"
)

// modelEnv names a helmet SSD .onnx file used by the integration test.
const modelEnv = "HELMET_ONNX_MODEL"

func TestClampUint8(t *testing.T) {
	assert.Equal(t, uint8(0), clampUint8(-3))
	assert.Equal(t, uint8(128), clampUint8(127.6))
	assert.Equal(t, uint8(255), clampUint8(300))
}

func TestOutputTensorNil(t *testing.T) {
	out := &outputTensor{name: "detection_boxes"}
	_, err := out.Float32s()
	assert.Error(t, err)
	assert.NoError(t, out.Release())
	assert.Nil(t, out.Shape())
}

func TestOpenRejectsBadOptions(t *testing.T) {
	_, err := Open(context.Background(), "model.onnx", Options{})
	assert.Error(t, err, "an empty layout is rejected")

	_, err = Open(context.Background(), "model.onnx", Options{
		Layout:    inference.DefaultOutputLayout(),
		InputType: "int16",
	})
	assert.Error(t, err)
}

func TestEngineIntegration(t *testing.T) {
	path := os.Getenv(modelEnv)
	if path == "" {
		t.Skipf("%s not set", modelEnv)
	}
	if _, err := providers.GetSharedLibPath(""); err != nil {
		t.Skip(err)
	}

	e, err := Open(context.Background(), path, Options{Layout: inference.DefaultOutputLayout()})
	require.NoError(t, err)
	defer e.Close()

	shape := e.InputShape()
	require.Len(t, shape, 4)

	batch, err := inference.ZeroBatch(shape)
	require.NoError(t, err)

	outs, err := e.Execute(context.Background(), batch)
	require.NoError(t, err)
	for _, o := range outs {
		_, err := o.Float32s()
		assert.NoError(t, err)
		assert.NoError(t, o.Release())
	}
}
