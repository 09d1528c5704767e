// Package onnx - ONNX Runtime inference engine.
package onnx

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-helmet/inference"
	"github.com/nvr-ai/go-helmet/inference/providers"
)

// Options configures the ONNX Runtime engine.
type Options struct {
	// Layout names the outputs to fetch.
	Layout inference.OutputLayout
	// InputType forces the input element type. Empty follows the model.
	InputType inference.InputType
	// Normalize scales float32 inputs before they are fed.
	Normalize inference.Normalization
	// Provider selects the execution provider.
	Provider providers.Config
	// SharedLibrary overrides the onnxruntime library path.
	SharedLibrary string
}

// envMu guards the process-wide ONNX Runtime environment.
var envMu sync.Mutex

// initEnvironment loads the shared library and initializes the ONNX Runtime
// environment once per process.
func initEnvironment(sharedLibrary string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath, err := providers.GetSharedLibPath(sharedLibrary)
	if err != nil {
		return err
	}
	// Point ONNX Runtime to the exact shared library path (overrides default search).
	ort.SetSharedLibraryPath(libPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(err, "error initializing ORT environment from %s", libPath)
	}
	return nil
}

// Engine runs an ONNX graph through a DynamicAdvancedSession. Input and output
// tensors are allocated per call, so Execute is safe for concurrent use.
type Engine struct {
	session   *ort.DynamicAdvancedSession
	input     ort.InputOutputInfo
	outputs   []string
	inputType inference.InputType
	normalize inference.Normalization
}

// NewOpener returns an inference.Opener that opens ONNX graphs with opts.
func NewOpener(opts Options) inference.Opener {
	return func(ctx context.Context, path string) (inference.Engine, error) {
		return Open(ctx, path, opts)
	}
}

// Open creates an ONNX Runtime session for the graph at path.
//
// The graph must have a single NHWC image input. Its element type decides the
// input type unless opts.InputType is set.
//
// Arguments:
//   - ctx: Unused; session creation cannot be canceled.
//   - path: The local path of the .onnx file.
//   - opts: The engine options.
//
// Returns:
//   - *Engine: The engine.
//   - error: An error if the runtime, the graph or the provider fails.
func Open(_ context.Context, path string, opts Options) (*Engine, error) {
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if err := opts.InputType.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Normalize.Validate(); err != nil {
		return nil, err
	}
	if err := initEnvironment(opts.SharedLibrary); err != nil {
		return nil, err
	}

	inputs, _, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrap(err, "read model inputs")
	}
	if len(inputs) != 1 {
		return nil, errors.Errorf("expected a single image input, got %d", len(inputs))
	}
	input := inputs[0]

	inputType := opts.InputType
	if inputType == "" {
		inputType = inference.InputFloat32
		if input.DataType == ort.TensorElementDataTypeUint8 {
			inputType = inference.InputUint8
		}
	}

	options, err := providers.NewSessionOptions(opts.Provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	outputs := opts.Layout.Names()
	session, err := ort.NewDynamicAdvancedSession(path, []string{input.Name}, outputs, options)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &Engine{
		session:   session,
		input:     input,
		outputs:   outputs,
		inputType: inputType,
		normalize: opts.Normalize,
	}, nil
}

// InputShape returns the NHWC input dimensions declared by the graph.
func (e *Engine) InputShape() []int64 {
	return append([]int64(nil), e.input.Dimensions...)
}

// Execute runs the graph over batch. The returned tensors wrap runtime-owned
// memory and must be released.
//
// Arguments:
//   - ctx: Checked before the run starts.
//   - batch: The [1, H, W, C] float32 batch. Normalization happens in place.
//
// Returns:
//   - []inference.Tensor: One tensor per configured output.
//   - error: An error if the input cannot be built or the run fails.
func (e *Engine) Execute(ctx context.Context, batch *tensor.Dense) ([]inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, err := e.newInput(batch)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	values := make([]ort.Value, len(e.outputs))
	if err := e.session.Run([]ort.Value{input}, values); err != nil {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
		return nil, errors.Wrap(err, "run session")
	}

	out := make([]inference.Tensor, len(values))
	for i, v := range values {
		out[i] = &outputTensor{name: e.outputs[i], value: v}
	}
	return out, nil
}

func (e *Engine) newInput(batch *tensor.Dense) (ort.Value, error) {
	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("batch must be float32, got %v", batch.Dtype())
	}
	dims := batch.Shape()
	shape := make(ort.Shape, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}

	if e.inputType == inference.InputUint8 {
		pixels := make([]uint8, len(data))
		for i, v := range data {
			pixels[i] = clampUint8(v)
		}
		t, err := ort.NewTensor(shape, pixels)
		return t, errors.Wrap(err, "create uint8 input tensor")
	}

	e.normalize.Apply(data)
	t, err := ort.NewTensor(shape, data)
	return t, errors.Wrap(err, "create float32 input tensor")
}

// Close destroys the session.
func (e *Engine) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return errors.Wrap(err, "error destroying ORT session")
}

func clampUint8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
