// Package tflite - TensorFlow Lite inference engine.
package tflite

import (
	"context"
	"strings"
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-helmet/inference"
)

// ssdPostProcessOp prefixes the outputs of the TFLite SSD post-processing
// custom op.
const ssdPostProcessOp = "TFLite_Detection_PostProcess"

// SSDOutputNames is the positional output order of TFLite_Detection_PostProcess.
var SSDOutputNames = []string{
	inference.DefaultBoxesOutput,
	inference.DefaultClassesOutput,
	inference.DefaultScoresOutput,
	inference.DefaultCountOutput,
}

// Options configures the TFLite engine.
type Options struct {
	// Threads is the number of interpreter threads. Zero uses 4.
	Threads int
	// OutputNames renames outputs by position. Empty keeps the tensor names,
	// except for TFLite_Detection_PostProcess graphs which get SSDOutputNames.
	OutputNames []string
	// Normalize scales float32 inputs before they are fed.
	Normalize inference.Normalization
}

// Engine runs a TFLite graph. The interpreter owns a single set of buffers,
// so Execute calls are serialized.
type Engine struct {
	mu        sync.Mutex
	model     *tflite.Model
	interp    *tflite.Interpreter
	names     []string
	normalize inference.Normalization
}

// NewOpener returns an inference.Opener that opens TFLite graphs with opts.
func NewOpener(opts Options) inference.Opener {
	return func(ctx context.Context, path string) (inference.Engine, error) {
		return Open(ctx, path, opts)
	}
}

// Open loads the .tflite graph at path and allocates its tensors.
//
// Arguments:
//   - ctx: Unused; loading cannot be canceled.
//   - path: The local path of the .tflite file.
//   - opts: The engine options.
//
// Returns:
//   - *Engine: The engine.
//   - error: An error if the model or interpreter cannot be created.
func Open(_ context.Context, path string, opts Options) (*Engine, error) {
	if err := opts.Normalize.Validate(); err != nil {
		return nil, err
	}

	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, errors.Errorf("cannot load model %s", path)
	}

	options := tflite.NewInterpreterOptions()
	defer options.Delete()

	threads := opts.Threads
	if threads <= 0 {
		threads = 4
	}
	options.SetNumThread(threads)

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		model.Delete()
		return nil, errors.New("cannot create interpreter")
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		model.Delete()
		return nil, errors.Errorf("allocate tensors failed with status %v", status)
	}

	names := outputNames(interp, opts.OutputNames)
	return &Engine{
		model:     model,
		interp:    interp,
		names:     names,
		normalize: opts.Normalize,
	}, nil
}

func outputNames(interp *tflite.Interpreter, override []string) []string {
	n := interp.GetOutputTensorCount()
	names := make([]string, n)
	for i := range names {
		names[i] = interp.GetOutputTensor(i).Name()
	}
	if len(override) == 0 && n == len(SSDOutputNames) && strings.HasPrefix(names[0], ssdPostProcessOp) {
		override = SSDOutputNames
	}
	for i := 0; i < n && i < len(override); i++ {
		names[i] = override[i]
	}
	return names
}

// InputShape returns the NHWC dimensions of the first input tensor.
func (e *Engine) InputShape() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return shapeOf(e.interp.GetInputTensor(0))
}

// Execute feeds batch, invokes the interpreter and copies every output out of
// the interpreter buffers.
//
// Arguments:
//   - ctx: Checked before the interpreter is invoked.
//   - batch: The [1, H, W, C] float32 batch.
//
// Returns:
//   - []inference.Tensor: One tensor per graph output.
//   - error: An error if the input does not fit or the invocation fails.
func (e *Engine) Execute(ctx context.Context, batch *tensor.Dense) ([]inference.Tensor, error) {
	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("batch must be float32, got %v", batch.Dtype())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interp == nil {
		return nil, errors.New("interpreter closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := e.interp.GetInputTensor(0)
	if !sameShape(shapeOf(input), batch.Shape()) {
		dims := make([]int32, len(batch.Shape()))
		for i, d := range batch.Shape() {
			dims[i] = int32(d)
		}
		if status := e.interp.ResizeInputTensor(0, dims); status != tflite.OK {
			return nil, errors.Errorf("resize input to %v failed with status %v", dims, status)
		}
		if status := e.interp.AllocateTensors(); status != tflite.OK {
			return nil, errors.Errorf("allocate tensors failed with status %v", status)
		}
		input = e.interp.GetInputTensor(0)
	}

	if err := e.fill(input, data); err != nil {
		return nil, err
	}
	if status := e.interp.Invoke(); status != tflite.OK {
		return nil, errors.Errorf("invoke failed with status %v", status)
	}

	out := make([]inference.Tensor, len(e.names))
	for i, name := range e.names {
		t := e.interp.GetOutputTensor(i)
		values, err := readFloat32s(t)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", name)
		}
		out[i] = inference.NewDenseTensor(name, shapeOf(t), values)
	}
	return out, nil
}

func (e *Engine) fill(input *tflite.Tensor, data []float32) error {
	switch input.Type() {
	case tflite.UInt8:
		pixels := make([]uint8, len(data))
		for i, v := range data {
			pixels[i] = clampUint8(v)
		}
		return errors.Wrap(input.SetUint8s(pixels), "set uint8 input")
	case tflite.Float32:
		e.normalize.Apply(data)
		return errors.Wrap(input.SetFloat32s(data), "set float32 input")
	default:
		return errors.Errorf("unsupported input type %v", input.Type())
	}
}

// Close deletes the interpreter and the model. It is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.interp != nil {
		e.interp.Delete()
		e.interp = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}

// readFloat32s copies a float32 or quantized uint8 output.
func readFloat32s(t *tflite.Tensor) ([]float32, error) {
	switch t.Type() {
	case tflite.Float32:
		return append([]float32(nil), t.Float32s()...), nil
	case tflite.UInt8:
		q := t.QuantizationParams()
		raw := t.UInt8s()
		out := make([]float32, len(raw))
		for i, v := range raw {
			out[i] = dequantize(v, q.Scale, q.ZeroPoint)
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported output type %v", t.Type())
	}
}

func dequantize(v uint8, scale float64, zeroPoint int) float32 {
	if scale == 0 {
		return float32(v)
	}
	return float32(float64(int(v)-zeroPoint) * scale)
}

func shapeOf(t *tflite.Tensor) []int64 {
	shape := make([]int64, t.NumDims())
	for i := range shape {
		shape[i] = int64(t.Dim(i))
	}
	return shape
}

func sameShape(a []int64, b tensor.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != int64(b[i]) {
			return false
		}
	}
	return true
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
