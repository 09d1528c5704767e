// Package opencv - OpenCV DNN inference engine for SSD graphs.
package opencv

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-helmet/inference"
)

// DetectionStride is the number of values per row of the DetectionOutput
// layer: image id, class id, score, xmin, ymin, xmax, ymax.
const DetectionStride = 7

// DefaultInputSize is the square input size of SSD MobileNet graphs.
const DefaultInputSize = 300

var backends = map[string]gocv.NetBackendType{
	"":         gocv.NetBackendDefault,
	"default":  gocv.NetBackendDefault,
	"opencv":   gocv.NetBackendOpenCV,
	"openvino": gocv.NetBackendOpenVINO,
	"cuda":     gocv.NetBackendCUDA,
}

var targets = map[string]gocv.NetTargetType{
	"":          gocv.NetTargetCPU,
	"cpu":       gocv.NetTargetCPU,
	"fp16":      gocv.NetTargetFP16,
	"cuda":      gocv.NetTargetCUDA,
	"cuda_fp16": gocv.NetTargetCUDAFP16,
}

// Options configures the OpenCV DNN engine.
type Options struct {
	// Config is the optional text graph, e.g. the .pbtxt of a frozen
	// TensorFlow graph.
	Config string `json:"config" yaml:"config"`
	// Width and Height are the network input size. Zero uses DefaultInputSize.
	Width  int `json:"width"  yaml:"width"`
	Height int `json:"height" yaml:"height"`
	// Normalize scales pixels inside the blob.
	Normalize inference.Normalization `json:"normalize" yaml:"normalize"`
	// Backend is one of default, opencv, openvino or cuda.
	Backend string `json:"backend" yaml:"backend"`
	// Target is one of cpu, fp16, cuda or cuda_fp16.
	Target string `json:"target" yaml:"target"`
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.Width < 0 || o.Height < 0 {
		return errors.Errorf("invalid input size %dx%d", o.Width, o.Height)
	}
	if _, ok := backends[o.Backend]; !ok {
		return errors.Errorf("unsupported dnn backend %q", o.Backend)
	}
	if _, ok := targets[o.Target]; !ok {
		return errors.Errorf("unsupported dnn target %q", o.Target)
	}
	return o.Normalize.Validate()
}

// blobParams returns the BlobFromImage scale and mean for the normalization.
func (o Options) blobParams() (float64, gocv.Scalar) {
	switch o.Normalize {
	case inference.NormalizeUnit:
		return 1.0 / 255.0, gocv.NewScalar(0, 0, 0, 0)
	case inference.NormalizeSymmetric:
		return 1.0 / 127.5, gocv.NewScalar(127.5, 127.5, 127.5, 0)
	default:
		return 1.0, gocv.NewScalar(0, 0, 0, 0)
	}
}

// Engine runs an SSD graph whose last layer is DetectionOutput through the
// OpenCV DNN module and exposes the result under the default output layout.
// A gocv.Net holds a single set of buffers, so Execute calls are serialized.
type Engine struct {
	mu    sync.Mutex
	net   *gocv.Net
	size  image.Point
	scale float64
	mean  gocv.Scalar
}

// NewOpener returns an inference.Opener that opens graphs with opts.
func NewOpener(opts Options) inference.Opener {
	return func(ctx context.Context, path string) (inference.Engine, error) {
		return Open(ctx, path, opts)
	}
}

// Open reads the graph at path with gocv.ReadNet.
//
// Arguments:
//   - ctx: Unused; loading cannot be canceled.
//   - path: The graph file, e.g. a frozen .pb, .onnx or .caffemodel.
//   - opts: The engine options.
//
// Returns:
//   - *Engine: The engine.
//   - error: An error if the file is missing or OpenCV cannot parse it.
func Open(_ context.Context, path string, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat model")
	}
	if info.Size() == 0 {
		return nil, errors.Errorf("model file %s is empty", path)
	}
	if opts.Config != "" {
		if _, err := os.Stat(opts.Config); err != nil {
			return nil, errors.Wrap(err, "stat graph config")
		}
	}

	net, err := readNet(path, opts.Config)
	if err != nil {
		return nil, err
	}

	net.SetPreferableBackend(backends[opts.Backend])
	net.SetPreferableTarget(targets[opts.Target])

	width, height := opts.Width, opts.Height
	if width == 0 {
		width = DefaultInputSize
	}
	if height == 0 {
		height = DefaultInputSize
	}
	scale, mean := opts.blobParams()

	return &Engine{
		net:   net,
		size:  image.Pt(width, height),
		scale: scale,
		mean:  mean,
	}, nil
}

// readNet loads the graph, turning the panics OpenCV raises on malformed
// graphs into errors.
func readNet(path, config string) (net *gocv.Net, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while reading %s: %v", path, r)
		}
	}()

	n := gocv.ReadNet(path, config)
	if n.Empty() {
		n.Close()
		return nil, errors.Errorf("opencv cannot read %s", path)
	}
	if len(n.GetLayerNames()) == 0 {
		n.Close()
		return nil, errors.Errorf("graph %s has no layers", path)
	}
	return &n, nil
}

// InputShape returns [1, height, width, 3].
func (e *Engine) InputShape() []int64 {
	return []int64{1, int64(e.size.Y), int64(e.size.X), 3}
}

// Execute converts batch to a blob, runs the network and splits the
// DetectionOutput rows into boxes, scores, classes and num_detections.
//
// Arguments:
//   - ctx: Checked before the network runs.
//   - batch: The [1, H, W, 3] float32 RGB batch with values in [0, 255].
//
// Returns:
//   - []inference.Tensor: The four detection outputs.
//   - error: An error if the batch is malformed or the network fails.
func (e *Engine) Execute(ctx context.Context, batch *tensor.Dense) ([]inference.Tensor, error) {
	shape := batch.Shape()
	if len(shape) != 4 || shape[0] != 1 || shape[3] != 3 {
		return nil, errors.Errorf("batch must be [1, H, W, 3], got %v", shape)
	}
	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("batch must be float32, got %v", batch.Dtype())
	}

	pixels := make([]byte, len(data))
	for i, v := range data {
		pixels[i] = clampUint8(v)
	}
	mat, err := gocv.NewMatFromBytes(shape[1], shape[2], gocv.MatTypeCV8UC3, pixels)
	if err != nil {
		return nil, errors.Wrap(err, "batch to mat")
	}
	defer mat.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.net == nil {
		return nil, errors.New("network closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The Mat already holds RGB, so no channel swap.
	blob := gocv.BlobFromImage(mat, e.scale, e.size, e.mean, false, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("network returned an empty output")
	}

	rows, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read detection output")
	}
	return SplitDetections(rows)
}

// SplitDetections converts DetectionOutput rows into the default output
// layout. Boxes are reordered from [xmin, ymin, xmax, ymax] to
// [ymin, xmin, ymax, xmax]; rows with a negative image id mark padding and
// end the list.
//
// Arguments:
//   - rows: The flat DetectionOutput data, DetectionStride values per row.
//
// Returns:
//   - []inference.Tensor: Boxes, scores, classes and num_detections.
//   - error: An error if rows is not a whole number of detections.
func SplitDetections(rows []float32) ([]inference.Tensor, error) {
	if len(rows)%DetectionStride != 0 {
		return nil, errors.Errorf("detection output of %d values is not a multiple of %d", len(rows), DetectionStride)
	}

	n := len(rows) / DetectionStride
	boxes := make([]float32, 0, n*4)
	scores := make([]float32, 0, n)
	classes := make([]float32, 0, n)
	for i := 0; i < n; i++ {
		r := rows[i*DetectionStride : (i+1)*DetectionStride]
		if r[0] < 0 {
			break
		}
		classes = append(classes, r[1])
		scores = append(scores, r[2])
		boxes = append(boxes, r[4], r[3], r[6], r[5])
	}

	count := int64(len(scores))
	return []inference.Tensor{
		inference.NewDenseTensor(inference.DefaultBoxesOutput, []int64{1, count, 4}, boxes),
		inference.NewDenseTensor(inference.DefaultScoresOutput, []int64{1, count}, scores),
		inference.NewDenseTensor(inference.DefaultClassesOutput, []int64{1, count}, classes),
		inference.NewDenseTensor(inference.DefaultCountOutput, []int64{1}, []float32{float32(count)}),
	}, nil
}

// Close releases the network. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.net == nil {
		return nil
	}
	err := e.net.Close()
	e.net = nil
	return err
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
