package detector

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-helmet/images"
	"github.com/nvr-ai/go-helmet/inference"
	"github.com/nvr-ai/go-helmet/inference/onnx"
	dnn "github.com/nvr-ai/go-helmet/inference/opencv"
	"github.com/nvr-ai/go-helmet/inference/tflite"
	"github.com/nvr-ai/go-helmet/models"
	"github.com/nvr-ai/go-helmet/models/postprocess"
)

// DetectedObject is a single detection in pixel space.
type DetectedObject = postprocess.DetectedObject

// Model is a loaded helmet detector. Its methods are safe for concurrent use.
type Model struct {
	adapter *inference.Adapter
	classes *models.Registry
	opts    postprocess.Options
	logger  *zap.Logger
}

// Load validates cfg, loads the graph and warms it up.
//
// Arguments:
//   - ctx: Cancels the artifact download and the warmup pass.
//   - cfg: The detector configuration.
//
// Returns:
//   - *Model: The loaded model.
//   - error: postprocess.ErrInvalidThreshold for bad thresholds, a
//     *inference.ModelLoadError if the graph cannot be loaded, or a
//     configuration error.
//
// Example:
//
// ```go
//
//	cfg := detector.DefaultConfig()
//	cfg.Model = "./assets/helmet.onnx"
//
//	model, err := detector.Load(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer model.Dispose()
//
//	objects, err := model.DetectImage(ctx, img)
//
// ```
func Load(ctx context.Context, cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	classes, err := cfg.Registry()
	if err != nil {
		return nil, errors.Wrap(err, "class registry")
	}

	open, err := cfg.opener()
	if err != nil {
		return nil, err
	}

	adapter, err := inference.Load(ctx, inference.Options{
		Model:    cfg.Model,
		CacheDir: cfg.CacheDir,
		Open:     open,
		Layout:   cfg.OutputLayout(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &Model{
		adapter: adapter,
		classes: classes,
		opts: postprocess.Options{
			NMSConfig:  cfg.NMSConfig,
			Suppressor: cfg.Suppressor(),
		},
		logger: logger,
	}, nil
}

func (c Config) opener() (inference.Opener, error) {
	if c.Open != nil {
		return c.Open, nil
	}

	engine, err := inference.ParseEngineType(string(c.Engine))
	if err != nil {
		return nil, err
	}

	switch engine {
	case inference.EngineOpenCV:
		opts := c.DNN
		if opts.Normalize == "" {
			opts.Normalize = c.Input.Normalize
		}
		return dnn.NewOpener(opts), nil
	case inference.EngineTFLite:
		return tflite.NewOpener(tflite.Options{
			Threads:     c.Threads,
			OutputNames: c.OutputOrder,
			Normalize:   c.Input.Normalize,
		}), nil
	default:
		return onnx.NewOpener(onnx.Options{
			Layout:        c.Outputs,
			InputType:     c.Input.Type,
			Normalize:     c.Input.Normalize,
			Provider:      c.Provider,
			SharedLibrary: c.SharedLibrary,
		}), nil
	}
}

// Detect runs detection over a height×width×channel frame with RGB values in
// [0, 255]. Boxes are in the frame's pixel space.
//
// A failed call leaves the model usable.
//
// Arguments:
//   - ctx: Checked before the graph runs.
//   - frame: The frame tensor.
//
// Returns:
//   - []DetectedObject: The detections in selection order.
//   - error: inference.ErrDisposed after Dispose, or an inference or
//     post-processing error.
func (m *Model) Detect(ctx context.Context, frame *tensor.Dense) ([]DetectedObject, error) {
	start := time.Now()

	raw, err := m.adapter.RunInference(ctx, frame)
	if err != nil {
		return nil, err
	}

	objects, err := postprocess.Postprocess(raw, m.classes, m.opts)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("detection done",
		zap.Int("candidates", raw.Len()),
		zap.Int("detections", len(objects)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return objects, nil
}

// DetectImage runs Detect over a decoded image.
func (m *Model) DetectImage(ctx context.Context, img image.Image) ([]DetectedObject, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	return m.Detect(ctx, images.FromImage(img))
}

// DetectMat runs Detect over a BGR gocv.Mat, e.g. a frame read from
// gocv.VideoCapture. The caller keeps ownership of mat.
func (m *Model) DetectMat(ctx context.Context, mat gocv.Mat) ([]DetectedObject, error) {
	frame, err := images.FromMat(mat)
	if err != nil {
		return nil, err
	}
	return m.Detect(ctx, frame)
}

// Classes returns the class registry used to label detections.
func (m *Model) Classes() *models.Registry {
	return m.classes
}

// WarmupErr returns the warmup failure recorded at load time, if any.
func (m *Model) WarmupErr() error {
	return m.adapter.WarmupErr()
}

// Stats returns the inference counters of the model.
func (m *Model) Stats() *inference.Stats {
	return m.adapter.Stats()
}

// Dispose releases the graph. It is idempotent and safe on a nil model.
func (m *Model) Dispose() error {
	if m == nil {
		return nil
	}
	return m.adapter.Dispose()
}
