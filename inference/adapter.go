package inference

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-helmet/images"
	"github.com/nvr-ai/go-helmet/models/postprocess"
)

// Options configures Load.
type Options struct {
	// Model is a local path or a remote URL of the graph artifact.
	Model string
	// CacheDir is where remote artifacts are downloaded. Empty uses
	// DefaultCacheDir.
	CacheDir string
	// Open loads the resolved artifact into an engine.
	Open Opener
	// Layout names the detection outputs.
	Layout OutputLayout
	// Logger receives load, warmup and dispose events. Nil disables logging.
	Logger *zap.Logger
}

// Adapter owns a loaded graph and turns frames into raw detection tensors.
//
// RunInference may be called concurrently. Dispose waits for in-flight calls
// before releasing the engine.
type Adapter struct {
	mu        sync.RWMutex
	engine    Engine
	layout    OutputLayout
	shape     []int64
	logger    *zap.Logger
	warmupErr error
	stats     *Stats
}

// Load resolves the model artifact, opens it and runs a single warmup pass over
// an all-zero batch of the engine's input shape.
//
// A failing warmup does not fail Load: it is logged and kept for WarmupErr.
//
// Arguments:
//   - ctx: Cancels the artifact download and the warmup pass.
//   - opts: The load options.
//
// Returns:
//   - *Adapter: The loaded adapter.
//   - error: A *ModelLoadError if the artifact cannot be fetched or opened.
func Load(ctx context.Context, opts Options) (*Adapter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Open == nil {
		return nil, &ModelLoadError{Model: opts.Model, Err: errors.New("no engine opener configured")}
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, &ModelLoadError{Model: opts.Model, Err: err}
	}

	path, err := ResolveArtifact(ctx, opts.Model, opts.CacheDir)
	if err != nil {
		return nil, &ModelLoadError{Model: opts.Model, Err: err}
	}

	start := time.Now()
	engine, err := opts.Open(ctx, path)
	if err != nil {
		return nil, &ModelLoadError{Model: opts.Model, Err: err}
	}

	shape := engine.InputShape()
	if len(shape) != 4 {
		err = errors.Errorf("engine input must be NHWC, got shape %v", shape)
		return nil, &ModelLoadError{Model: opts.Model, Err: multierr.Append(err, engine.Close())}
	}

	a := &Adapter{
		engine: engine,
		layout: opts.Layout,
		shape:  shape,
		logger: logger.With(zap.String("model", path)),
		stats:  &Stats{},
	}
	a.logger.Info("model loaded",
		zap.Int64s("input_shape", shape),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := a.warmup(ctx); err != nil {
		a.warmupErr = err
		a.logger.Warn("model warmup failed", zap.Error(err))
	} else {
		a.logger.Debug("model warmup done")
	}

	return a, nil
}

// warmup runs the engine once so that lazy allocations happen at load time.
func (a *Adapter) warmup(ctx context.Context) (err error) {
	batch, err := ZeroBatch(a.shape)
	if err != nil {
		return err
	}
	outputs, err := a.engine.Execute(ctx, batch)
	defer func() { err = multierr.Append(err, release(outputs)) }()
	if err != nil {
		return errors.Wrap(err, "warmup pass")
	}
	// Reading every output forces the engine to finish the pass.
	for _, o := range outputs {
		if _, rerr := o.Float32s(); rerr != nil {
			return errors.Wrapf(rerr, "read warmup output %q", o.Name())
		}
	}
	return nil
}

// WarmupErr returns the warmup failure recorded by Load, if any.
func (a *Adapter) WarmupErr() error {
	return a.warmupErr
}

// InputShape returns the NHWC input shape of the loaded graph.
func (a *Adapter) InputShape() []int64 {
	return a.shape
}

// RunInference runs the graph over a height×width×channel frame.
//
// The frame's size is recorded in the result so boxes can be projected back
// onto it, even when the frame is resized to fit the graph input. Every output
// tensor of the pass is released before returning, on success and on failure.
//
// Arguments:
//   - ctx: Checked before execution starts.
//   - frame: The frame tensor.
//
// Returns:
//   - *postprocess.RawDetectionTensors: The raw detections of the pass.
//   - error: ErrDisposed after Dispose, postprocess.ErrShapeMismatch for
//     unusable outputs, or the engine's error.
func (a *Adapter) RunInference(ctx context.Context, frame *tensor.Dense) (raw *postprocess.RawDetectionTensors, err error) {
	if a == nil {
		return nil, ErrDisposed
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.engine == nil {
		return nil, ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h, _, err := images.FrameSize(frame)
	if err != nil {
		return nil, err
	}
	batch, err := PrepareBatch(frame, a.shape)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outputs, err := a.engine.Execute(ctx, batch)
	defer func() {
		if rerr := release(outputs); rerr != nil {
			err = multierr.Append(err, rerr)
			raw = nil
		}
	}()
	if err != nil {
		return nil, errors.Wrap(err, "execute graph")
	}
	a.stats.observe(time.Since(start))

	raw, err = a.layout.Extract(outputs)
	if err != nil {
		return nil, err
	}
	raw.Width = w
	raw.Height = h
	return raw, nil
}

// Stats returns the inference counters of the adapter.
func (a *Adapter) Stats() *Stats {
	return a.stats
}

// Dispose releases the engine. It is idempotent and safe on a nil adapter.
// Later RunInference calls fail with ErrDisposed.
func (a *Adapter) Dispose() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine == nil {
		return nil
	}

	err := a.engine.Close()
	a.engine = nil
	a.logger.Info("model disposed",
		zap.Int64("inferences", a.stats.Count()),
		zap.Duration("average", a.stats.Average()),
		zap.Error(err),
	)
	return errors.Wrap(err, "close engine")
}

// release releases every tensor, combining the errors.
func release(outputs []Tensor) error {
	var err error
	for _, o := range outputs {
		if o != nil {
			err = multierr.Append(err, o.Release())
		}
	}
	return err
}
