package postprocess

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-helmet/images/geometry"
)

// Default post-processing parameters.
const (
	DefaultMaxOutputs     = 100
	DefaultIoUThreshold   = 0.4
	DefaultScoreThreshold = 0.4
)

// Resolver maps a class id emitted by the model to its display label.
type Resolver interface {
	Resolve(id int) (string, error)
}

// Options configures a single Postprocess invocation.
type Options struct {
	NMSConfig
	// Suppressor is the suppression backend. Nil selects GreedySuppressor.
	Suppressor Suppressor
}

// DefaultOptions returns the default post-processing options.
func DefaultOptions() Options {
	return Options{
		NMSConfig: NMSConfig{
			MaxOutputs:     DefaultMaxOutputs,
			IoUThreshold:   DefaultIoUThreshold,
			ScoreThreshold: DefaultScoreThreshold,
		},
		Suppressor: GreedySuppressor{},
	}
}

// Validate checks the thresholds and output limit.
//
// Returns:
//   - error: ErrInvalidThreshold (wrapped) if a value is out of range.
func (c NMSConfig) Validate() error {
	if !inUnitInterval(c.IoUThreshold) {
		return errors.Wrapf(ErrInvalidThreshold, "iou threshold %v outside [0, 1]", c.IoUThreshold)
	}
	if !inUnitInterval(c.ScoreThreshold) {
		return errors.Wrapf(ErrInvalidThreshold, "score threshold %v outside [0, 1]", c.ScoreThreshold)
	}
	if c.MaxOutputs < 0 {
		return errors.Wrapf(ErrInvalidThreshold, "max outputs %d is negative", c.MaxOutputs)
	}
	return nil
}

// inUnitInterval reports whether v lies in [0, 1]. NaN does not.
func inUnitInterval(v float32) bool {
	return v >= 0 && v <= 1
}

// Postprocess turns the raw tensors of one inference pass into the final
// detection list: greedy suppression over the normalized boxes, rescaling of
// the survivors to pixel space, then label resolution.
//
// The result is in selection order. Degenerate boxes are kept with a
// non-positive width or height. If any surviving class id fails to resolve
// no partial result is returned.
//
// Arguments:
//   - raw: The raw tensors of a single inference pass.
//   - classes: The class registry.
//   - opts: Thresholds, output limit and suppression backend.
//
// Returns:
//   - []DetectedObject: The detections, never nil on success.
//   - error: ErrInvalidThreshold, ErrShapeMismatch, or the resolver's error.
//
// Example:
//
// ```go
//
//	objects, err := postprocess.Postprocess(raw, models.DefaultRegistry(), postprocess.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	for _, o := range objects {
//	    fmt.Println(o)
//	}
//
// ```
func Postprocess(raw *RawDetectionTensors, classes Resolver, opts Options) ([]DetectedObject, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	suppressor := opts.Suppressor
	if suppressor == nil {
		suppressor = GreedySuppressor{}
	}

	keep, err := suppressor.Suppress(raw.Boxes, raw.Scores, opts.NMSConfig)
	if err != nil {
		return nil, errors.Wrap(err, "non-maximum suppression")
	}
	if len(keep) > opts.MaxOutputs {
		keep = keep[:opts.MaxOutputs]
	}

	n := raw.Len()
	objects := make([]DetectedObject, 0, len(keep))
	for _, i := range keep {
		if i < 0 || i >= n {
			return nil, errors.Errorf("suppression selected index %d outside [0, %d)", i, n)
		}

		id := ClassID(raw.Classes[i])
		label, err := classes.Resolve(id)
		if err != nil {
			return nil, err
		}

		objects = append(objects, NewDetectedObject(
			geometry.BoxAt(raw.Boxes, i), raw.Width, raw.Height, label, id, raw.Scores[i],
		))
	}

	return objects, nil
}
