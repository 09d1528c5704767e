package postprocess

import "github.com/pkg/errors"

var (
	// ErrShapeMismatch is returned when the raw buffers are inconsistent with a
	// shared candidate count, which means the model is incompatible.
	ErrShapeMismatch = errors.New("raw detection tensors shape mismatch")

	// ErrInvalidThreshold is returned when a caller supplied threshold or
	// output limit is out of range.
	ErrInvalidThreshold = errors.New("invalid threshold")
)
