// Package postprocess - Postprocessing of raw detection tensors into labeled boxes.
package postprocess

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-helmet/images/geometry"
)

// RawDetectionTensors holds the four buffers extracted from a single inference
// pass. They are transient: consumed by Postprocess and never retained.
type RawDetectionTensors struct {
	// Boxes holds N boxes as [minY, minX, maxY, maxX] in [0, 1].
	Boxes []float32
	// Scores holds one confidence per box.
	Scores []float32
	// Classes holds one class id per box.
	Classes []float32
	// Width is the source image width in pixels.
	Width int
	// Height is the source image height in pixels.
	Height int
}

// Len returns the number of candidate boxes N.
func (r *RawDetectionTensors) Len() int {
	return len(r.Scores)
}

// Validate checks that the buffers agree on a shared N and that the image
// size is usable for rescaling.
//
// Returns:
//   - error: ErrShapeMismatch (wrapped) describing the first inconsistency.
func (r *RawDetectionTensors) Validate() error {
	if r == nil {
		return errors.Wrap(ErrShapeMismatch, "raw tensors are nil")
	}
	n := len(r.Scores)
	if len(r.Boxes) != geometry.BoxStride*n {
		return errors.Wrapf(ErrShapeMismatch, "boxes has %d values, want %d for %d scores",
			len(r.Boxes), geometry.BoxStride*n, n)
	}
	if len(r.Classes) != n {
		return errors.Wrapf(ErrShapeMismatch, "classes has %d values, want %d", len(r.Classes), n)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return errors.Wrapf(ErrShapeMismatch, "invalid image size %dx%d", r.Width, r.Height)
	}
	return nil
}

// ClassID converts a raw class value to an integer id.
func ClassID(v float32) int {
	return int(math32.Round(v))
}

// DetectedObject is a single caller-facing detection.
type DetectedObject struct {
	// BBox is [x, y, width, height] in pixels with a top-left origin.
	BBox [4]float32 `json:"bbox" yaml:"bbox"`
	// Class is the display label of the detected class.
	Class string `json:"class" yaml:"class"`
	// ClassID is the id emitted by the model.
	ClassID int `json:"class_id" yaml:"class_id"`
	// Score is the detection confidence.
	Score float32 `json:"score" yaml:"score"`
}

// NewDetectedObject builds a DetectedObject from a normalized box projected
// into a width×height image.
func NewDetectedObject(box geometry.Box, width, height int, class string, classID int, score float32) DetectedObject {
	return DetectedObject{
		BBox:    box.Scale(width, height),
		Class:   class,
		ClassID: classID,
		Score:   score,
	}
}

func (d DetectedObject) String() string {
	return fmt.Sprintf("%s (%.3f) at [%.1f %.1f %.1f %.1f]",
		d.Class, d.Score, d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
}
