package inference

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-helmet/images"
)

// PrepareBatch turns a height×width×channel frame into the single-element
// NHWC float32 batch described by shape.
//
// The frame is resized when its size differs from a static input size. A
// dimension below 1 in shape is dynamic and takes the frame's size. The
// frame itself is never modified.
//
// Arguments:
//   - frame: The frame tensor.
//   - shape: The engine input shape, [N, H, W, C].
//
// Returns:
//   - *tensor.Dense: A [1, H, W, C] float32 batch.
//   - error: An error if the frame or shape is unusable.
func PrepareBatch(frame *tensor.Dense, shape []int64) (*tensor.Dense, error) {
	if len(shape) != 4 {
		return nil, errors.Errorf("input shape must be NHWC, got %v", shape)
	}

	w, h, c, err := images.FrameSize(frame)
	if err != nil {
		return nil, err
	}

	inH, inW, inC := int(shape[1]), int(shape[2]), int(shape[3])
	if inH < 1 {
		inH = h
	}
	if inW < 1 {
		inW = w
	}
	if inC < 1 {
		inC = c
	}

	if inW != w || inH != h || inC != c {
		if inC != images.Channels {
			return nil, errors.Errorf("cannot convert a %d channel frame to %d channels", c, inC)
		}
		if frame, err = images.Resize(frame, inW, inH); err != nil {
			return nil, errors.Wrap(err, "resize frame")
		}
	}

	data, err := images.Float32s(frame)
	if err != nil {
		return nil, err
	}

	return tensor.New(tensor.WithShape(1, inH, inW, inC), tensor.WithBacking(data)), nil
}

// ZeroBatch returns an all-zero float32 batch of the given NHWC shape. Dynamic
// dimensions default to the 300×300×3 SSD input.
func ZeroBatch(shape []int64) (*tensor.Dense, error) {
	if len(shape) != 4 {
		return nil, errors.Errorf("input shape must be NHWC, got %v", shape)
	}
	defaults := [4]int{1, 300, 300, images.Channels}
	dims := make([]int, 4)
	for i, d := range shape {
		dims[i] = int(d)
		if d < 1 {
			dims[i] = defaults[i]
		}
	}
	dims[0] = 1
	return tensor.New(tensor.WithShape(dims...), tensor.Of(tensor.Float32)), nil
}
