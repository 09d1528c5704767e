// Package inference - This file provides common utilities for inference tasks.
package inference

import "github.com/pkg/errors"

// InputType is the element type a graph expects for its image input.
type InputType string

// InputType constants are the supported input element types.
const (
	InputFloat32 InputType = "float32"
	InputUint8   InputType = "uint8"
)

// Normalization is the pixel scaling applied before a float32 input is fed.
type Normalization string

// Normalization constants. Pixels start in [0, 255].
const (
	NormalizeNone      Normalization = "none"
	NormalizeUnit      Normalization = "unit"
	NormalizeSymmetric Normalization = "symmetric"
)

// Validate checks the input type.
func (t InputType) Validate() error {
	switch t {
	case "", InputFloat32, InputUint8:
		return nil
	}
	return errors.Errorf("unsupported input type %q", t)
}

// Validate checks the normalization mode.
func (n Normalization) Validate() error {
	switch n {
	case "", NormalizeNone, NormalizeUnit, NormalizeSymmetric:
		return nil
	}
	return errors.Errorf("unsupported normalization %q", n)
}

// Apply scales pixel values in place: none keeps [0, 255], unit maps to
// [0, 1] and symmetric maps to [-1, 1].
func (n Normalization) Apply(data []float32) {
	switch n {
	case NormalizeUnit:
		for i, v := range data {
			data[i] = v / 255
		}
	case NormalizeSymmetric:
		for i, v := range data {
			data[i] = v/127.5 - 1
		}
	}
}
