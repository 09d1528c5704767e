package onnx

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// outputTensor adapts a runtime-allocated output value to inference.Tensor.
type outputTensor struct {
	name  string
	value ort.Value
}

func (t *outputTensor) Name() string {
	return t.name
}

func (t *outputTensor) Shape() []int64 {
	if t.value == nil {
		return nil
	}
	return t.value.GetShape()
}

// Float32s returns the output data. Float32 outputs are returned without
// copying; integer outputs (some exporters emit int64 classes) are converted.
func (t *outputTensor) Float32s() ([]float32, error) {
	switch v := t.value.(type) {
	case *ort.Tensor[float32]:
		return v.GetData(), nil
	case *ort.Tensor[int64]:
		return convert(v.GetData()), nil
	case *ort.Tensor[int32]:
		return convert(v.GetData()), nil
	case *ort.Tensor[uint8]:
		return convert(v.GetData()), nil
	case nil:
		return nil, errors.Errorf("output %q was not produced", t.name)
	default:
		return nil, errors.Errorf("output %q has unsupported type %T", t.name, t.value)
	}
}

func (t *outputTensor) Release() error {
	if t.value == nil {
		return nil
	}
	err := t.value.Destroy()
	t.value = nil
	return errors.Wrapf(err, "destroy output %q", t.name)
}

func convert[T int64 | int32 | uint8](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
