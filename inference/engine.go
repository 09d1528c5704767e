package inference

import (
	"context"

	"gorgonia.org/tensor"
)

// Engine executes a loaded detection graph.
//
// Implementations own the native resources behind the graph and the output
// tensors they return. Execute may be called from multiple goroutines.
type Engine interface {
	// InputShape returns the NHWC input shape, e.g. [1, 300, 300, 3]. A
	// dimension below 1 is dynamic.
	InputShape() []int64
	// Execute runs the graph over a single NHWC batch.
	Execute(ctx context.Context, batch *tensor.Dense) ([]Tensor, error)
	// Close releases the graph.
	Close() error
}

// Tensor is an engine-owned output of a single Execute call.
type Tensor interface {
	Name() string
	Shape() []int64
	// Float32s returns the tensor data. The slice is only valid until Release.
	Float32s() ([]float32, error)
	Release() error
}

// Opener loads the graph at a local path into an Engine.
type Opener func(ctx context.Context, path string) (Engine, error)

// DenseTensor is a Tensor over Go memory. Engines that copy their outputs out
// of native buffers return it; Release is a no-op.
type DenseTensor struct {
	name  string
	shape []int64
	data  []float32
}

// NewDenseTensor creates a DenseTensor.
//
// Arguments:
//   - name: The output name.
//   - shape: The tensor shape.
//   - data: The row-major data, retained without copying.
//
// Returns:
//   - *DenseTensor: The tensor.
func NewDenseTensor(name string, shape []int64, data []float32) *DenseTensor {
	return &DenseTensor{name: name, shape: shape, data: data}
}

func (t *DenseTensor) Name() string { return t.name }
func (t *DenseTensor) Shape() []int64 { return t.shape }
func (t *DenseTensor) Float32s() ([]float32, error) { return t.data, nil }
func (t *DenseTensor) Release() error { return nil }
