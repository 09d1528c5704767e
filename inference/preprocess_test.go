package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestPrepareBatch(t *testing.T) {
	frame := tensor.New(tensor.WithShape(2, 2, 3), tensor.WithBacking([]uint8{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}))

	batch, err := PrepareBatch(frame, []int64{1, 2, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2, 3}, batch.Shape())
	assert.Equal(t, float32(12), batch.Data().([]float32)[11])
}

func TestPrepareBatchResizes(t *testing.T) {
	frame := tensor.New(tensor.WithShape(10, 20, 3), tensor.Of(tensor.Float32))

	batch, err := PrepareBatch(frame, []int64{1, 6, 8, 3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 6, 8, 3}, batch.Shape())
	assert.Equal(t, tensor.Shape{10, 20, 3}, frame.Shape(), "the frame is not modified")
}

func TestPrepareBatchDynamic(t *testing.T) {
	frame := tensor.New(tensor.WithShape(5, 7, 3), tensor.Of(tensor.Float32))

	batch, err := PrepareBatch(frame, []int64{-1, -1, -1, 3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 5, 7, 3}, batch.Shape())
}

func TestPrepareBatchErrors(t *testing.T) {
	frame := tensor.New(tensor.WithShape(5, 7, 3), tensor.Of(tensor.Float32))

	_, err := PrepareBatch(frame, []int64{1, 3, 300, 300})
	assert.Error(t, err)

	_, err = PrepareBatch(frame, []int64{1, 300, 300})
	assert.Error(t, err)

	_, err = PrepareBatch(tensor.New(tensor.WithShape(5, 7), tensor.Of(tensor.Float32)), []int64{1, 5, 7, 3})
	assert.Error(t, err)
}

func TestZeroBatch(t *testing.T) {
	batch, err := ZeroBatch([]int64{-1, 300, 300, 3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 300, 300, 3}, batch.Shape())
	for _, v := range batch.Data().([]float32) {
		require.Zero(t, v)
	}
}

func TestNormalization(t *testing.T) {
	data := []float32{0, 127.5, 255}
	NormalizeUnit.Apply(data)
	assert.InDeltaSlice(t, []float32{0, 0.5, 1}, data, 1e-6)

	data = []float32{0, 127.5, 255}
	NormalizeSymmetric.Apply(data)
	assert.InDeltaSlice(t, []float32{-1, 0, 1}, data, 1e-6)

	data = []float32{0, 127.5, 255}
	NormalizeNone.Apply(data)
	assert.Equal(t, []float32{0, 127.5, 255}, data)

	assert.Error(t, Normalization("zscore").Validate())
	assert.Error(t, InputType("int64").Validate())
}
