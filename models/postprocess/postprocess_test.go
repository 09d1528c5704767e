package postprocess

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-helmet/models"
)

// rawOf builds raw tensors from per-candidate boxes, scores and class ids.
func rawOf(width, height int, boxes [][4]float32, scores []float32, classes []float32) *RawDetectionTensors {
	flat := make([]float32, 0, len(boxes)*4)
	for _, b := range boxes {
		flat = append(flat, b[:]...)
	}
	return &RawDetectionTensors{
		Boxes:   flat,
		Scores:  scores,
		Classes: classes,
		Width:   width,
		Height:  height,
	}
}

func TestPostprocessCoordinateRoundTrip(t *testing.T) {
	raw := rawOf(200, 100,
		[][4]float32{{0.1, 0.2, 0.5, 0.6}},
		[]float32{0.9},
		[]float32{2},
	)

	objects, err := Postprocess(raw, models.DefaultRegistry(), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, objects, 1)

	want := [4]float32{40, 10, 80, 40}
	for i := range want {
		assert.InDelta(t, want[i], objects[0].BBox[i], 1e-4)
	}
	assert.Equal(t, "helmet", objects[0].Class)
	assert.Equal(t, 2, objects[0].ClassID)
	assert.InDelta(t, 0.9, objects[0].Score, 1e-6)
}

func TestPostprocessEmptyInput(t *testing.T) {
	raw := &RawDetectionTensors{Width: 300, Height: 300}

	objects, err := Postprocess(raw, models.DefaultRegistry(), DefaultOptions())
	require.NoError(t, err)
	assert.NotNil(t, objects)
	assert.Empty(t, objects)
}

func TestPostprocessSingleCandidate(t *testing.T) {
	raw := rawOf(300, 300,
		[][4]float32{{0, 0, 0.5, 0.5}},
		[]float32{0.7},
		[]float32{1},
	)

	objects, err := Postprocess(raw, models.DefaultRegistry(), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "person", objects[0].Class)
	assert.Equal(t, [4]float32{0, 0, 150, 150}, objects[0].BBox)
}

func TestPostprocessUnknownClass(t *testing.T) {
	raw := rawOf(300, 300,
		[][4]float32{{0, 0, 0.2, 0.2}, {0.5, 0.5, 0.9, 0.9}},
		[]float32{0.9, 0.8},
		[]float32{1, 999},
	)

	objects, err := Postprocess(raw, models.DefaultRegistry(), DefaultOptions())
	require.Error(t, err)
	assert.Nil(t, objects, "no partial result on an unknown class")

	var unknown *models.UnknownClassError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, 999, unknown.ID)
}

func TestPostprocessDegenerateBoxIsEmitted(t *testing.T) {
	raw := rawOf(100, 100,
		[][4]float32{{0.5, 0.6, 0.5, 0.2}},
		[]float32{0.8},
		[]float32{1},
	)

	objects, err := Postprocess(raw, models.DefaultRegistry(), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.InDelta(t, -40, objects[0].BBox[2], 1e-4)
	assert.InDelta(t, 0, objects[0].BBox[3], 1e-4)
}

func TestPostprocessShapeMismatch(t *testing.T) {
	tests := []struct {
		name string
		raw  *RawDetectionTensors
	}{
		{name: "nil", raw: nil},
		{
			name: "short boxes",
			raw:  &RawDetectionTensors{Boxes: []float32{0, 0, 1}, Scores: []float32{1}, Classes: []float32{1}, Width: 1, Height: 1},
		},
		{
			name: "extra classes",
			raw:  &RawDetectionTensors{Boxes: []float32{0, 0, 1, 1}, Scores: []float32{1}, Classes: []float32{1, 2}, Width: 1, Height: 1},
		},
		{
			name: "zero width",
			raw:  &RawDetectionTensors{Boxes: []float32{0, 0, 1, 1}, Scores: []float32{1}, Classes: []float32{1}, Height: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Postprocess(tt.raw, models.DefaultRegistry(), DefaultOptions())
			assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
		})
	}
}

func TestPostprocessInvalidThreshold(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name string
		cfg  NMSConfig
	}{
		{name: "iou above one", cfg: NMSConfig{MaxOutputs: 10, IoUThreshold: 1.1, ScoreThreshold: 0.5}},
		{name: "iou negative", cfg: NMSConfig{MaxOutputs: 10, IoUThreshold: -0.1, ScoreThreshold: 0.5}},
		{name: "iou NaN", cfg: NMSConfig{MaxOutputs: 10, IoUThreshold: nan, ScoreThreshold: 0.5}},
		{name: "score above one", cfg: NMSConfig{MaxOutputs: 10, IoUThreshold: 0.5, ScoreThreshold: 2}},
		{name: "negative max outputs", cfg: NMSConfig{MaxOutputs: -1, IoUThreshold: 0.5, ScoreThreshold: 0.5}},
	}

	// The raw tensors are also malformed: thresholds are checked first.
	raw := &RawDetectionTensors{Boxes: []float32{0}, Scores: []float32{1}, Width: 1, Height: 1}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Postprocess(raw, models.DefaultRegistry(), Options{NMSConfig: tt.cfg})
			assert.True(t, errors.Is(err, ErrInvalidThreshold), "got %v", err)
		})
	}
}

func TestPostprocessScoreThreshold(t *testing.T) {
	raw := rawOf(100, 100,
		[][4]float32{{0, 0, 0.1, 0.1}, {0.2, 0.2, 0.3, 0.3}, {0.5, 0.5, 0.6, 0.6}},
		[]float32{0.39, 0.4, 0.95},
		[]float32{1, 1, 2},
	)

	objects, err := Postprocess(raw, models.DefaultRegistry(), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.InDelta(t, 0.95, objects[0].Score, 1e-6)
	assert.InDelta(t, 0.4, objects[1].Score, 1e-6, "a score equal to the threshold is kept")
}

func TestPostprocessMaxOutputs(t *testing.T) {
	raw := rawOf(100, 100,
		[][4]float32{{0, 0, 0.1, 0.1}, {0.2, 0.2, 0.3, 0.3}, {0.5, 0.5, 0.6, 0.6}},
		[]float32{0.5, 0.6, 0.7},
		[]float32{1, 1, 1},
	)
	opts := DefaultOptions()
	opts.MaxOutputs = 2

	objects, err := Postprocess(raw, models.DefaultRegistry(), opts)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.InDelta(t, 0.7, objects[0].Score, 1e-6)
	assert.InDelta(t, 0.6, objects[1].Score, 1e-6)

	opts.MaxOutputs = 0
	objects, err = Postprocess(raw, models.DefaultRegistry(), opts)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

type stubSuppressor struct {
	keep []int
	err  error
}

func (s stubSuppressor) Suppress(_, _ []float32, _ NMSConfig) ([]int, error) {
	return s.keep, s.err
}

func TestPostprocessSuppressorContract(t *testing.T) {
	raw := rawOf(100, 100,
		[][4]float32{{0, 0, 0.1, 0.1}},
		[]float32{0.9},
		[]float32{1},
	)

	t.Run("out of range index", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Suppressor = stubSuppressor{keep: []int{3}}
		_, err := Postprocess(raw, models.DefaultRegistry(), opts)
		assert.Error(t, err)
	})

	t.Run("backend error", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Suppressor = stubSuppressor{err: errors.New("device lost")}
		_, err := Postprocess(raw, models.DefaultRegistry(), opts)
		assert.ErrorContains(t, err, "device lost")
	})

	t.Run("nil backend falls back to greedy", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Suppressor = nil
		objects, err := Postprocess(raw, models.DefaultRegistry(), opts)
		require.NoError(t, err)
		assert.Len(t, objects, 1)
	})
}

func TestDetectedObjectString(t *testing.T) {
	o := DetectedObject{BBox: [4]float32{1, 2, 3, 4}, Class: "helmet", Score: 0.5}
	assert.Equal(t, "helmet (0.500) at [1.0 2.0 3.0 4.0]", o.String())
}
