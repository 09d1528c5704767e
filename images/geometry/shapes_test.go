package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIoU_Correctness validates the IoU implementation against known test cases
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Box
		r2       Box
		expected float32
	}{
		{
			name:     "Identical boxes",
			r1:       Box{0, 0, 0.5, 0.5},
			r2:       Box{0, 0, 0.5, 0.5},
			expected: 1.0,
		},
		{
			name:     "No overlap",
			r1:       Box{0, 0, 0.25, 0.25},
			r2:       Box{0.5, 0.5, 0.75, 0.75},
			expected: 0.0,
		},
		{
			name:     "Touching edges",
			r1:       Box{0, 0, 0.5, 0.5},
			r2:       Box{0, 0.5, 0.5, 1},
			expected: 0.0,
		},
		{
			name:     "Quarter offset",
			r1:       Box{0, 0, 0.5, 0.5},
			r2:       Box{0.25, 0.25, 0.75, 0.75},
			expected: 0.142857, // intersection=0.0625, union=0.4375
		},
		{
			name:     "One inside other",
			r1:       Box{0, 0, 1, 1},
			r2:       Box{0.25, 0.25, 0.75, 0.75},
			expected: 0.25,
		},
		{
			name:     "Flipped corners",
			r1:       Box{0.5, 0.5, 0, 0},
			r2:       Box{0, 0, 0.5, 0.5},
			expected: 1.0,
		},
		{
			name:     "Zero area",
			r1:       Box{0.2, 0.2, 0.2, 0.6},
			r2:       Box{0, 0, 1, 1},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CalculateIoU(tt.r1, tt.r2), 1e-4)
			// IoU(A, B) must equal IoU(B, A).
			assert.InDelta(t, CalculateIoU(tt.r1, tt.r2), CalculateIoU(tt.r2, tt.r1), 1e-6)
		})
	}
}

func TestBoxAt(t *testing.T) {
	boxes := []float32{
		0.1, 0.2, 0.3, 0.4,
		0.5, 0.6, 0.7, 0.8,
	}
	assert.Equal(t, Box{MinY: 0.5, MinX: 0.6, MaxY: 0.7, MaxX: 0.8}, BoxAt(boxes, 1))
}

func TestBoxScale(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		got := Box{MinY: 0.1, MinX: 0.2, MaxY: 0.5, MaxX: 0.6}.Scale(200, 100)
		want := [4]float32{40, 10, 80, 40}
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1e-4)
		}
	})

	t.Run("degenerate box keeps sign", func(t *testing.T) {
		got := Box{MinY: 0.5, MinX: 0.6, MaxY: 0.1, MaxX: 0.6}.Scale(100, 100)
		assert.InDelta(t, 0, got[2], 1e-4)
		assert.InDelta(t, -40, got[3], 1e-4)
	})
}

func TestBoxArea(t *testing.T) {
	assert.InDelta(t, 0.25, Box{0.5, 0.5, 0, 0}.Area(), 1e-6)
}
