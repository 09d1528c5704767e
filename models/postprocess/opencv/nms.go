// Package opencv - Non-Maximum Suppression backed by OpenCV's dnn module.
package opencv

import (
	"image"
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-helmet/images/geometry"
	"github.com/nvr-ai/go-helmet/models/postprocess"
)

// DefaultGrid is the integer resolution normalized boxes are projected onto.
const DefaultGrid = 10000

// Suppressor runs gocv.NMSBoxes over boxes projected onto an integer grid.
//
// OpenCV computes overlaps on integer rectangles, so IoU values near the
// threshold may resolve differently than with the float suppressors.
type Suppressor struct {
	// Grid is the side of the integer grid. Zero uses DefaultGrid.
	Grid int
}

func (s Suppressor) grid() float32 {
	if s.Grid > 0 {
		return float32(s.Grid)
	}
	return DefaultGrid
}

// Suppress implements postprocess.Suppressor.
//
// Arguments:
//   - boxes: Flat normalized boxes, four values per candidate.
//   - scores: One score per candidate.
//   - cfg: The NMS configuration.
//
// Returns:
//   - []int: Selected indices in selection order, at most cfg.MaxOutputs.
//   - error: If OpenCV returns an index outside the candidate range.
func (s Suppressor) Suppress(boxes, scores []float32, cfg postprocess.NMSConfig) ([]int, error) {
	n := len(scores)
	if n == 0 || cfg.MaxOutputs == 0 {
		return []int{}, nil
	}

	g := s.grid()
	rects := make([]image.Rectangle, n)
	for i := range rects {
		b := geometry.BoxAt(boxes, i).Canon()
		rects[i] = image.Rect(
			int(math32.Round(b.MinX*g)), int(math32.Round(b.MinY*g)),
			int(math32.Round(b.MaxX*g)), int(math32.Round(b.MaxY*g)),
		)
	}

	// OpenCV keeps scores strictly above its threshold.
	scoreTh := math32.Nextafter(cfg.ScoreThreshold, math32.Inf(-1))

	indices := gocv.NMSBoxes(rects, scores, scoreTh, cfg.IoUThreshold)
	for _, i := range indices {
		if i < 0 || i >= n {
			return nil, errors.Errorf("opencv selected index %d outside [0, %d)", i, n)
		}
	}

	// Restore the selection order of the float suppressors: descending score,
	// ties by ascending index.
	sort.Slice(indices, func(a, b int) bool {
		sa, sb := scores[indices[a]], scores[indices[b]]
		if sa != sb {
			return sa > sb
		}
		return indices[a] < indices[b]
	})
	if len(indices) > cfg.MaxOutputs {
		indices = indices[:cfg.MaxOutputs]
	}

	return indices, nil
}
