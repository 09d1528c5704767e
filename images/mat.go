package images

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// FromMat converts a BGR gocv.Mat (as produced by gocv.VideoCapture or
// gocv.IMRead) into a height×width×3 RGB float32 frame tensor.
//
// The intermediate RGB Mat is closed before returning; the caller keeps
// ownership of mat.
//
// Arguments:
//   - mat: The 8-bit, 3-channel BGR Mat.
//
// Returns:
//   - *tensor.Dense: The frame tensor.
//   - error: An error if the Mat is empty or has an unsupported type.
func FromMat(mat gocv.Mat) (*tensor.Dense, error) {
	if mat.Empty() {
		return nil, errors.New("mat is empty")
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.Errorf("unsupported mat type %v, want CV_8UC3", mat.Type())
	}

	rgb := gocv.NewMat()
	defer rgb.Close()

	if err := gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB); err != nil {
		return nil, errors.Wrap(err, "bgr to rgb")
	}

	// The RGB Mat owns freshly allocated storage, so its bytes are contiguous.
	raw, err := rgb.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "mat data")
	}

	data := make([]float32, len(raw))
	for i, v := range raw {
		data[i] = float32(v)
	}

	return tensor.New(tensor.WithShape(rgb.Rows(), rgb.Cols(), Channels), tensor.WithBacking(data)), nil
}
