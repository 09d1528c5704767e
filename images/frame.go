// Package images - Frame conversion and resizing for detection inputs.
package images

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Channels is the number of color channels of a frame tensor.
const Channels = 3

// FromImage converts img into a height×width×3 float32 tensor holding RGB
// values in [0, 255].
//
// Arguments:
//   - img: The image to convert.
//
// Returns:
//   - *tensor.Dense: The frame tensor.
func FromImage(img image.Image) *tensor.Dense {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]float32, w*h*Channels)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data[i] = float32(r >> 8)
			data[i+1] = float32(g >> 8)
			data[i+2] = float32(b >> 8)
			i += Channels
		}
	}

	return tensor.New(tensor.WithShape(h, w, Channels), tensor.WithBacking(data))
}

// FrameSize returns the width, height and channel count of a height×width×channel
// frame tensor.
//
// Arguments:
//   - frame: The frame tensor.
//
// Returns:
//   - width, height, channels: The frame dimensions.
//   - error: An error if the tensor is not three dimensional.
func FrameSize(frame *tensor.Dense) (int, int, int, error) {
	if frame == nil {
		return 0, 0, 0, errors.New("frame is nil")
	}
	shape := frame.Shape()
	if len(shape) != 3 {
		return 0, 0, 0, errors.Errorf("frame must be height×width×channel, got shape %v", shape)
	}
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return 0, 0, 0, errors.Errorf("frame has an empty dimension: %v", shape)
	}
	return shape[1], shape[0], shape[2], nil
}

// Float32s returns the frame values as float32, converting uint8 backings.
// The returned slice is always a copy.
func Float32s(frame *tensor.Dense) ([]float32, error) {
	switch data := frame.Data().(type) {
	case []float32:
		out := make([]float32, len(data))
		copy(out, data)
		return out, nil
	case []uint8:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	case []int32:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported frame dtype %v", frame.Dtype())
	}
}

// ToImage converts a height×width×channel frame with 1, 3 or 4 channels into an
// RGBA image. Values are clamped to [0, 255].
//
// Arguments:
//   - frame: The frame tensor.
//
// Returns:
//   - *image.RGBA: The image.
//   - error: An error if the frame shape or dtype is unsupported.
func ToImage(frame *tensor.Dense) (*image.RGBA, error) {
	w, h, c, err := FrameSize(frame)
	if err != nil {
		return nil, err
	}
	if c != 1 && c != 3 && c != 4 {
		return nil, errors.Errorf("unsupported channel count %d", c)
	}

	data, err := Float32s(frame)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := (y*w + x) * c
			px := color.RGBA{A: 255}
			switch c {
			case 1:
				v := clampByte(data[o])
				px.R, px.G, px.B = v, v, v
			default:
				px.R = clampByte(data[o])
				px.G = clampByte(data[o+1])
				px.B = clampByte(data[o+2])
				if c == 4 {
					px.A = clampByte(data[o+3])
				}
			}
			img.SetRGBA(x, y, px)
		}
	}
	return img, nil
}

// Resize resamples a frame to width×height using bilinear interpolation. The
// result always has three channels.
//
// Arguments:
//   - frame: The frame tensor.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *tensor.Dense: The resized frame.
//   - error: An error if the frame cannot be converted.
func Resize(frame *tensor.Dense, width, height int) (*tensor.Dense, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid target size %dx%d", width, height)
	}
	img, err := ToImage(frame)
	if err != nil {
		return nil, errors.Wrap(err, "frame to image")
	}
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	return FromImage(resized), nil
}

func clampByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
