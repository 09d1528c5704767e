// Package geometry - Normalized box geometry for detection post-processing.
package geometry

import "github.com/chewxy/math32"

// BoxStride is the number of values describing a single box in a flat box buffer.
const BoxStride = 4

// Box is a bounding box in the normalized coordinate space emitted by SSD-style
// detection heads. Each coordinate lies in [0, 1] relative to the input height
// (Y) or width (X).
type Box struct {
	MinY, MinX, MaxY, MaxX float32
}

// BoxAt reads the i-th box out of a flat [minY, minX, maxY, maxX, ...] buffer.
//
// Arguments:
//   - boxes: The flat box buffer, BoxStride values per box.
//   - i: The index of the box to read.
//
// Returns:
//   - Box: The box at index i.
func BoxAt(boxes []float32, i int) Box {
	o := i * BoxStride
	return Box{
		MinY: boxes[o],
		MinX: boxes[o+1],
		MaxY: boxes[o+2],
		MaxX: boxes[o+3],
	}
}

// Canon returns a copy of b with its corners ordered so that Min <= Max on
// both axes.
func (b Box) Canon() Box {
	return Box{
		MinY: math32.Min(b.MinY, b.MaxY),
		MinX: math32.Min(b.MinX, b.MaxX),
		MaxY: math32.Max(b.MinY, b.MaxY),
		MaxX: math32.Max(b.MinX, b.MaxX),
	}
}

// Area returns the area of the canonical form of b.
func (b Box) Area() float32 {
	c := b.Canon()
	return (c.MaxY - c.MinY) * (c.MaxX - c.MinX)
}

// Scale projects b into pixel space and converts it to the top-left origin
// [x, y, width, height] form.
//
// The corners are not reordered: a degenerate box (MinX >= MaxX or
// MinY >= MaxY) yields a non-positive width or height.
//
// Arguments:
//   - width: The image width in pixels, applied to the X coordinates.
//   - height: The image height in pixels, applied to the Y coordinates.
//
// Returns:
//   - [4]float32: The box as x, y, width, height in pixels.
//
// Example:
//
// ```go
//
//	b := Box{MinY: 0.1, MinX: 0.2, MaxY: 0.5, MaxX: 0.6}
//	b.Scale(200, 100) // [40 10 80 40]
//
// ```
func (b Box) Scale(width, height int) [4]float32 {
	w := float32(width)
	h := float32(height)

	minX := b.MinX * w
	minY := b.MinY * h
	maxX := b.MaxX * w
	maxY := b.MaxY * h

	return [4]float32{minX, minY, maxX - minX, maxY - minY}
}

// CalculateIoU returns the Intersection over Union of two boxes, a value in
// [0, 1] measuring how much they overlap:
//
//	IoU = Area of Intersection / Area of Union
//
// A value of 1.0 means the boxes are identical and 0.0 means they do not
// overlap at all.
//
// Both boxes are canonicalized first, so flipped corners are tolerated. The
// intersection rectangle is bounded by the maximum of the two minimum corners
// and the minimum of the two maximum corners; if either side is not positive
// the boxes are disjoint. The union follows inclusion-exclusion:
//
//	Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
//
// A box with zero area never overlaps anything and yields 0.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float32: The IoU score in [0, 1].
//
// Example:
//
// ```go
//
//	a := Box{MinY: 0, MinX: 0, MaxY: 0.5, MaxX: 0.5}
//	b := Box{MinY: 0.25, MinX: 0.25, MaxY: 0.75, MaxX: 0.75}
//
//	CalculateIoU(a, b) // intersection 0.0625, union 0.4375, IoU 0.142857
//
// ```
func CalculateIoU(r, o Box) float32 {
	r = r.Canon()
	o = o.Canon()

	areaR := (r.MaxY - r.MinY) * (r.MaxX - r.MinX)
	areaO := (o.MaxY - o.MinY) * (o.MaxX - o.MinX)
	if areaR <= 0 || areaO <= 0 {
		return 0
	}

	interH := math32.Min(r.MaxY, o.MaxY) - math32.Max(r.MinY, o.MinY)
	interW := math32.Min(r.MaxX, o.MaxX) - math32.Max(r.MinX, o.MinX)
	if interH <= 0 || interW <= 0 {
		return 0
	}

	interArea := interH * interW
	return interArea / (areaR + areaO - interArea)
}
