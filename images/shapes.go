// Package images - Box geometry utilities for detections.
package images

import "github.com/chewxy/math32"

// Rect is a lightweight bounding box in corner form.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the rectangle, never negative.
func (r Rect) Width() float32 {
	return math32.Max(r.X2-r.X1, 0)
}

// Height returns the vertical extent of the rectangle, never negative.
func (r Rect) Height() float32 {
	return math32.Max(r.Y2-r.Y1, 0)
}

// Area returns Width * Height.
func (r Rect) Area() float32 {
	return r.Width() * r.Height()
}

// XYWH converts the rectangle into the (x, y, width, height) form used by COCO annotations.
//
// Returns:
//   - [4]float32: x1, y1, x2-x1, y2-y1.
func (r Rect) XYWH() [4]float32 {
	return [4]float32{r.X1, r.Y1, r.X2 - r.X1, r.Y2 - r.Y1}
}

// Clip clamps every coordinate into [0, width-1] x [0, height-1].
//
// Arguments:
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//
// Returns:
//   - Rect: The clipped rectangle.
func (r Rect) Clip(width, height int) Rect {
	maxX := float32(width - 1)
	maxY := float32(height - 1)
	return Rect{
		X1: clamp(r.X1, 0, maxX),
		Y1: clamp(r.Y1, 0, maxY),
		X2: clamp(r.X2, 0, maxX),
		Y2: clamp(r.Y2, 0, maxY),
	}
}

// Scale divides every coordinate by factor.
func (r Rect) Scale(factor float32) Rect {
	return Rect{X1: r.X1 / factor, Y1: r.Y1 / factor, X2: r.X2 / factor, Y2: r.Y2 / factor}
}

// IsFinite reports whether no coordinate is NaN or infinite.
func (r Rect) IsFinite() bool {
	for _, v := range [4]float32{r.X1, r.Y1, r.X2, r.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(math32.Min(v, hi), lo)
}

// CalculateIoU computes the Intersection over Union of two rectangles.
//
//	IoU = Area of Intersection / Area of Union
//
// The top-left corner of the intersection is the maximum of both top-left corners and the
// bottom-right corner the minimum of both bottom-right corners. When the resulting width or
// height is zero or negative the boxes do not overlap and 0 is returned. The union follows
// inclusion-exclusion: Area(A) + Area(B) - Area(A ∩ B).
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	iouScore := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return interArea / unionArea
}
