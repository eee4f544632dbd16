// Package images - Geometry and mask helpers shared by the decoder and the renderer.
package images

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Box is an axis-aligned rectangle in normalized image coordinates, where
// (0, 0) is the top-left corner and (1, 1) the bottom-right corner of the
// network input.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float32 {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box.
func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Valid reports whether the box has a strictly positive extent on both axes.
//
// NaN coordinates never compare greater, so a box carrying NaN is invalid.
func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Finite reports whether all four coordinates are finite numbers.
func (b Box) Finite() bool {
	for _, v := range [...]float32{b.X1, b.Y1, b.X2, b.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (b Box) String() string {
	return fmt.Sprintf("(%.4f, %.4f), (%.4f, %.4f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Region is a box expressed in absolute pixels as an origin plus a size.
type Region struct {
	Left, Top, Width, Height float32
}

// Right returns the x coordinate of the right edge.
func (r Region) Right() float32 {
	return r.Left + r.Width
}

// Bottom returns the y coordinate of the bottom edge.
func (r Region) Bottom() float32 {
	return r.Top + r.Height
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Scale returns the region with its horizontal components multiplied by sx
// and its vertical components multiplied by sy.
func (r Region) Scale(sx, sy float32) Region {
	return Region{
		Left:   r.Left * sx,
		Top:    r.Top * sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}
}

// Rect converts the region to an integral rectangle by flooring the origin and
// the size. Fractional pixels around the edges are lost.
func (r Region) Rect() image.Rectangle {
	x := int(math32.Floor(r.Left))
	y := int(math32.Floor(r.Top))
	return image.Rect(x, y,
		x+int(math32.Floor(r.Width)),
		y+int(math32.Floor(r.Height)),
	).Canon()
}
