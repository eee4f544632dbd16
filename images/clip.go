package images

import "github.com/chewxy/math32"

// ClipMode selects how a normalized box is fitted into the pixel grid.
type ClipMode int

const (
	// ClipToFrame clamps both edges of the box to [0, dim-1] and derives the
	// size from the clamped edges, so a box never extends past the last pixel.
	ClipToFrame ClipMode = iota
	// ClipPerComponent clamps the origin and the size independently to
	// [0, dim-1]. A box that starts inside the frame may end outside it.
	ClipPerComponent
)

func (m ClipMode) String() string {
	switch m {
	case ClipToFrame:
		return "frame"
	case ClipPerComponent:
		return "component"
	default:
		return "unknown"
	}
}

// Clip clamps v to the closed interval [lo, hi].
func Clip(v, lo, hi float32) float32 {
	return math32.Max(math32.Min(v, hi), lo)
}

// ToPixels projects a normalized box onto a width x height pixel grid.
//
// Arguments:
//   - box: The normalized box.
//   - width: The width of the pixel grid.
//   - height: The height of the pixel grid.
//   - mode: How the box is clipped to the grid.
//
// Returns:
//   - Region: The box in absolute pixels, clipped to the grid.
//
// Example:
//
//	r := ToPixels(Box{X1: 0.5, Y1: 0.5, X2: 1.2, Y2: 1.2}, 1024, 1024, ClipToFrame)
//	// r == Region{Left: 512, Top: 512, Width: 511, Height: 511}
func ToPixels(box Box, width, height int, mode ClipMode) Region {
	w := float32(width)
	h := float32(height)
	maxX := w - 1
	maxY := h - 1

	left := Clip(box.X1*w, 0, maxX)
	top := Clip(box.Y1*h, 0, maxY)

	if mode == ClipPerComponent {
		return Region{
			Left:   left,
			Top:    top,
			Width:  Clip(box.Width()*w, 0, maxX),
			Height: Clip(box.Height()*h, 0, maxY),
		}
	}

	right := Clip(box.X2*w, 0, maxX)
	bottom := Clip(box.Y2*h, 0, maxY)

	return Region{
		Left:   left,
		Top:    top,
		Width:  Clip(right-left, 0, maxX),
		Height: Clip(bottom-top, 0, maxY),
	}
}
