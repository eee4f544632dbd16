package render

import (
	"gocv.io/x/gocv"
)

// Font defines how labels are written with OpenCV.
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Thickness int
	LineType  gocv.LineType
	// Padding around the text inside the label box.
	Pad int
}

// DefaultFont returns the default label font.
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.5,
		Thickness: 1,
		LineType:  gocv.LineAA,
		Pad:       4,
	}
}
