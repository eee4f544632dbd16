package model

import (
	"fmt"
	"image"

	"github.com/nvr-ai/go-mrcnn/images"
)

// Object is one detection in absolute pixel coordinates of the network input.
type Object struct {
	// ClassID is the class index; 0 is the background and never emitted.
	ClassID int
	// Confidence is the detection score.
	Confidence float32
	Left       float32
	Top        float32
	Width      float32
	Height     float32
	// Mask is the instance mask of the object for its own class. It may
	// borrow the buffer of the layer it was decoded from.
	Mask images.MaskTile
}

// Region returns the object geometry as an images.Region.
func (o Object) Region() images.Region {
	return images.Region{Left: o.Left, Top: o.Top, Width: o.Width, Height: o.Height}
}

// Rect converts the object geometry to an integral rectangle.
func (o Object) Rect() image.Rectangle {
	return o.Region().Rect()
}

func (o Object) String() string {
	return fmt.Sprintf("class %d (confidence %f): left=%.2f top=%.2f width=%.2f height=%.2f",
		o.ClassID, o.Confidence, o.Left, o.Top, o.Width, o.Height)
}
