// Package pipeline - Decodes an H.264 stream, runs every frame through the
// detector and hands the annotated frames to a renderer.
package pipeline

import (
	"image"
	"time"
)

// Frame is one decoded RGBA frame.
type Frame struct {
	// Seq numbers frames from 1 in decode order.
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	// Data holds Width*Height RGBA pixels, rows packed.
	Data []byte
}

// Image wraps the frame data without copying.
func (f Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Data,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Valid reports whether Data holds exactly one frame.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Data) == 4*f.Width*f.Height
}
