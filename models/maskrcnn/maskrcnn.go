// Package maskrcnn - Output decoding for Mask-RCNN instance segmentation networks.
//
// The network emits two tensors per image:
//
//   - mrcnn_detection:    [DetectionMaxInstances][6] float32, each record being
//     {y1, x1, y2, x2, class_id, score} in normalized coordinates.
//   - mrcnn_mask/Sigmoid: [DetectionMaxInstances][NumClasses][MaskSize][MaskSize]
//     float32 per-pixel probabilities.
//
// The upstream network already performs non-max suppression, so decoding is a
// single bounded pass over the candidate slots.
package maskrcnn

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// DetectionMaxInstances is the fixed number of candidate slots per image.
	DetectionMaxInstances = 100
	// NumClasses is the number of classes, background at index 0 included.
	NumClasses = 81
	// MaskPoolSize is the ROI pool size of the mask head.
	MaskPoolSize = 14
	// MaskSize is the side of a mask tile.
	MaskSize = 2 * MaskPoolSize
	// MaskTileLen is the number of float32 values in one mask tile.
	MaskTileLen = MaskSize * MaskSize

	// InputWidth is the width of the network input.
	InputWidth = 1024
	// InputHeight is the height of the network input.
	InputHeight = 1024
	// InputChannels is the channel count of the network input.
	InputChannels = 3

	// DetectionFields is the number of float32 values in a RawDetection.
	DetectionFields = 6

	// DetectionLayerName is the name of the detection output layer.
	DetectionLayerName = "mrcnn_detection"
	// MaskLayerName is the name of the mask output layer.
	MaskLayerName = "mrcnn_mask/Sigmoid"
	// InputLayerName is the name of the image input of the exported network.
	InputLayerName = "input_image"
)

var (
	// ErrBufferTooSmall is returned when a tensor buffer holds fewer values than
	// its fixed shape requires.
	ErrBufferTooSmall = errors.New("buffer too small")
	// ErrLayerNotFound is returned when a required output layer is missing.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrInputNotSquare is returned when the configured network input is not square.
	ErrInputNotSquare = errors.New("network input is not square")
)

// Params describes the fixed geometry of a Mask-RCNN export.
type Params struct {
	MaxInstances int
	NumClasses   int
	MaskSize     int
	InputWidth   int
	InputHeight  int
	// DetectionLayer is the name of the detection output layer.
	DetectionLayer string
	// MaskLayer is the name of the mask output layer.
	MaskLayer string
}

// COCOParams returns the parameters of the Matterport Mask-RCNN COCO export.
func COCOParams() Params {
	return Params{
		MaxInstances:   DetectionMaxInstances,
		NumClasses:     NumClasses,
		MaskSize:       MaskSize,
		InputWidth:     InputWidth,
		InputHeight:    InputHeight,
		DetectionLayer: DetectionLayerName,
		MaskLayer:      MaskLayerName,
	}
}

// Validate checks that the parameters describe a usable network.
func (p Params) Validate() error {
	if p.MaxInstances <= 0 || p.NumClasses <= 1 || p.MaskSize <= 0 {
		return fmt.Errorf("invalid mask-rcnn params: instances=%d classes=%d mask=%d",
			p.MaxInstances, p.NumClasses, p.MaskSize)
	}
	if p.InputWidth <= 0 || p.InputHeight <= 0 {
		return fmt.Errorf("invalid mask-rcnn input: %dx%d", p.InputWidth, p.InputHeight)
	}
	if p.InputWidth != p.InputHeight {
		return errors.Wrapf(ErrInputNotSquare, "%dx%d", p.InputWidth, p.InputHeight)
	}
	if p.DetectionLayer == "" || p.MaskLayer == "" {
		return errors.New("mask-rcnn layer names must be set")
	}
	return nil
}

// DetectionShape is the shape of the detection tensor, batch first.
func (p Params) DetectionShape() tensor.Shape {
	return tensor.Shape{1, p.MaxInstances, DetectionFields}
}

// MaskShape is the shape of the mask tensor, batch first.
func (p Params) MaskShape() tensor.Shape {
	return tensor.Shape{1, p.MaxInstances, p.NumClasses, p.MaskSize, p.MaskSize}
}

// InputShape is the NCHW shape of the image input.
func (p Params) InputShape() tensor.Shape {
	return tensor.Shape{1, InputChannels, p.InputHeight, p.InputWidth}
}

func (p Params) detectionLen() int {
	return p.MaxInstances * DetectionFields
}

func (p Params) maskTileLen() int {
	return p.MaskSize * p.MaskSize
}

func (p Params) maskLen() int {
	return p.MaxInstances * p.NumClasses * p.maskTileLen()
}
