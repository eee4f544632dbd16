// Package preprocess - Converts frames into normalized network input tensors.
package preprocess

import (
	"image"
	"image/color"
	"image/draw"
	"runtime"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-mrcnn/images"
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC
)

// ColorMode defines the channel order of color images.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV and Caffe models).
	ColorModeBGR
)

// ModelConfig defines preprocessing for a network input.
//
// Each channel value x in [0, 255] is normalized as
// NetScaleFactor * (x - Offsets[c]).
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string
	// InputWidth is the expected width of the model input.
	InputWidth int
	// InputHeight is the expected height of the model input.
	InputHeight int
	// ChannelOrder defines the tensor layout (CHW or HWC).
	ChannelOrder ChannelOrder
	// ColorMode defines the channel order (RGB or BGR).
	ColorMode ColorMode
	// Offsets are subtracted per channel, in ColorMode order.
	Offsets [3]float32
	// NetScaleFactor multiplies every value after the offset is removed.
	NetScaleFactor float32
	// KeepAspectRatio if true, maintains aspect ratio with letterboxing.
	KeepAspectRatio bool
	// LetterboxColor is the color used for letterbox padding (default black).
	LetterboxColor color.Color
}

// MaskRCNNConfig returns the preprocessing of the Mask-RCNN COCO export:
// 1024x1024 RGB, CHW, mean pixel removed, no scaling.
func MaskRCNNConfig() *ModelConfig {
	return &ModelConfig{
		Name:            "maskrcnn",
		InputWidth:      1024,
		InputHeight:     1024,
		ChannelOrder:    ChannelOrderCHW,
		ColorMode:       ColorModeRGB,
		Offsets:         [3]float32{123.7, 116.8, 103.9},
		NetScaleFactor:  1,
		KeepAspectRatio: false,
		LetterboxColor:  color.Black,
	}
}

// TensorLen is the number of float32 values of one preprocessed image.
func (c *ModelConfig) TensorLen() int {
	return 3 * c.InputWidth * c.InputHeight
}

// Validate checks the configuration.
func (c *ModelConfig) Validate() error {
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.NetScaleFactor == 0 || math32.IsNaN(c.NetScaleFactor) {
		return errors.New("net scale factor must be non-zero")
	}
	return nil
}

// Result contains the preprocessed tensor and how the frame was mapped onto it.
type Result struct {
	// Data is the preprocessed float32 tensor data.
	Data []float32
	// OriginalWidth is the frame width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the frame height before preprocessing.
	OriginalHeight int
	// ScaleX is the horizontal scaling factor applied.
	ScaleX float32
	// ScaleY is the vertical scaling factor applied.
	ScaleY float32
	// PadLeft is the left padding applied for letterboxing.
	PadLeft int
	// PadTop is the top padding applied for letterboxing.
	PadTop int
	// Shape contains the tensor shape [C, H, W] or [H, W, C].
	Shape []int
}

// ToFrame maps a region in network pixels back onto the original frame.
func (r *Result) ToFrame(region images.Region) images.Region {
	out := images.Region{
		Left:   (region.Left - float32(r.PadLeft)) / r.ScaleX,
		Top:    (region.Top - float32(r.PadTop)) / r.ScaleY,
		Width:  region.Width / r.ScaleX,
		Height: region.Height / r.ScaleY,
	}
	out.Left = images.Clip(out.Left, 0, float32(r.OriginalWidth-1))
	out.Top = images.Clip(out.Top, 0, float32(r.OriginalHeight-1))
	return out
}

// Preprocessor handles image preprocessing for ONNX models.
type Preprocessor struct {
	config *ModelConfig
	logger *zap.SugaredLogger
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//   - logger: Debug logger. May be nil.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//   - error: An error if the configuration is invalid.
//
// Example:
//
// ```go
//
//	p, err := preprocess.NewPreprocessor(preprocess.MaskRCNNConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	result, err := p.Preprocess(frame)
//
// ```
func NewPreprocessor(config *ModelConfig, logger *zap.SugaredLogger) (*Preprocessor, error) {
	if config == nil {
		return nil, errors.New("preprocess config is nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.LetterboxColor == nil {
		config.LetterboxColor = color.Black
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Preprocessor{config: config, logger: logger}, nil
}

// Config returns the preprocessing configuration.
func (p *Preprocessor) Config() *ModelConfig {
	return p.config
}

// Preprocess converts img into a newly allocated tensor.
func (p *Preprocessor) Preprocess(img image.Image) (*Result, error) {
	return p.PreprocessInto(img, make([]float32, p.config.TensorLen()))
}

// PreprocessInto converts img into dst, typically the input buffer of an
// inference session.
//
// Arguments:
//   - img: The frame to convert.
//   - dst: The destination, at least TensorLen() values long.
//
// Returns:
//   - *Result: The tensor (a prefix of dst) and the frame mapping.
//   - error: An error if img is empty or dst is too short.
func (p *Preprocessor) PreprocessInto(img image.Image, dst []float32) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("image is empty")
	}
	n := p.config.TensorLen()
	if len(dst) < n {
		return nil, errors.Errorf("destination holds %d floats, want %d", len(dst), n)
	}

	bounds := img.Bounds()
	resized, scaleX, scaleY, padLeft, padTop := p.resizeImage(img)

	p.logger.Debugw("preprocessed frame",
		"model", p.config.Name,
		"width", bounds.Dx(), "height", bounds.Dy(),
		"scale_x", scaleX, "scale_y", scaleY,
		"pad_left", padLeft, "pad_top", padTop)

	data := dst[:n]
	p.imageToTensor(resized, data)

	var shape []int
	if p.config.ChannelOrder == ChannelOrderCHW {
		shape = []int{3, p.config.InputHeight, p.config.InputWidth}
	} else {
		shape = []int{p.config.InputHeight, p.config.InputWidth, 3}
	}

	return &Result{
		Data:           data,
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
		ScaleX:         scaleX,
		ScaleY:         scaleY,
		PadLeft:        padLeft,
		PadTop:         padTop,
		Shape:          shape,
	}, nil
}

// resizeImage resizes the image to the model's input dimensions.
func (p *Preprocessor) resizeImage(img image.Image) (image.Image, float32, float32, int, int) {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()
	w, h := p.config.InputWidth, p.config.InputHeight

	scaleX := float32(w) / float32(srcWidth)
	scaleY := float32(h) / float32(srcHeight)

	if !p.config.KeepAspectRatio {
		if srcWidth == w && srcHeight == h {
			return img, 1, 1, 0, 0
		}
		return resize.Resize(uint(w), uint(h), img, resize.Bilinear), scaleX, scaleY, 0, 0
	}

	scale := math32.Min(scaleX, scaleY)
	newWidth := int(float32(srcWidth) * scale)
	newHeight := int(float32(srcHeight) * scale)
	resized := resize.Resize(uint(newWidth), uint(newHeight), img, resize.Bilinear)

	padLeft := (w - newWidth) / 2
	padTop := (h - newHeight) / 2

	letterboxed := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(letterboxed, letterboxed.Bounds(), &image.Uniform{C: p.config.LetterboxColor}, image.Point{}, draw.Src)
	draw.Draw(letterboxed, image.Rect(padLeft, padTop, padLeft+newWidth, padTop+newHeight),
		resized, resized.Bounds().Min, draw.Src)

	return letterboxed, scale, scale, padLeft, padTop
}

// minRowsPerBand keeps small inputs on a single goroutine.
const minRowsPerBand = 64

// imageToTensor writes the normalized pixels of img into dst. Horizontal
// bands of rows are converted concurrently; each band writes a disjoint
// range of every plane.
func (p *Preprocessor) imageToTensor(img image.Image, dst []float32) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := width * height

	off := p.config.Offsets
	scale := p.config.NetScaleFactor
	bgr := p.config.ColorMode == ColorModeBGR
	chw := p.config.ChannelOrder == ChannelOrderCHW

	put := func(x, y int, r, g, b uint8) {
		c0, c1, c2 := r, g, b
		if bgr {
			c0, c2 = b, r
		}
		v0 := scale * (float32(c0) - off[0])
		v1 := scale * (float32(c1) - off[1])
		v2 := scale * (float32(c2) - off[2])
		if chw {
			i := y*width + x
			dst[i] = v0
			dst[plane+i] = v1
			dst[2*plane+i] = v2
			return
		}
		i := (y*width + x) * 3
		dst[i] = v0
		dst[i+1] = v1
		dst[i+2] = v2
	}

	rows := func(y0, y1 int) {
		if rgba, ok := img.(*image.RGBA); ok {
			for y := y0; y < y1; y++ {
				row := rgba.Pix[(y+bounds.Min.Y-rgba.Rect.Min.Y)*rgba.Stride+(bounds.Min.X-rgba.Rect.Min.X)*4:]
				for x := 0; x < width; x++ {
					put(x, y, row[x*4], row[x*4+1], row[x*4+2])
				}
			}
			return
		}
		for y := y0; y < y1; y++ {
			for x := 0; x < width; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				put(x, y, uint8(r>>8), uint8(g>>8), uint8(b>>8))
			}
		}
	}

	bands := bandCount(height)
	if bands == 1 {
		rows(0, height)
		return
	}

	var g errgroup.Group
	step := (height + bands - 1) / bands
	for y0 := 0; y0 < height; y0 += step {
		y0, y1 := y0, min(y0+step, height)
		g.Go(func() error {
			rows(y0, y1)
			return nil
		})
	}
	_ = g.Wait()
}

// bandCount returns how many row bands an image of the given height is split into.
func bandCount(height int) int {
	n := min(runtime.GOMAXPROCS(0), height/minRowsPerBand)
	if n < 1 {
		return 1
	}
	return n
}
