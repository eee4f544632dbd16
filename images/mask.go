package images

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrTileOutOfRange is returned when a mask tile does not fit in its backing buffer.
var ErrTileOutOfRange = errors.New("mask tile out of range")

// MaskTile is a read-only view of one square probability grid inside a larger
// mask tensor. The view borrows the caller's buffer: it stays valid only as
// long as that buffer is not reused. Use Clone to keep a tile longer.
type MaskTile struct {
	// Index is the flat tile index within the source tensor.
	Index int
	// Width is the number of columns of the tile.
	Width int
	// Height is the number of rows of the tile.
	Height int

	data []float32
}

// NewMaskTile returns the index-th width x height tile of buf.
//
// Arguments:
//   - buf: The flat mask tensor, tiles laid out back to back.
//   - index: The flat tile index.
//   - width: The tile width.
//   - height: The tile height.
//
// Returns:
//   - MaskTile: A bounds-checked view into buf.
//   - error: ErrTileOutOfRange if the tile lies outside buf.
func NewMaskTile(buf []float32, index, width, height int) (MaskTile, error) {
	size := width * height
	if index < 0 || size <= 0 {
		return MaskTile{}, errors.Wrapf(ErrTileOutOfRange, "index %d, size %dx%d", index, width, height)
	}

	start := index * size
	end := start + size
	if end > len(buf) {
		return MaskTile{}, errors.Wrapf(ErrTileOutOfRange,
			"tile %d needs floats [%d, %d), buffer holds %d", index, start, end, len(buf))
	}

	return MaskTile{
		Index:  index,
		Width:  width,
		Height: height,
		data:   buf[start:end:end],
	}, nil
}

// Empty reports whether the tile has no backing data.
func (m MaskTile) Empty() bool {
	return len(m.data) == 0
}

// At returns the probability at column x, row y.
func (m MaskTile) At(x, y int) float32 {
	return m.data[y*m.Width+x]
}

// Data returns the borrowed row-major probabilities of the tile.
func (m MaskTile) Data() []float32 {
	return m.data
}

// Clone returns a tile that owns a private copy of the probabilities.
func (m MaskTile) Clone() MaskTile {
	if m.data == nil {
		return m
	}
	c := m
	c.data = make([]float32, len(m.data))
	copy(c.data, m.data)
	return c
}

// Dense wraps the tile in a Height x Width tensor sharing the same backing
// memory. Writes through the tensor are visible in the source buffer.
func (m MaskTile) Dense() *tensor.Dense {
	return tensor.New(
		tensor.WithShape(m.Height, m.Width),
		tensor.WithBacking(m.data),
	)
}

// Gray renders the tile as an 8-bit grayscale image, mapping probability 1.0
// to white. Values outside [0, 1] are clamped.
func (m MaskTile) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, p := range m.data {
		img.Pix[i] = uint8(Clip(p, 0, 1)*255 + 0.5)
	}
	return img
}

// Alpha scales the tile to width x height and binarizes it: pixels whose
// interpolated probability is at least threshold are opaque, others are
// transparent.
//
// Arguments:
//   - width: The target width in pixels, usually the width of the detection box.
//   - height: The target height in pixels.
//   - threshold: The probability cut-off in [0, 1].
//
// Returns:
//   - *image.Alpha: The binary mask. Its bounds are empty when either dimension is not positive.
func (m MaskTile) Alpha(width, height int, threshold float32) *image.Alpha {
	if width <= 0 || height <= 0 || m.Empty() {
		return image.NewAlpha(image.Rectangle{})
	}

	scaled := resize.Resize(uint(width), uint(height), m.Gray(), resize.Bilinear)
	bounds := scaled.Bounds()
	cut := uint8(Clip(threshold, 0, 1)*255 + 0.5)

	out := image.NewAlpha(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.GrayModel.Convert(scaled.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			if g.Y >= cut {
				out.Pix[y*out.Stride+x] = 0xff
			}
		}
	}
	return out
}
