// Package render - Draws detected objects onto frames and writes the frames
// to a window or a video file.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-mrcnn/models"
	"github.com/nvr-ai/go-mrcnn/models/model"
)

// OverlayOptions configures an Overlay.
type OverlayOptions struct {
	// Classes names the class ids. Nil prints the numeric id.
	Classes *models.OutputClassSet
	Font    Font
	// LineThickness of the bounding boxes.
	LineThickness int
	// MaskThreshold is the probability above which a mask pixel is painted.
	MaskThreshold float32
	// MaskAlpha is the opacity of painted mask pixels. Zero disables masks.
	MaskAlpha float32
	// ClassIDs restricts drawing to these classes. Empty draws every class.
	ClassIDs []int
}

// DefaultOverlayOptions returns COCO names, a 2 pixel box and masks painted at
// half opacity above probability 0.5.
func DefaultOverlayOptions() OverlayOptions {
	return OverlayOptions{
		Classes:       &models.COCOClasses,
		Font:          DefaultFont(),
		LineThickness: 2,
		MaskThreshold: 0.5,
		MaskAlpha:     0.5,
	}
}

// Overlay draws objects onto BGR frames.
type Overlay struct {
	opts OverlayOptions
	only map[int]struct{}
}

// NewOverlay creates an overlay.
func NewOverlay(opts OverlayOptions) *Overlay {
	if opts.LineThickness <= 0 {
		opts.LineThickness = 1
	}
	if opts.Font.Scale <= 0 {
		opts.Font = DefaultFont()
	}
	o := &Overlay{opts: opts}
	if len(opts.ClassIDs) > 0 {
		o.only = make(map[int]struct{}, len(opts.ClassIDs))
		for _, id := range opts.ClassIDs {
			o.only[id] = struct{}{}
		}
	}
	return o
}

// visible returns the objects whose class is drawn.
func (o *Overlay) visible(objects []model.Object) []model.Object {
	if o.only == nil {
		return objects
	}
	out := make([]model.Object, 0, len(objects))
	for _, obj := range objects {
		if _, ok := o.only[obj.ClassID]; ok {
			out = append(out, obj)
		}
	}
	return out
}

// boxLabel defines where the label of an object is rendered.
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// Draw paints the masks, boxes and labels of objects onto img.
//
// Masks are blended first, then boxes, and labels last so that no label is
// covered by another object.
//
// Arguments:
//   - img: An 8-bit, 3 channel BGR frame.
//   - objects: Objects in pixel coordinates of img.
//
// Returns:
//   - error: An error if img is empty or not 8UC3.
func (o *Overlay) Draw(img *gocv.Mat, objects []model.Object) error {
	if img.Empty() {
		return errors.New("frame is empty")
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		return errors.Errorf("frame type %v is not 8UC3", img.Type())
	}
	objects = o.visible(objects)
	if len(objects) == 0 {
		return nil
	}

	width, height := img.Cols(), img.Rows()
	if o.opts.MaskAlpha > 0 {
		// Per-pixel access over cgo is slow: blend a copy of the bytes and
		// write it back once.
		data := img.ToBytes()
		painted := 0
		for _, obj := range objects {
			painted += o.paintMask(data, width, height, obj)
		}
		if painted > 0 {
			tmp, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, data)
			if err != nil {
				return errors.Wrap(err, "failed to copy masks back")
			}
			defer tmp.Close()
			tmp.CopyTo(img)
		}
	}

	labels := make([]boxLabel, 0, len(objects))
	for _, obj := range objects {
		clr := ClassColor(obj.ClassID)
		rect := obj.Rect()
		gocv.Rectangle(img, rect, clr, o.opts.LineThickness)

		text := o.labelText(obj)
		size := gocv.GetTextSize(text, o.opts.Font.Face, o.opts.Font.Scale, o.opts.Font.Thickness)
		box, pos := labelPlacement(rect, size, o.opts.Font.Pad)
		labels = append(labels, boxLabel{rect: box, clr: clr, text: text, textPos: pos})
	}

	for _, l := range labels {
		gocv.Rectangle(img, l.rect, l.clr, -1)
		gocv.PutTextWithParams(img, l.text, l.textPos,
			o.opts.Font.Face, o.opts.Font.Scale, textColor(l.clr), o.opts.Font.Thickness,
			o.opts.Font.LineType, false)
	}
	return nil
}

// paintMask blends the mask of obj into the BGR bytes of a width x height frame.
func (o *Overlay) paintMask(data []byte, width, height int, obj model.Object) int {
	if obj.Mask.Empty() {
		return 0
	}
	box := obj.Rect()
	if box.Intersect(image.Rect(0, 0, width, height)).Empty() {
		return 0
	}
	alpha := obj.Mask.Alpha(box.Dx(), box.Dy(), o.opts.MaskThreshold)
	return blendMask(data, width, height, box, alpha, ClassColor(obj.ClassID), o.opts.MaskAlpha)
}

func (o *Overlay) labelText(obj model.Object) string {
	name := ""
	if o.opts.Classes != nil {
		name = o.opts.Classes.Name(obj.ClassID)
	}
	if name == "" {
		name = fmt.Sprintf("class %d", obj.ClassID)
	}
	return fmt.Sprintf("%s %.2f", name, obj.Confidence)
}

// labelPlacement returns the filled label box above the top-left corner of
// rect and the baseline origin of its text. Labels that would leave the top of
// the frame are moved inside the box.
func labelPlacement(rect image.Rectangle, text image.Point, pad int) (image.Rectangle, image.Point) {
	top := rect.Min.Y - text.Y - 2*pad
	if top < 0 {
		top = rect.Min.Y
	}
	box := image.Rect(rect.Min.X, top, rect.Min.X+text.X+2*pad, top+text.Y+2*pad)
	return box, image.Pt(box.Min.X+pad, box.Max.Y-pad)
}

// blendMask paints clr with the given opacity into every opaque pixel of mask.
//
// Arguments:
//   - data: The BGR bytes of a width x height frame, modified in place.
//   - width: The frame width.
//   - height: The frame height.
//   - box: Where the mask lies in the frame. Its size matches the mask bounds.
//   - mask: The binary mask, origin at the top-left of box.
//   - clr: The paint color.
//   - opacity: The paint opacity in [0, 1].
//
// Returns:
//   - int: The number of pixels painted.
func blendMask(data []byte, width, height int, box image.Rectangle, mask *image.Alpha,
	clr color.RGBA, opacity float32) int {
	visible := box.Intersect(image.Rect(0, 0, width, height))
	mb := mask.Bounds()

	painted := 0
	for y := visible.Min.Y; y < visible.Max.Y; y++ {
		my := y - box.Min.Y + mb.Min.Y
		if my >= mb.Max.Y {
			break
		}
		for x := visible.Min.X; x < visible.Max.X; x++ {
			mx := x - box.Min.X + mb.Min.X
			if mx >= mb.Max.X {
				break
			}
			if mask.AlphaAt(mx, my).A == 0 {
				continue
			}
			p := (y*width + x) * 3
			data[p+0] = blend(data[p+0], clr.B, opacity)
			data[p+1] = blend(data[p+1], clr.G, opacity)
			data[p+2] = blend(data[p+2], clr.R, opacity)
			painted++
		}
	}
	return painted
}

func blend(dst, src uint8, alpha float32) uint8 {
	return uint8(float32(dst)*(1-alpha) + float32(src)*alpha + 0.5)
}
