package maskrcnn

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-mrcnn/images"
)

// RawDetection is one candidate slot of the detection tensor.
type RawDetection struct {
	Y1      float32
	X1      float32
	Y2      float32
	X2      float32
	ClassID float32
	Score   float32
}

// Box returns the normalized box of the candidate.
func (r RawDetection) Box() images.Box {
	return images.Box{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2}
}

// Label returns floor(ClassID). ok is false when ClassID is not a finite number.
func (r RawDetection) Label() (label int, ok bool) {
	if math32.IsNaN(r.ClassID) || math32.IsInf(r.ClassID, 0) {
		return 0, false
	}
	return int(math32.Floor(r.ClassID)), true
}

// ReadRawDetection reads the i-th record of a detection tensor.
func ReadRawDetection(buf []float32, i int) (RawDetection, error) {
	start := i * DetectionFields
	if i < 0 || start+DetectionFields > len(buf) {
		return RawDetection{}, errors.Wrapf(ErrBufferTooSmall,
			"detection %d needs floats [%d, %d), buffer holds %d", i, start, start+DetectionFields, len(buf))
	}
	rec := buf[start : start+DetectionFields]
	return RawDetection{
		Y1:      rec[0],
		X1:      rec[1],
		Y2:      rec[2],
		X2:      rec[3],
		ClassID: rec[4],
		Score:   rec[5],
	}, nil
}

// Detection is a kept candidate in normalized coordinates.
type Detection struct {
	// Index is the candidate slot the detection was read from.
	Index int
	// Label is the class index, always in [1, NumClasses).
	Label int
	// Confidence is the raw score of the candidate.
	Confidence float32
	// Box is the normalized box, X2 > X1 and Y2 > Y1.
	Box images.Box
	// Mask borrows the mask tile of this candidate for its own label.
	Mask images.MaskTile
}

// DecodeStats counts why candidates were dropped.
type DecodeStats struct {
	Kept       int
	Background int
	// Invalid counts candidates whose class id is negative, not a number or
	// beyond the class count.
	Invalid    int
	Degenerate int
}

func (s DecodeStats) String() string {
	return fmt.Sprintf("kept=%d background=%d invalid=%d degenerate=%d",
		s.Kept, s.Background, s.Invalid, s.Degenerate)
}

// Decoder turns detection and mask tensors into Detections. It holds no
// mutable state and is safe for concurrent use.
type Decoder struct {
	params Params
}

// NewDecoder returns a decoder for the given network geometry.
//
// Arguments:
//   - params: The network geometry, usually COCOParams().
//
// Returns:
//   - *Decoder: The decoder.
//   - error: An error if the parameters are invalid or the input is not square.
//
// Example:
//
// ```go
//
//	dec, err := maskrcnn.NewDecoder(maskrcnn.COCOParams())
//	if err != nil {
//	    return err
//	}
//	detections, err := dec.Decode(detectionData, maskData)
//
// ```
func NewDecoder(params Params) (*Decoder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{params: params}, nil
}

// Params returns the geometry of the decoder.
func (d *Decoder) Params() Params {
	return d.params
}

// Decode returns the kept candidates in slot order.
//
// Arguments:
//   - detections: The detection tensor, MaxInstances x 6 float32.
//   - masks: The mask tensor, MaxInstances x NumClasses x MaskSize x MaskSize float32.
//
// Returns:
//   - []Detection: The kept candidates. Masks borrow the masks buffer.
//   - error: ErrBufferTooSmall if a buffer is shorter than its shape.
func (d *Decoder) Decode(detections, masks []float32) ([]Detection, error) {
	out, _, err := d.DecodeWithStats(detections, masks)
	return out, err
}

// DecodeWithStats is Decode that also reports why candidates were dropped.
func (d *Decoder) DecodeWithStats(detections, masks []float32) ([]Detection, DecodeStats, error) {
	var stats DecodeStats

	if want := d.params.detectionLen(); len(detections) < want {
		return nil, stats, errors.Wrapf(ErrBufferTooSmall,
			"detection tensor holds %d floats, want %d", len(detections), want)
	}
	if want := d.params.maskLen(); len(masks) < want {
		return nil, stats, errors.Wrapf(ErrBufferTooSmall,
			"mask tensor holds %d floats, want %d", len(masks), want)
	}

	var out []Detection
	for i := 0; i < d.params.MaxInstances; i++ {
		raw, err := ReadRawDetection(detections, i)
		if err != nil {
			return nil, stats, err
		}

		label, ok := raw.Label()
		switch {
		case !ok || label < 0 || label >= d.params.NumClasses:
			stats.Invalid++
			continue
		case label == 0:
			stats.Background++
			continue
		}

		box := raw.Box()
		if !box.Valid() {
			stats.Degenerate++
			continue
		}

		mask, err := images.NewMaskTile(masks, i*d.params.NumClasses+label, d.params.MaskSize, d.params.MaskSize)
		if err != nil {
			return nil, stats, errors.Wrapf(ErrBufferTooSmall, "candidate %d: %v", i, err)
		}

		out = append(out, Detection{
			Index:      i,
			Label:      label,
			Confidence: raw.Score,
			Box:        box,
			Mask:       mask,
		})
		stats.Kept++
	}

	return out, stats, nil
}
