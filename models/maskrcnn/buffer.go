package maskrcnn

import (
	"encoding/binary"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Float32s reinterprets a little-endian byte buffer as float32 values.
// The result is a copy; buf may be reused once Float32s returns.
func Float32s(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, errors.Errorf("buffer length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math32.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// DecodeBytes decodes raw little-endian tensor bytes, as written by an engine
// that exposes its outputs as byte blobs.
func (d *Decoder) DecodeBytes(detections, masks []byte) ([]Detection, error) {
	det, err := Float32s(detections)
	if err != nil {
		return nil, errors.Wrap(err, "detection tensor")
	}
	msk, err := Float32s(masks)
	if err != nil {
		return nil, errors.Wrap(err, "mask tensor")
	}
	return d.Decode(det, msk)
}
