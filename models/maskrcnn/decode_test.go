package maskrcnn

import (
	"encoding/binary"
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cocoTensors allocates zeroed COCO-sized tensors. The first value of every
// mask tile holds the tile's flat index so tests can check which tile a
// detection points at.
func cocoTensors(t testing.TB) ([]float32, []float32) {
	t.Helper()
	p := COCOParams()
	det := make([]float32, p.detectionLen())
	masks := make([]float32, p.maskLen())
	for tile := 0; tile < p.MaxInstances*p.NumClasses; tile++ {
		masks[tile*MaskTileLen] = float32(tile)
	}
	return det, masks
}

func setCandidate(det []float32, i int, r RawDetection) {
	copy(det[i*DetectionFields:], []float32{r.Y1, r.X1, r.Y2, r.X2, r.ClassID, r.Score})
}

func newCOCODecoder(t testing.TB) *Decoder {
	t.Helper()
	d, err := NewDecoder(COCOParams())
	require.NoError(t, err)
	return d
}

func TestParamsValidate(t *testing.T) {
	p := COCOParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, 28, p.MaskSize)
	assert.Equal(t, []int{1, 100, 6}, []int(p.DetectionShape()))
	assert.Equal(t, []int{1, 100, 81, 28, 28}, []int(p.MaskShape()))
	assert.Equal(t, []int{1, 3, 1024, 1024}, []int(p.InputShape()))

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"no instances", func(p *Params) { p.MaxInstances = 0 }},
		{"background only", func(p *Params) { p.NumClasses = 1 }},
		{"no mask", func(p *Params) { p.MaskSize = 0 }},
		{"no input", func(p *Params) { p.InputWidth = 0 }},
		{"no detection layer", func(p *Params) { p.DetectionLayer = "" }},
		{"no mask layer", func(p *Params) { p.MaskLayer = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := COCOParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}

	t.Run("not square", func(t *testing.T) {
		p := COCOParams()
		p.InputWidth = 1280
		_, err := NewDecoder(p)
		assert.True(t, errors.Is(err, ErrInputNotSquare))
	})
}

func TestRawDetectionLabel(t *testing.T) {
	tests := []struct {
		classID float32
		label   int
		ok      bool
	}{
		{3, 3, true},
		{3.9, 3, true},
		{0.7, 0, true},
		{0, 0, true},
		{-0.5, -1, true},
		{-2, -2, true},
		{math32.NaN(), 0, false},
		{math32.Inf(1), 0, false},
	}
	for _, tt := range tests {
		label, ok := RawDetection{ClassID: tt.classID}.Label()
		assert.Equal(t, tt.ok, ok, "class id %v", tt.classID)
		if tt.ok {
			assert.Equal(t, tt.label, label, "class id %v", tt.classID)
		}
	}
}

func TestReadRawDetection(t *testing.T) {
	buf := []float32{0.1, 0.2, 0.3, 0.4, 5, 0.6, 1, 1, 1, 1, 1, 1}

	r, err := ReadRawDetection(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, RawDetection{Y1: 0.1, X1: 0.2, Y2: 0.3, X2: 0.4, ClassID: 5, Score: 0.6}, r)

	_, err = ReadRawDetection(buf, 2)
	assert.True(t, errors.Is(err, ErrBufferTooSmall))
	_, err = ReadRawDetection(buf, -1)
	assert.True(t, errors.Is(err, ErrBufferTooSmall))
}

func TestDecodeBackgroundAndInvalid(t *testing.T) {
	det, masks := cocoTensors(t)
	box := RawDetection{Y1: 0.1, X1: 0.1, Y2: 0.2, X2: 0.2, Score: 0.5}

	classes := map[int]float32{
		0:  0,
		1:  -1,
		2:  -0.5,
		3:  0.7,
		4:  math32.NaN(),
		5:  81,
		6:  12,
		7:  80.9,
		99: 1,
	}
	for i, c := range classes {
		r := box
		r.ClassID = c
		setCandidate(det, i, r)
	}

	out, stats, err := newCOCODecoder(t).DecodeWithStats(det, masks)
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, []int{6, 7, 99}, []int{out[0].Index, out[1].Index, out[2].Index})
	assert.Equal(t, []int{12, 80, 1}, []int{out[0].Label, out[1].Label, out[2].Label})
	for _, d := range out {
		assert.Greater(t, d.Label, 0)
	}

	assert.Equal(t, 3, stats.Kept)
	assert.Equal(t, 4, stats.Invalid)
	// Slots 0 and 3 plus the 91 untouched zero slots.
	assert.Equal(t, 93, stats.Background)
	assert.Equal(t, 0, stats.Degenerate)
	assert.Equal(t, "kept=3 background=93 invalid=4 degenerate=0", stats.String())
}

func TestDecodeDegenerateBoxes(t *testing.T) {
	det, masks := cocoTensors(t)
	setCandidate(det, 0, RawDetection{Y1: 0.1, X1: 0.5, Y2: 0.4, X2: 0.5, ClassID: 1, Score: 0.9})
	setCandidate(det, 1, RawDetection{Y1: 0.4, X1: 0.1, Y2: 0.4, X2: 0.5, ClassID: 1, Score: 0.9})
	setCandidate(det, 2, RawDetection{Y1: 0.1, X1: 0.6, Y2: 0.4, X2: 0.5, ClassID: 1, Score: 0.9})
	setCandidate(det, 3, RawDetection{Y1: math32.NaN(), X1: 0.1, Y2: 0.4, X2: 0.5, ClassID: 1, Score: 0.9})
	setCandidate(det, 4, RawDetection{Y1: 0.1, X1: 0.1, Y2: 0.4, X2: 0.5, ClassID: 1, Score: 0.9})

	out, stats, err := newCOCODecoder(t).DecodeWithStats(det, masks)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].Index)
	assert.Equal(t, 4, stats.Degenerate)

	for _, d := range out {
		assert.Greater(t, d.Box.X2, d.Box.X1)
		assert.Greater(t, d.Box.Y2, d.Box.Y1)
	}
}

func TestDecodeMaskTileIndex(t *testing.T) {
	det, masks := cocoTensors(t)
	candidates := map[int]int{0: 1, 7: 3, 42: 80, 99: 17}
	for i, label := range candidates {
		setCandidate(det, i, RawDetection{Y1: 0.1, X1: 0.1, Y2: 0.9, X2: 0.9, ClassID: float32(label), Score: 0.8})
	}

	out, err := newCOCODecoder(t).Decode(det, masks)
	require.NoError(t, err)
	require.Len(t, out, len(candidates))

	for _, d := range out {
		want := d.Index*NumClasses + candidates[d.Index]
		assert.Equal(t, want, d.Mask.Index)
		assert.Equal(t, MaskSize, d.Mask.Width)
		assert.Equal(t, MaskSize, d.Mask.Height)
		assert.Equal(t, float32(want), d.Mask.At(0, 0))
	}
}

func TestDecodeMaskBorrowsBuffer(t *testing.T) {
	det, masks := cocoTensors(t)
	setCandidate(det, 2, RawDetection{Y1: 0.1, X1: 0.1, Y2: 0.9, X2: 0.9, ClassID: 5, Score: 0.8})

	out, err := newCOCODecoder(t).Decode(det, masks)
	require.NoError(t, err)
	require.Len(t, out, 1)

	tile := 2*NumClasses + 5
	masks[tile*MaskTileLen+MaskSize+1] = 0.75
	assert.Equal(t, float32(0.75), out[0].Mask.At(1, 1))
}

func TestDecodeOrderAndIdempotence(t *testing.T) {
	det, masks := cocoTensors(t)
	for _, i := range []int{90, 3, 55, 12} {
		setCandidate(det, i, RawDetection{Y1: 0.2, X1: 0.2, Y2: 0.6, X2: 0.6, ClassID: 2, Score: float32(i) / 100})
	}
	d := newCOCODecoder(t)

	first, err := d.Decode(det, masks)
	require.NoError(t, err)
	second, err := d.Decode(det, masks)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 4)
	assert.Equal(t, []int{3, 12, 55, 90}, []int{first[0].Index, first[1].Index, first[2].Index, first[3].Index})
}

func TestDecodeBufferTooSmall(t *testing.T) {
	det, masks := cocoTensors(t)
	d := newCOCODecoder(t)

	_, err := d.Decode(det[:len(det)-1], masks)
	assert.True(t, errors.Is(err, ErrBufferTooSmall))

	_, err = d.Decode(det, masks[:len(masks)-1])
	assert.True(t, errors.Is(err, ErrBufferTooSmall))

	_, err = d.Decode(nil, nil)
	assert.True(t, errors.Is(err, ErrBufferTooSmall))
}

func TestDecodeSmallGeometry(t *testing.T) {
	p := Params{
		MaxInstances:   2,
		NumClasses:     3,
		MaskSize:       2,
		InputWidth:     64,
		InputHeight:    64,
		DetectionLayer: "det",
		MaskLayer:      "mask",
	}
	d, err := NewDecoder(p)
	require.NoError(t, err)

	det := []float32{
		0, 0, 1, 1, 2, 0.4,
		0.1, 0.1, 0.5, 0.5, 1, 0.6,
	}
	masks := make([]float32, 2*3*4)
	for i := range masks {
		masks[i] = float32(i)
	}

	out, err := d.Decode(det, masks)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{8, 9, 10, 11}, out[0].Mask.Data())
	assert.Equal(t, []float32{16, 17, 18, 19}, out[1].Mask.Data())
}

func TestFloat32s(t *testing.T) {
	want := []float32{0.1, -2, 3.5}
	buf := make([]byte, 12)
	for i, v := range want {
		binary.LittleEndian.PutUint32(buf[i*4:], math32.Float32bits(v))
	}

	got, err := Float32s(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Float32s(buf[:5])
	assert.Error(t, err)
}

func TestDecodeBytes(t *testing.T) {
	det, masks := cocoTensors(t)
	setCandidate(det, 0, RawDetection{Y1: 0.1, X1: 0.1, Y2: 0.4, X2: 0.4, ClassID: 3, Score: 0.9})

	toBytes := func(v []float32) []byte {
		b := make([]byte, len(v)*4)
		for i, f := range v {
			binary.LittleEndian.PutUint32(b[i*4:], math32.Float32bits(f))
		}
		return b
	}

	out, err := newCOCODecoder(t).DecodeBytes(toBytes(det), toBytes(masks))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].Label)
	assert.Equal(t, float32(0.9), out[0].Confidence)

	_, err = newCOCODecoder(t).DecodeBytes([]byte{1, 2, 3}, toBytes(masks))
	assert.Error(t, err)
}
