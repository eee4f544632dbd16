package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/nvr-ai/go-mrcnn/config"
	"github.com/nvr-ai/go-mrcnn/inference"
	"github.com/nvr-ai/go-mrcnn/models/model"
)

type sliceSource struct {
	frames []Frame
	err    error
}

func (s *sliceSource) Run(ctx context.Context, out chan<- Frame) error {
	for _, f := range s.frames {
		select {
		case out <- f:
		case <-ctx.Done():
			return nil
		}
	}
	return s.err
}

// endlessSource produces frames until cancelled.
type endlessSource struct{}

func (endlessSource) Run(ctx context.Context, out chan<- Frame) error {
	for seq := uint64(1); ; seq++ {
		select {
		case out <- newFrame(seq, 4, 4):
		case <-ctx.Done():
			return nil
		}
	}
}

type countingPredictor struct {
	mu     sync.Mutex
	sizes  []image.Point
	failAt int
}

func (p *countingPredictor) Predict(_ context.Context, img image.Image) (*inference.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes = append(p.sizes, img.Bounds().Size())
	if p.failAt > 0 && len(p.sizes) == p.failAt {
		return nil, errors.New("inference failed")
	}
	return &inference.Prediction{
		Objects: []model.Object{{ClassID: 1, Confidence: 0.9, Width: 1, Height: 1}},
		Frame:   img.Bounds().Size(),
	}, nil
}

type recordingAnnotator struct {
	seen []int
	err  error
}

func (a *recordingAnnotator) Render(img *image.RGBA, objects []model.Object) error {
	if a.err != nil {
		return a.err
	}
	a.seen = append(a.seen, len(objects))
	return nil
}

func newFrame(seq uint64, width, height int) Frame {
	return Frame{Seq: seq, Width: width, Height: height, Data: make([]byte, 4*width*height)}
}

func TestFrame(t *testing.T) {
	f := newFrame(1, 3, 2)
	assert.True(t, f.Valid())
	f.Data[4*4+1] = 200 // x=1 y=1, green

	img := f.Image()
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	assert.Equal(t, uint8(200), img.RGBAAt(1, 1).G)

	f.Data = f.Data[:5]
	assert.False(t, f.Valid())
	assert.False(t, Frame{}.Valid())
}

func TestPipelineRun(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	source := &sliceSource{frames: []Frame{newFrame(1, 8, 6), newFrame(2, 8, 6), newFrame(3, 8, 6)}}
	predictor := &countingPredictor{}
	annotator := &recordingAnnotator{}

	p, err := New(source, predictor, annotator, Options{Buffer: 2, Logger: zap.New(core).Sugar()})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Len(t, predictor.sizes, 3)
	assert.Equal(t, image.Pt(8, 6), predictor.sizes[0])
	assert.Equal(t, []int{1, 1, 1}, annotator.seen)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Frames)
	assert.Equal(t, int64(3), stats.Objects)
	assert.Equal(t, int64(3), stats.Rendered)
	assert.Greater(t, stats.Elapsed, time.Duration(0))

	assert.Equal(t, 3, logs.FilterMessage("object").Len())
	require.Equal(t, 1, logs.FilterMessage("pipeline stopped").Len())
}

func TestPipelineWithoutAnnotator(t *testing.T) {
	source := &sliceSource{frames: []Frame{newFrame(1, 2, 2)}}
	p, err := New(source, &countingPredictor{}, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int64(1), p.Stats().Frames)
	assert.Equal(t, int64(0), p.Stats().Rendered)
}

func TestPipelineErrors(t *testing.T) {
	_, err := New(nil, &countingPredictor{}, nil, Options{})
	assert.Error(t, err)
	_, err = New(&sliceSource{}, nil, nil, Options{})
	assert.Error(t, err)

	t.Run("source", func(t *testing.T) {
		p, err := New(&sliceSource{err: errors.New("no such file")}, &countingPredictor{}, nil, Options{})
		require.NoError(t, err)
		err = p.Run(context.Background())
		assert.ErrorContains(t, err, "source: no such file")
	})

	t.Run("predictor", func(t *testing.T) {
		p, err := New(endlessSource{}, &countingPredictor{failAt: 3}, nil, Options{Buffer: 1})
		require.NoError(t, err)
		err = p.Run(context.Background())
		assert.ErrorContains(t, err, "frame 3: inference failed")
		assert.Equal(t, int64(2), p.Stats().Frames)
	})

	t.Run("annotator", func(t *testing.T) {
		stop := errors.New("sink closed")
		p, err := New(endlessSource{}, &countingPredictor{}, &recordingAnnotator{err: stop}, Options{})
		require.NoError(t, err)
		err = p.Run(context.Background())
		assert.True(t, errors.Is(err, stop))
	})
}

func TestPipelineCancel(t *testing.T) {
	p, err := New(endlessSource{}, &countingPredictor{}, &recordingAnnotator{}, Options{Buffer: 4})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Run(ctx)
	if err != nil {
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	}
	assert.Greater(t, p.Stats().Frames, int64(0))
}

func TestDecoderChain(t *testing.T) {
	all := func(string) bool { return true }
	software := func(name string) bool { return name != "nvv4l2decoder" }
	none := func(string) bool { return false }

	chain, hw, err := decoderChain(config.DecoderAuto, all)
	require.NoError(t, err)
	assert.True(t, hw)
	assert.Equal(t, []string{"nvv4l2decoder", "nvvideoconvert"}, chain)

	chain, hw, err = decoderChain(config.DecoderAuto, software)
	require.NoError(t, err)
	assert.False(t, hw)
	assert.Equal(t, []string{"avdec_h264", "videoconvert", "videoscale"}, chain)

	chain, hw, err = decoderChain(config.DecoderSoftware, all)
	require.NoError(t, err)
	assert.False(t, hw)
	assert.Equal(t, "avdec_h264", chain[0])

	_, _, err = decoderChain(config.DecoderHardware, software)
	assert.True(t, errors.Is(err, ErrDecoderUnavailable))
	assert.ErrorContains(t, err, "nvv4l2decoder")

	_, _, err = decoderChain(config.DecoderAuto, none)
	assert.True(t, errors.Is(err, ErrDecoderUnavailable))

	_, _, err = decoderChain("vaapi", all)
	assert.Error(t, err)
}

func TestRawCaps(t *testing.T) {
	assert.Equal(t, "video/x-raw,format=RGBA,width=1920,height=1080", rawCaps(1920, 1080))
}

func TestNewGstSource(t *testing.T) {
	stream := config.Default().Stream
	_, err := NewGstSource("/nonexistent/sample_720p.h264", stream, nil)
	assert.ErrorContains(t, err, "input stream")

	path := t.TempDir()
	stream.Width = 0
	_, err = NewGstSource(path, stream, nil)
	assert.ErrorContains(t, err, "invalid output size")

	s, err := NewGstSource(path, config.Default().Stream, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s.Decoded())
	assert.Equal(t, uint64(0), s.Dropped())
}

type fakeElement struct {
	props  map[string]interface{}
	failOn string
}

func (e *fakeElement) SetProperty(name string, value interface{}) error {
	if name == e.failOn {
		return errors.New("no such property")
	}
	e.props[name] = value
	return nil
}

func TestAppsinkProperties(t *testing.T) {
	e := &fakeElement{props: map[string]interface{}{}}
	require.NoError(t, setProperties(e, appsinkProperties(false)))
	assert.Equal(t, map[string]interface{}{"sync": false}, e.props)

	e = &fakeElement{props: map[string]interface{}{}}
	require.NoError(t, setProperties(e, appsinkProperties(true)))
	assert.Equal(t, map[string]interface{}{"sync": false, "max-buffers": uint(1), "drop": true}, e.props)

	e = &fakeElement{props: map[string]interface{}{}, failOn: "max-buffers"}
	err := setProperties(e, appsinkProperties(true))
	assert.ErrorContains(t, err, "failed to set max-buffers: no such property")
	assert.NotContains(t, e.props, "drop")
}
