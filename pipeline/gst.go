package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-mrcnn/config"
)

// Decoder element chains, from the parsed H.264 stream to raw video.
var (
	hardwareChain = []string{"nvv4l2decoder", "nvvideoconvert"}
	softwareChain = []string{"avdec_h264", "videoconvert", "videoscale"}
)

// ErrDecoderUnavailable is returned when the requested decoder is not installed.
var ErrDecoderUnavailable = errors.New("decoder unavailable")

// decoderChain selects the decoder elements for mode.
//
// Arguments:
//   - mode: The configured decoder mode.
//   - available: Reports whether an element factory is installed.
//
// Returns:
//   - []string: The element factory names, in link order.
//   - bool: Whether the chain decodes in hardware.
//   - error: ErrDecoderUnavailable if an element of the chain is missing.
func decoderChain(mode config.DecoderMode, available func(name string) bool) ([]string, bool, error) {
	has := func(chain []string) error {
		for _, name := range chain {
			if !available(name) {
				return errors.Wrapf(ErrDecoderUnavailable, "element %s", name)
			}
		}
		return nil
	}

	switch mode {
	case config.DecoderHardware:
		if err := has(hardwareChain); err != nil {
			return nil, false, err
		}
		return hardwareChain, true, nil
	case config.DecoderSoftware:
		if err := has(softwareChain); err != nil {
			return nil, false, err
		}
		return softwareChain, false, nil
	case config.DecoderAuto, "":
		if has(hardwareChain) == nil {
			return hardwareChain, true, nil
		}
		if err := has(softwareChain); err != nil {
			return nil, false, err
		}
		return softwareChain, false, nil
	default:
		return nil, false, errors.Errorf("unknown decoder mode %q", mode)
	}
}

// rawCaps fixes the appsink input to packed RGBA at the muxer resolution.
func rawCaps(width, height int) string {
	return fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", width, height)
}

type property struct {
	name  string
	value interface{}
}

type propertySetter interface {
	SetProperty(name string, value interface{}) error
}

// appsinkProperties returns the appsink settings. Frames are pulled as fast
// as inference consumes them; when dropping, only the newest frame is queued.
func appsinkProperties(dropFrames bool) []property {
	props := []property{{"sync", false}}
	if dropFrames {
		props = append(props, property{"max-buffers", uint(1)}, property{"drop", true})
	}
	return props
}

// setProperties applies props in order and stops at the first failure.
func setProperties(e propertySetter, props []property) error {
	for _, p := range props {
		if err := e.SetProperty(p.name, p.value); err != nil {
			return errors.Wrapf(err, "failed to set %s", p.name)
		}
	}
	return nil
}

// GstSource decodes an H.264 elementary stream file with GStreamer:
//
//	filesrc → h264parse → decoder → convert/scale → capsfilter(RGBA) → appsink
type GstSource struct {
	path   string
	stream config.StreamConfig
	logger *zap.SugaredLogger

	decoded atomic.Uint64
	dropped atomic.Uint64
	stopped atomic.Bool
}

// NewGstSource creates a source reading path.
//
// Arguments:
//   - path: The H.264 elementary stream.
//   - stream: Decoder, output size and frame dropping.
//   - logger: The logger. May be nil.
//
// Returns:
//   - *GstSource: The source.
//   - error: An error if path does not exist or the size is invalid.
func NewGstSource(path string, stream config.StreamConfig, logger *zap.SugaredLogger) (*GstSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "input stream")
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, errors.Errorf("invalid output size %dx%d", stream.Width, stream.Height)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &GstSource{path: path, stream: stream, logger: logger}, nil
}

// Decoded returns the number of decoded frames.
func (s *GstSource) Decoded() uint64 {
	return s.decoded.Load()
}

// Dropped returns the number of frames dropped because inference was busy.
func (s *GstSource) Dropped() uint64 {
	return s.dropped.Load()
}

type gstElements struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	hardware bool
}

func (s *GstSource) build() (*gstElements, error) {
	gst.Init(nil)

	chain, hardware, err := decoderChain(s.stream.Decoder, func(name string) bool {
		return gst.Find(name) != nil
	})
	if err != nil {
		return nil, err
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipeline")
	}

	names := append([]string{"filesrc", "h264parse"}, chain...)
	names = append(names, "capsfilter")
	elements := make([]*gst.Element, 0, len(names)+1)
	for _, name := range names {
		e, err := gst.NewElement(name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create %s", name)
		}
		elements = append(elements, e)
	}

	if err := elements[0].SetProperty("location", s.path); err != nil {
		return nil, errors.Wrap(err, "failed to set filesrc location")
	}
	caps := elements[len(elements)-1]
	if err := caps.SetProperty("caps", gst.NewCapsFromString(rawCaps(s.stream.Width, s.stream.Height))); err != nil {
		return nil, errors.Wrap(err, "failed to set caps")
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create appsink")
	}
	if err := setProperties(sink, appsinkProperties(s.stream.DropFrames)); err != nil {
		return nil, errors.Wrap(err, "failed to configure appsink")
	}
	elements = append(elements, sink.Element)

	if err := pipeline.AddMany(elements...); err != nil {
		return nil, errors.Wrap(err, "failed to add elements")
	}
	if err := gst.ElementLinkMany(elements...); err != nil {
		return nil, errors.Wrap(err, "failed to link elements")
	}

	s.logger.Infow("created decode pipeline",
		"input", s.path,
		"elements", names,
		"hardware", hardware,
		"width", s.stream.Width,
		"height", s.stream.Height)
	return &gstElements{pipeline: pipeline, sink: sink, hardware: hardware}, nil
}

// Run plays the stream and sends every decoded frame to out.
func (s *GstSource) Run(ctx context.Context, out chan<- Frame) error {
	elems, err := s.build()
	if err != nil {
		return err
	}
	s.stopped.Store(false)

	elems.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onSample(ctx, sink, out)
		},
	})

	if err := elems.pipeline.SetState(gst.StatePlaying); err != nil {
		return errors.Wrap(err, "failed to start pipeline")
	}
	defer func() {
		s.stopped.Store(true)
		if err := elems.pipeline.SetState(gst.StateNull); err != nil {
			s.logger.Warnw("failed to stop pipeline", "error", err)
		}
	}()

	return s.watch(ctx, elems.pipeline)
}

// onSample copies the frame out of the appsink buffer, which GStreamer reuses.
func (s *GstSource) onSample(ctx context.Context, sink *app.Sink, out chan<- Frame) gst.FlowReturn {
	if s.stopped.Load() {
		return gst.FlowEOS
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		s.logger.Warnw("sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	frame := Frame{
		Timestamp: time.Now(),
		Width:     s.stream.Width,
		Height:    s.stream.Height,
		Data:      make([]byte, len(data)),
	}
	copy(frame.Data, data)
	buffer.Unmap()

	if !frame.Valid() {
		s.logger.Warnw("unexpected frame size, skipping frame",
			"bytes", len(frame.Data), "width", frame.Width, "height", frame.Height)
		return gst.FlowOK
	}
	frame.Seq = s.decoded.Inc()

	if s.stream.DropFrames {
		select {
		case out <- frame:
		default:
			s.dropped.Inc()
			s.logger.Debugw("dropping frame, inference busy", "seq", frame.Seq)
		}
		return gst.FlowOK
	}

	select {
	case out <- frame:
		return gst.FlowOK
	case <-ctx.Done():
		return gst.FlowEOS
	}
}

// watch polls the bus until end of stream, an error or cancellation.
func (s *GstSource) watch(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debugw("context cancelled, stopping pipeline")
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			s.logger.Infow("end of stream",
				"decoded", s.decoded.Load(),
				"dropped", s.dropped.Load())
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			s.logger.Errorw("pipeline error",
				"source", msg.Source(),
				"error", gerr.Error(),
				"debug", gerr.DebugString())
			return errors.Errorf("pipeline error from %s: %s", msg.Source(), gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				from, to := msg.ParseStateChanged()
				s.logger.Debugw("pipeline state changed", "from", from, "to", to)
			}
		}
	}
}
