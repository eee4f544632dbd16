package render

import (
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-mrcnn/config"
	"github.com/nvr-ai/go-mrcnn/models/model"
)

// ErrSinkClosed is returned by a sink once the user closed it.
var ErrSinkClosed = errors.New("sink closed")

// Sink consumes annotated BGR frames.
type Sink interface {
	Write(img gocv.Mat) error
	Close() error
}

// escKey is the key code of Escape returned by WaitKey.
const escKey = 27

// WindowSink shows frames in an OpenCV window.
type WindowSink struct {
	window *gocv.Window
}

// NewWindowSink opens a window.
func NewWindowSink(title string) *WindowSink {
	return &WindowSink{window: gocv.NewWindow(title)}
}

// Write shows img and returns ErrSinkClosed when Escape was pressed.
func (s *WindowSink) Write(img gocv.Mat) error {
	s.window.IMShow(img)
	if s.window.WaitKey(1) == escKey {
		return ErrSinkClosed
	}
	return nil
}

// Close closes the window.
func (s *WindowSink) Close() error {
	return s.window.Close()
}

// FileSink encodes frames into a video file. The writer is opened on the
// first frame, when the frame size is known.
type FileSink struct {
	path   string
	codec  string
	fps    float64
	writer *gocv.VideoWriter
}

// NewFileSink creates a sink writing MP4V video to path.
func NewFileSink(path string, fps float64) *FileSink {
	return &FileSink{path: path, codec: "mp4v", fps: fps}
}

// Write appends img to the video.
func (s *FileSink) Write(img gocv.Mat) error {
	if s.writer == nil {
		w, err := gocv.VideoWriterFile(s.path, s.codec, s.fps, img.Cols(), img.Rows(), true)
		if err != nil {
			return errors.Wrapf(err, "failed to open video writer %s", s.path)
		}
		s.writer = w
	}
	return s.writer.Write(img)
}

// Close finalizes the video file.
func (s *FileSink) Close() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

// NullSink discards frames.
type NullSink struct{}

// Write does nothing.
func (NullSink) Write(gocv.Mat) error { return nil }

// Close does nothing.
func (NullSink) Close() error { return nil }

// NewSink creates the sink selected by cfg.
func NewSink(cfg config.RenderConfig) (Sink, error) {
	switch cfg.Sink {
	case config.SinkWindow:
		return NewWindowSink("mrcnn"), nil
	case config.SinkFile:
		return NewFileSink(cfg.Output, cfg.FPS), nil
	case config.SinkNone, "":
		return NullSink{}, nil
	default:
		return nil, errors.Errorf("unknown sink %q", cfg.Sink)
	}
}

// Renderer converts RGBA frames to BGR, draws the overlay and writes them
// to a sink.
type Renderer struct {
	overlay *Overlay
	sink    Sink
	logger  *zap.SugaredLogger
}

// NewRenderer creates a renderer.
//
// Arguments:
//   - overlay: The overlay drawn onto every frame.
//   - sink: Where frames are written. The renderer closes it.
//   - logger: Debug logger. May be nil.
//
// Returns:
//   - *Renderer: The renderer.
func NewRenderer(overlay *Overlay, sink Sink, logger *zap.SugaredLogger) *Renderer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Renderer{overlay: overlay, sink: sink, logger: logger}
}

// Render draws objects onto a copy of img and writes it to the sink.
func (r *Renderer) Render(img *image.RGBA, objects []model.Object) error {
	b := img.Bounds()
	pix := img.Pix
	if img.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		tight := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			copy(tight.Pix[y*tight.Stride:(y+1)*tight.Stride], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		pix = tight.Pix
	}

	rgba, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, pix)
	if err != nil {
		return errors.Wrap(err, "failed to wrap frame")
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	if err := r.overlay.Draw(&bgr, objects); err != nil {
		return err
	}
	r.logger.Debugw("rendered frame", "objects", len(objects))
	return r.sink.Write(bgr)
}

// Close closes the sink.
func (r *Renderer) Close() error {
	return r.sink.Close()
}
