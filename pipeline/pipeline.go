package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-mrcnn/inference"
	"github.com/nvr-ai/go-mrcnn/models/model"
)

// Source produces decoded frames.
type Source interface {
	// Run sends frames to out until the stream ends, it fails or ctx is done.
	// It returns nil at the end of the stream. Run never closes out.
	Run(ctx context.Context, out chan<- Frame) error
}

// Predictor detects objects in a frame. inference.Engine implements it.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) (*inference.Prediction, error)
}

// Annotator draws objects onto a frame and outputs it. render.Renderer
// implements it.
type Annotator interface {
	Render(img *image.RGBA, objects []model.Object) error
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Frames   int64
	Objects  int64
	Rendered int64
	Elapsed  time.Duration
}

// FPS returns the processed frame rate.
func (s Stats) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

// Options configures a Pipeline.
type Options struct {
	// Buffer is the capacity of the queues between stages.
	Buffer int
	Logger *zap.SugaredLogger
}

// Pipeline connects a source, a predictor and an optional annotator.
type Pipeline struct {
	source    Source
	predictor Predictor
	annotator Annotator
	buffer    int
	logger    *zap.SugaredLogger

	frames   atomic.Int64
	objects  atomic.Int64
	rendered atomic.Int64
	started  atomic.Time
	elapsed  atomic.Duration
}

type result struct {
	frame      Frame
	prediction *inference.Prediction
}

// New creates a pipeline.
//
// Arguments:
//   - source: Produces the frames.
//   - predictor: Runs the detector on every frame.
//   - annotator: Renders frames and their objects. May be nil.
//   - opts: Queue size and logger.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: An error if source or predictor is nil.
func New(source Source, predictor Predictor, annotator Annotator, opts Options) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if predictor == nil {
		return nil, errors.New("predictor is required")
	}
	if opts.Buffer < 1 {
		opts.Buffer = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		source:    source,
		predictor: predictor,
		annotator: annotator,
		buffer:    opts.Buffer,
		logger:    opts.Logger,
	}, nil
}

// Run decodes, infers and renders until the stream ends.
//
// The three stages run concurrently, connected by queues of Options.Buffer
// frames. The first stage error cancels the others.
//
// Arguments:
//   - ctx: Cancels the run.
//
// Returns:
//   - error: nil at the end of the stream, else the first stage error.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()
	p.started.Store(start)
	defer func() { p.elapsed.Store(time.Since(start)) }()

	g, ctx := errgroup.WithContext(ctx)
	frames := make(chan Frame, p.buffer)
	results := make(chan result, p.buffer)

	g.Go(func() error {
		defer close(frames)
		return errors.Wrap(p.source.Run(ctx, frames), "source")
	})

	g.Go(func() error {
		defer close(results)
		for frame := range frames {
			pred, err := p.predictor.Predict(ctx, frame.Image())
			if err != nil {
				return errors.Wrapf(err, "frame %d", frame.Seq)
			}
			p.frames.Inc()
			p.objects.Add(int64(len(pred.Objects)))
			for _, obj := range pred.Objects {
				p.logger.Debugw("object", "frame", frame.Seq, "object", obj.String())
			}
			select {
			case results <- result{frame: frame, prediction: pred}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for r := range results {
			if p.annotator == nil {
				continue
			}
			if err := p.annotator.Render(r.frame.Image(), r.prediction.Objects); err != nil {
				return errors.Wrapf(err, "render frame %d", r.frame.Seq)
			}
			p.rendered.Inc()
		}
		return nil
	})

	err := g.Wait()
	stats := p.Stats()
	p.logger.Infow("pipeline stopped",
		"frames", stats.Frames,
		"objects", stats.Objects,
		"rendered", stats.Rendered,
		"fps", stats.FPS(),
		"error", err)
	return err
}

// Stats returns the pipeline counters. Elapsed grows while Run is active.
func (p *Pipeline) Stats() Stats {
	elapsed := p.elapsed.Load()
	if started := p.started.Load(); elapsed == 0 && !started.IsZero() {
		elapsed = time.Since(started)
	}
	return Stats{
		Frames:   p.frames.Load(),
		Objects:  p.objects.Load(),
		Rendered: p.rendered.Load(),
		Elapsed:  elapsed,
	}
}
