// Package inference - Inference engine: preprocess, run the network, parse its outputs.
package inference

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-mrcnn/inference/providers"
	"github.com/nvr-ai/go-mrcnn/models"
	"github.com/nvr-ai/go-mrcnn/models/model"
	"github.com/nvr-ai/go-mrcnn/models/model/preprocess"
)

// Engine defines the interface for ML inference engines.
type Engine interface {
	Predict(ctx context.Context, img image.Image) (*Prediction, error)
	Stats() Stats
	Close() error
}

// Runner runs a network over a filled input buffer. *providers.Session
// implements it.
type Runner interface {
	Infer(fill func(input []float32) error, fn func(layers []model.Layer) error) error
	Close() error
}

// Prediction is the result of one inference.
type Prediction struct {
	// Objects are in pixel coordinates of the input frame. Their masks are
	// private copies and outlive the inference.
	Objects []model.Object
	// Network is the resolution the network ran at.
	Network model.NetworkInfo
	// Frame is the size of the input frame.
	Frame image.Point
	// Latency is the wall time of the prediction.
	Latency time.Duration
}

// EngineBuilder builds an Engine with a fluent API.
type EngineBuilder struct {
	provider    providers.ExecutionProvider
	model       model.Model
	parser      model.Parser
	runner      Runner
	preprocess  *preprocess.ModelConfig
	params      model.DetectionParams
	libraryPath string
	intraOp     int
	interOp     int
	logger      *zap.SugaredLogger
	err         error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
//
// Example:
//
// ```go
//
//	engine, err := inference.NewEngineBuilder().
//	    WithLogger(logger).
//	    WithProvider(providers.CUDAOptions{}).
//	    WithModel(model.NewModelArgs{Name: model.ModelNameMaskRCNN, Path: "mrcnn.onnx"}).
//	    Build()
//
// ```
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{logger: zap.NewNop().Sugar()}
}

// HasError checks if the engine builder has errors.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// WithLogger sets the logger of the engine and its parser.
func (b *EngineBuilder) WithLogger(logger *zap.SugaredLogger) *EngineBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithProvider sets the execution provider.
//
// Arguments:
//   - options: The provider options, which select the backend.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithProvider(options providers.ProviderOptions) *EngineBuilder {
	if b.HasError() {
		return b
	}
	provider, err := providers.NewProvider(options)
	if err != nil {
		b.err = err
		return b
	}
	b.provider = provider
	return b
}

// WithLibraryPath sets the ONNX Runtime shared library.
func (b *EngineBuilder) WithLibraryPath(path string) *EngineBuilder {
	b.libraryPath = path
	return b
}

// WithThreads sets the ONNX Runtime intra-op and inter-op thread counts. Zero
// lets the runtime decide.
func (b *EngineBuilder) WithThreads(intraOp, interOp int) *EngineBuilder {
	b.intraOp, b.interOp = intraOp, interOp
	return b
}

// WithModel resolves the model through the model registry.
//
// Arguments:
//   - args: The model arguments.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModel(args model.NewModelArgs) *EngineBuilder {
	if b.HasError() {
		return b
	}
	m, err := models.NewModel(args, b.logger.Named("model"))
	if err != nil {
		b.err = err
		return b
	}
	b.model = m
	return b
}

// WithParser replaces the model parser with the parser registered under name.
func (b *EngineBuilder) WithParser(name string) *EngineBuilder {
	if b.HasError() || name == "" {
		return b
	}
	p, err := models.LookupParser(name, b.logger)
	if err != nil {
		b.err = err
		return b
	}
	b.parser = p
	return b
}

// WithPreprocess sets the input preprocessing. Defaults to preprocess.MaskRCNNConfig.
func (b *EngineBuilder) WithPreprocess(cfg *preprocess.ModelConfig) *EngineBuilder {
	b.preprocess = cfg
	return b
}

// WithDetectionParams sets the per-run detection filtering.
func (b *EngineBuilder) WithDetectionParams(params model.DetectionParams) *EngineBuilder {
	b.params = params
	return b
}

// WithRunner uses r instead of creating an ONNX Runtime session.
func (b *EngineBuilder) WithRunner(r Runner) *EngineBuilder {
	b.runner = r
	return b
}

// MustBuild builds the engine and panics if there is an error.
func (b *EngineBuilder) MustBuild() Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Build builds the engine.
//
// Returns:
//   - Engine: The engine.
//   - error: The first configuration error, or a session creation error.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.model == nil {
		return nil, errors.New("model not configured")
	}

	opts := b.model.Options()
	network, err := networkInfo(opts)
	if err != nil {
		return nil, err
	}

	cfg := b.preprocess
	if cfg == nil {
		cfg = preprocess.MaskRCNNConfig()
	}
	if cfg.InputWidth != network.Width || cfg.InputHeight != network.Height {
		return nil, errors.Errorf("preprocess size %dx%d does not match network input %dx%d",
			cfg.InputWidth, cfg.InputHeight, network.Width, network.Height)
	}
	pre, err := preprocess.NewPreprocessor(cfg, b.logger.Named("preprocess"))
	if err != nil {
		return nil, err
	}

	parser := b.parser
	if parser == nil {
		parser = b.model.Parser()
	}

	runner := b.runner
	if runner == nil {
		if b.provider == nil {
			return nil, errors.New("provider not configured")
		}
		session, err := providers.NewSession(b.provider, providers.NewSessionArgs{
			ModelPath:      opts.Path,
			LibraryPath:    b.libraryPath,
			Input:          opts.Input,
			InputShape:     opts.InputShape,
			Outputs:        opts.Outputs,
			OutputShapes:   opts.OutputShapes,
			IntraOpThreads: b.intraOp,
			InterOpThreads: b.interOp,
		})
		if err != nil {
			return nil, err
		}
		runner = session
		b.logger.Infow("created inference session",
			"model", opts.Name, "path", opts.Path, "provider", b.provider.Backend())
	}

	return &engine{
		model:      b.model,
		parser:     parser,
		runner:     runner,
		preprocess: pre,
		network:    network,
		params:     b.params,
		logger:     b.logger,
	}, nil
}

func networkInfo(opts model.BaseModel) (model.NetworkInfo, error) {
	if len(opts.InputShape) != 4 {
		return model.NetworkInfo{}, errors.Errorf("model input shape %v is not NCHW", opts.InputShape)
	}
	return model.NetworkInfo{
		Channels: opts.InputShape[1],
		Height:   opts.InputShape[2],
		Width:    opts.InputShape[3],
	}, nil
}

// engine implements the Engine interface.
type engine struct {
	model      model.Model
	parser     model.Parser
	runner     Runner
	preprocess *preprocess.Preprocessor
	network    model.NetworkInfo
	params     model.DetectionParams
	logger     *zap.SugaredLogger
	stats      counters
}

// Predict runs the model over img.
//
// Arguments:
//   - ctx: The context for the prediction. It is checked before the network runs.
//   - img: The frame to run on.
//
// Returns:
//   - *Prediction: The objects in frame coordinates.
//   - error: A preprocessing, runtime or parsing error.
func (e *engine) Predict(ctx context.Context, img image.Image) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.New("image is nil")
	}

	start := time.Now()
	var mapping *preprocess.Result
	var objects []model.Object

	err := e.runner.Infer(
		func(input []float32) error {
			res, err := e.preprocess.PreprocessInto(img, input)
			if err != nil {
				return errors.Wrap(err, "preprocess")
			}
			mapping = res
			return ctx.Err()
		},
		func(layers []model.Layer) error {
			parsed, err := e.parser.ParseObjects(layers, e.network, e.params)
			if err != nil {
				return errors.Wrap(err, "parse")
			}
			objects = make([]model.Object, 0, len(parsed))
			for _, o := range parsed {
				r := mapping.ToFrame(o.Region())
				o.Left, o.Top, o.Width, o.Height = r.Left, r.Top, r.Width, r.Height
				o.Mask = o.Mask.Clone()
				objects = append(objects, o)
			}
			return nil
		},
	)
	if err != nil {
		e.stats.failures.Inc()
		return nil, err
	}

	latency := time.Since(start)
	e.stats.observe(latency, len(objects))
	e.logger.Debugw("prediction", "objects", len(objects), "latency", latency)

	return &Prediction{
		Objects: objects,
		Network: e.network,
		Frame:   img.Bounds().Size(),
		Latency: latency,
	}, nil
}

// Stats returns the performance counters.
func (e *engine) Stats() Stats {
	return e.stats.snapshot()
}

// Close releases the runner.
func (e *engine) Close() error {
	return e.runner.Close()
}
