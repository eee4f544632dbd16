// Command mrcnn-app runs Mask-RCNN instance segmentation over an H.264
// elementary stream and shows or records the annotated video.
//
// Usage:
//
//	mrcnn-app [--debug] <config_file> <H264 filename>
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nvr-ai/go-mrcnn/config"
	"github.com/nvr-ai/go-mrcnn/inference"
	"github.com/nvr-ai/go-mrcnn/models"
	"github.com/nvr-ai/go-mrcnn/pipeline"
	"github.com/nvr-ai/go-mrcnn/render"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "mrcnn-app",
		Usage:     "Mask-RCNN instance segmentation over an H.264 stream",
		ArgsUsage: "<config_file> <H264 filename>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// overlayOptions names classes from model.family and resolves the
// render.classes filter against it.
func overlayOptions(cfg *config.Config) (render.OverlayOptions, error) {
	classes := models.DefaultClassManager()
	set, err := classes.Set(cfg.Model.Family)
	if err != nil {
		return render.OverlayOptions{}, err
	}
	ids, err := classes.GetIndices(cfg.Model.Family, cfg.Render.Classes)
	if err != nil {
		return render.OverlayOptions{}, errors.Wrap(err, "render.classes")
	}

	opts := render.DefaultOverlayOptions()
	opts.Classes = set
	opts.ClassIDs = ids
	opts.MaskThreshold = cfg.Render.MaskThreshold
	opts.MaskAlpha = cfg.Render.MaskAlpha
	return opts, nil
}

func run(c *cli.Context) (err error) {
	if c.NArg() != 2 {
		return cli.Exit(fmt.Sprintf("Usage: %s <config_file> <H264 filename>", c.App.Name), 1)
	}
	configPath, streamPath := c.Args().Get(0), c.Args().Get(1)

	zl, err := newLogger(c.Bool("debug"))
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	providerOpts, err := cfg.ProviderOptions()
	if err != nil {
		return err
	}

	engine, err := inference.NewEngineBuilder().
		WithLogger(logger.Named("inference")).
		WithProvider(providerOpts).
		WithLibraryPath(cfg.Model.LibraryPath).
		WithThreads(cfg.Provider.IntraOpThreads, cfg.Provider.InterOpThreads).
		WithModel(cfg.ModelArgs()).
		WithParser(cfg.Model.Parser).
		WithPreprocess(cfg.Preprocess()).
		WithDetectionParams(cfg.DetectionParams()).
		Build()
	if err != nil {
		return errors.Wrap(err, "failed to create inference engine")
	}
	defer func() { err = multierr.Append(err, engine.Close()) }()

	source, err := pipeline.NewGstSource(streamPath, cfg.Stream, logger.Named("decode"))
	if err != nil {
		return err
	}

	overlay, err := overlayOptions(cfg)
	if err != nil {
		return err
	}
	sink, err := render.NewSink(cfg.Render)
	if err != nil {
		return err
	}
	renderer := render.NewRenderer(render.NewOverlay(overlay), sink, logger.Named("render"))
	defer func() { err = multierr.Append(err, renderer.Close()) }()

	p, err := pipeline.New(source, engine, renderer, pipeline.Options{
		Buffer: cfg.Stream.Buffer,
		Logger: logger.Named("pipeline"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("starting",
		"config", configPath,
		"input", streamPath,
		"model", cfg.Model.Path,
		"parser", cfg.Model.Parser,
		"parsers", models.Parsers(),
		"family", cfg.Model.Family,
		"classes", cfg.Render.Classes,
		"provider", cfg.Provider.Backend,
		"sink", cfg.Render.Sink)

	err = p.Run(ctx)
	if errors.Is(err, render.ErrSinkClosed) {
		err = nil
	}

	st := engine.Stats()
	logger.Infow("inference stats",
		"inferences", st.Inferences,
		"failures", st.Failures,
		"objects", st.Objects,
		"avg_latency", st.Average(),
		"fps", st.FPS(),
		"decoded", source.Decoded(),
		"dropped", source.Dropped())
	return err
}
