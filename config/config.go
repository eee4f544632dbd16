// Package config - YAML configuration of the Mask-RCNN video application.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-mrcnn/images"
	"github.com/nvr-ai/go-mrcnn/inference/providers"
	"github.com/nvr-ai/go-mrcnn/models"
	"github.com/nvr-ai/go-mrcnn/models/maskrcnn"
	"github.com/nvr-ai/go-mrcnn/models/model"
	"github.com/nvr-ai/go-mrcnn/models/model/preprocess"
)

// DecoderMode selects the H.264 decoder element.
type DecoderMode string

const (
	// DecoderAuto uses the hardware decoder when it is installed.
	DecoderAuto DecoderMode = "auto"
	// DecoderHardware requires nvv4l2decoder.
	DecoderHardware DecoderMode = "hardware"
	// DecoderSoftware uses avdec_h264.
	DecoderSoftware DecoderMode = "software"
)

// SinkKind selects where annotated frames go.
type SinkKind string

const (
	// SinkWindow shows frames in a window.
	SinkWindow SinkKind = "window"
	// SinkFile encodes frames into a video file.
	SinkFile SinkKind = "file"
	// SinkNone discards frames. Detections are still logged.
	SinkNone SinkKind = "none"
)

// Config is the complete application configuration.
type Config struct {
	Model    ModelConfig    `json:"model"    yaml:"model"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Stream   StreamConfig   `json:"stream"   yaml:"stream"`
	Render   RenderConfig   `json:"render"   yaml:"render"`
}

// ModelConfig describes the network and how its outputs are parsed.
type ModelConfig struct {
	Name model.Name `json:"name" yaml:"name"`
	Path string     `json:"path" yaml:"path"`
	// Family is the class set the network was trained on. It names the
	// detected classes.
	Family model.Family `json:"family" yaml:"family"`
	// LibraryPath is the ONNX Runtime shared library. Empty uses the platform default.
	LibraryPath string   `json:"library_path" yaml:"library_path"`
	Input       string   `json:"input"        yaml:"input"`
	Outputs     []string `json:"outputs"      yaml:"outputs"`
	// Parser is the registered name of the output parser.
	Parser string `json:"parser" yaml:"parser"`
	// Offsets are subtracted from each RGB channel before scaling.
	Offsets        [3]float32 `json:"offsets"          yaml:"offsets"`
	NetScaleFactor float32    `json:"net_scale_factor" yaml:"net_scale_factor"`
	// PreClusterThreshold drops detections below this confidence. Zero keeps all.
	PreClusterThreshold float32 `json:"pre_cluster_threshold" yaml:"pre_cluster_threshold"`
}

// ProviderConfig selects the execution provider.
type ProviderConfig struct {
	Backend  providers.ProviderBackend `json:"backend"   yaml:"backend"`
	DeviceID int                       `json:"device_id" yaml:"device_id"`
	// Precision applies to TensorRT only.
	Precision        model.Precision `json:"precision"          yaml:"precision"`
	EngineCachePath  string          `json:"engine_cache_path"  yaml:"engine_cache_path"`
	CalibrationTable string          `json:"calibration_table"  yaml:"calibration_table"`
	IntraOpThreads   int             `json:"intra_op_threads"   yaml:"intra_op_threads"`
	InterOpThreads   int             `json:"inter_op_threads"   yaml:"inter_op_threads"`
}

// StreamConfig describes decoding and scaling of the input video.
type StreamConfig struct {
	Decoder DecoderMode `json:"decoder" yaml:"decoder"`
	// Resolution is a preset such as "720p" or "1080p". It overrides Width and Height.
	Resolution string `json:"resolution" yaml:"resolution"`
	// Width and Height are the frame size after scaling, like the stream muxer output.
	Width  int `json:"width"  yaml:"width"`
	Height int `json:"height" yaml:"height"`
	// Buffer is the number of decoded frames queued ahead of inference.
	Buffer int `json:"buffer" yaml:"buffer"`
	// DropFrames drops decoded frames while inference is busy instead of
	// blocking the decoder.
	DropFrames bool `json:"drop_frames" yaml:"drop_frames"`
}

// RenderConfig describes the overlay and the sink.
type RenderConfig struct {
	Sink   SinkKind `json:"sink"   yaml:"sink"`
	Output string   `json:"output" yaml:"output"`
	FPS    float64  `json:"fps"    yaml:"fps"`
	// MaskThreshold is the probability above which a mask pixel is painted.
	MaskThreshold float32 `json:"mask_threshold" yaml:"mask_threshold"`
	// MaskAlpha is the opacity of painted mask pixels.
	MaskAlpha float32 `json:"mask_alpha" yaml:"mask_alpha"`
	// Classes restricts drawing to the named classes of model.family. Empty
	// draws every class.
	Classes []string `json:"classes" yaml:"classes"`
}

// Default returns the configuration of the COCO Mask-RCNN network decoding a
// 1080p stream onto a window.
func Default() *Config {
	pre := preprocess.MaskRCNNConfig()
	return &Config{
		Model: ModelConfig{
			Name:           model.ModelNameMaskRCNN,
			Family:         model.ModelFamilyCOCO,
			Input:          maskrcnn.InputLayerName,
			Outputs:        []string{maskrcnn.DetectionLayerName, maskrcnn.MaskLayerName},
			Parser:         models.MaskRCNNParserName,
			Offsets:        pre.Offsets,
			NetScaleFactor: pre.NetScaleFactor,
		},
		Provider: ProviderConfig{
			Backend:   providers.CUDAProviderBackend,
			Precision: model.PrecisionFP16,
		},
		Stream: StreamConfig{
			Decoder: DecoderAuto,
			Width:   1920,
			Height:  1080,
			Buffer:  4,
		},
		Render: RenderConfig{
			Sink:          SinkWindow,
			FPS:           30,
			MaskThreshold: 0.5,
			MaskAlpha:     0.5,
		},
	}
}

// Load reads a YAML configuration file. Keys that are not present keep their
// Default values.
//
// Arguments:
//   - path: The path of the YAML file.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes a YAML document over Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if cfg.Stream.Resolution != "" {
		r, err := images.LookupResolution(cfg.Stream.Resolution)
		if err != nil {
			return nil, errors.Wrap(err, "invalid stream.resolution")
		}
		cfg.Stream.Width, cfg.Stream.Height = r.Width, r.Height
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Model.NetScaleFactor == 0 {
		return errors.New("model.net_scale_factor must be non-zero")
	}
	if c.Model.PreClusterThreshold < 0 || c.Model.PreClusterThreshold > 1 {
		return errors.Errorf("model.pre_cluster_threshold %v is outside [0, 1]", c.Model.PreClusterThreshold)
	}
	if _, err := c.ProviderOptions(); err != nil {
		return err
	}
	classes := models.DefaultClassManager()
	if _, err := classes.Set(c.Model.Family); err != nil {
		return errors.Wrap(err, "model.family")
	}
	if _, err := classes.GetIndices(c.Model.Family, c.Render.Classes); err != nil {
		return errors.Wrap(err, "render.classes")
	}

	switch c.Stream.Decoder {
	case DecoderAuto, DecoderHardware, DecoderSoftware:
	default:
		return errors.Errorf("unknown stream.decoder %q", c.Stream.Decoder)
	}
	if c.Stream.Width <= 0 || c.Stream.Height <= 0 {
		return errors.Errorf("invalid stream size %dx%d", c.Stream.Width, c.Stream.Height)
	}
	if c.Stream.Buffer < 1 {
		return errors.New("stream.buffer must be at least 1")
	}

	switch c.Render.Sink {
	case SinkWindow, SinkNone:
	case SinkFile:
		if c.Render.Output == "" {
			return errors.New("render.output is required for the file sink")
		}
		if c.Render.FPS <= 0 {
			return errors.New("render.fps must be positive for the file sink")
		}
	default:
		return errors.Errorf("unknown render.sink %q", c.Render.Sink)
	}
	if c.Render.MaskThreshold < 0 || c.Render.MaskThreshold > 1 {
		return errors.Errorf("render.mask_threshold %v is outside [0, 1]", c.Render.MaskThreshold)
	}
	if c.Render.MaskAlpha < 0 || c.Render.MaskAlpha > 1 {
		return errors.Errorf("render.mask_alpha %v is outside [0, 1]", c.Render.MaskAlpha)
	}
	return nil
}

// ModelArgs returns the arguments for models.NewModel.
func (c *Config) ModelArgs() model.NewModelArgs {
	return model.NewModelArgs{
		Name:    c.Model.Name,
		Path:    c.Model.Path,
		Family:  c.Model.Family,
		Input:   c.Model.Input,
		Outputs: c.Model.Outputs,
	}
}

// Preprocess returns the input preprocessing of the configured network.
func (c *Config) Preprocess() *preprocess.ModelConfig {
	pre := preprocess.MaskRCNNConfig()
	pre.Offsets = c.Model.Offsets
	pre.NetScaleFactor = c.Model.NetScaleFactor
	return pre
}

// DetectionParams returns the per-run detection filtering.
func (c *Config) DetectionParams() model.DetectionParams {
	return model.DetectionParams{
		NumClasses:          maskrcnn.NumClasses,
		PreClusterThreshold: c.Model.PreClusterThreshold,
	}
}

// ProviderOptions builds the execution provider options of the configured backend.
func (c *Config) ProviderOptions() (providers.ProviderOptions, error) {
	p := c.Provider
	switch p.Backend {
	case providers.CPUProviderBackend, "":
		return providers.CPUOptions{}, nil
	case providers.CUDAProviderBackend:
		return providers.CUDAOptions{DeviceID: p.DeviceID, DoCopyInDefaultStream: true}, nil
	case providers.TensorRTProviderBackend:
		opts := providers.DefaultTensorRTOptions()
		opts.DeviceID = p.DeviceID
		if p.Precision != "" {
			opts.Precision = p.Precision
		}
		opts.EngineCachePath = p.EngineCachePath
		opts.INT8CalibrationTable = p.CalibrationTable
		if err := opts.Validate(); err != nil {
			return nil, err
		}
		return opts, nil
	default:
		return nil, errors.Wrapf(providers.ErrUnsupportedProvider, "backend %q", p.Backend)
	}
}
