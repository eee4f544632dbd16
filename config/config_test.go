package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-mrcnn/inference/providers"
	"github.com/nvr-ai/go-mrcnn/models"
	"github.com/nvr-ai/go-mrcnn/models/maskrcnn"
	"github.com/nvr-ai/go-mrcnn/models/model"
)

const sample = `
model:
  path: /models/mrcnn_coco.onnx
  pre_cluster_threshold: 0.3
provider:
  backend: tensorrt
  device_id: 1
  engine_cache_path: /var/cache/trt
stream:
  decoder: software
  width: 1280
  height: 720
render:
  sink: file
  output: out.mp4
  classes: [person, car]
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mrcnn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/models/mrcnn_coco.onnx", cfg.Model.Path)
	assert.Equal(t, model.ModelNameMaskRCNN, cfg.Model.Name)
	assert.Equal(t, models.MaskRCNNParserName, cfg.Model.Parser)
	assert.Equal(t, []string{maskrcnn.DetectionLayerName, maskrcnn.MaskLayerName}, cfg.Model.Outputs)
	assert.Equal(t, DecoderSoftware, cfg.Stream.Decoder)
	assert.Equal(t, 1280, cfg.Stream.Width)
	assert.Equal(t, 4, cfg.Stream.Buffer)
	assert.Equal(t, SinkFile, cfg.Render.Sink)
	assert.Equal(t, float32(0.5), cfg.Render.MaskThreshold)
	assert.Equal(t, []string{"person", "car"}, cfg.Render.Classes)

	opts, err := cfg.ProviderOptions()
	require.NoError(t, err)
	trt, ok := opts.(providers.TensorRTOptions)
	require.True(t, ok)
	assert.Equal(t, 1, trt.DeviceID)
	assert.Equal(t, model.PrecisionFP16, trt.Precision)
	assert.Equal(t, "/var/cache/trt", trt.EngineCachePath)

	params := cfg.DetectionParams()
	assert.Equal(t, maskrcnn.NumClasses, params.NumClasses)
	assert.Equal(t, float32(0.3), params.PreClusterThreshold)

	args := cfg.ModelArgs()
	assert.Equal(t, "/models/mrcnn_coco.onnx", args.Path)
	assert.Equal(t, maskrcnn.InputLayerName, args.Input)
	assert.Equal(t, model.ModelFamilyCOCO, args.Family)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorContains(t, err, "model.path is required")
}

func TestParseUnknownKey(t *testing.T) {
	_, err := Parse([]byte("model:\n  path: x.onnx\n  treshold: 0.5\n"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestParseResolution(t *testing.T) {
	cfg, err := Parse([]byte("model:\n  path: x.onnx\nstream:\n  resolution: 720p\n  width: 10\n"))
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Stream.Width)
	assert.Equal(t, 720, cfg.Stream.Height)

	_, err = Parse([]byte("model:\n  path: x.onnx\nstream:\n  resolution: 8k\n"))
	assert.ErrorContains(t, err, "invalid stream.resolution")
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	cfg.Model.Path = "mrcnn.onnx"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1920, cfg.Stream.Width)
	assert.Equal(t, 1080, cfg.Stream.Height)
	assert.Equal(t, SinkWindow, cfg.Render.Sink)

	opts, err := cfg.ProviderOptions()
	require.NoError(t, err)
	assert.Equal(t, providers.CUDAOptions{DoCopyInDefaultStream: true}, opts)

	pre := cfg.Preprocess()
	assert.Equal(t, maskrcnn.InputWidth, pre.InputWidth)
	assert.Equal(t, [3]float32{123.7, 116.8, 103.9}, pre.Offsets)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"scale", func(c *Config) { c.Model.NetScaleFactor = 0 }, "net_scale_factor"},
		{"threshold", func(c *Config) { c.Model.PreClusterThreshold = 1.5 }, "pre_cluster_threshold"},
		{"backend", func(c *Config) { c.Provider.Backend = "coreml" }, "unsupported execution provider"},
		{"int8", func(c *Config) {
			c.Provider.Backend = providers.TensorRTProviderBackend
			c.Provider.Precision = model.PrecisionINT8
		}, "calibration"},
		{"decoder", func(c *Config) { c.Stream.Decoder = "vaapi" }, "stream.decoder"},
		{"size", func(c *Config) { c.Stream.Width = 0 }, "stream size"},
		{"buffer", func(c *Config) { c.Stream.Buffer = 0 }, "stream.buffer"},
		{"sink", func(c *Config) { c.Render.Sink = "rtsp" }, "render.sink"},
		{"file output", func(c *Config) { c.Render.Sink = SinkFile }, "render.output"},
		{"file fps", func(c *Config) {
			c.Render.Sink = SinkFile
			c.Render.Output = "out.mp4"
			c.Render.FPS = 0
		}, "render.fps"},
		{"mask threshold", func(c *Config) { c.Render.MaskThreshold = -1 }, "mask_threshold"},
		{"mask alpha", func(c *Config) { c.Render.MaskAlpha = 2 }, "mask_alpha"},
		{"family", func(c *Config) { c.Model.Family = "imagenet" }, "model.family"},
		{"classes", func(c *Config) { c.Render.Classes = []string{"person", "unicorn"} }, "render.classes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Model.Path = "mrcnn.onnx"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	cfg.Model.Path = "mrcnn.onnx"
	cfg.Provider.Backend = "coreml"
	assert.True(t, errors.Is(cfg.Validate(), providers.ErrUnsupportedProvider))

	cfg = Default()
	cfg.Model.Path = "mrcnn.onnx"
	cfg.Model.Family = "voc"
	assert.True(t, errors.Is(cfg.Validate(), models.ErrUnknownFamily))
}
