package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-mrcnn/models/model"
)

const (
	// TensorRTProviderBackend uses NVIDIA TensorRT for inference.
	TensorRTProviderBackend ProviderBackend = "tensorrt"
)

// TensorRTOptions contains arguments for the TensorRT provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/TensorRT-ExecutionProvider.html#configurations
type TensorRTOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID"             yaml:"deviceID"`
	// Precision selects FP32, FP16 or INT8 kernels.
	Precision model.Precision `json:"precision"            yaml:"precision"`
	// MaxWorkspaceSize is the TensorRT builder workspace in bytes.
	MaxWorkspaceSize int64 `json:"maxWorkspaceSize"     yaml:"maxWorkspaceSize"`
	// EngineCachePath enables the engine cache when set.
	EngineCachePath string `json:"engineCachePath"      yaml:"engineCachePath"`
	// INT8CalibrationTable is the calibration table used with INT8 precision.
	INT8CalibrationTable string `json:"int8CalibrationTable" yaml:"int8CalibrationTable"`
}

// DefaultTensorRTOptions returns FP16 with a 1 GiB workspace.
func DefaultTensorRTOptions() TensorRTOptions {
	return TensorRTOptions{
		Precision:        model.PrecisionFP16,
		MaxWorkspaceSize: 1 << 30,
	}
}

// Map returns the options as ONNX Runtime key/value pairs.
func (o TensorRTOptions) Map() map[string]string {
	m := map[string]string{
		"device_id":               strconv.Itoa(o.DeviceID),
		"trt_fp16_enable":         boolFlag(o.Precision == model.PrecisionFP16 || o.Precision == model.PrecisionINT8),
		"trt_int8_enable":         boolFlag(o.Precision == model.PrecisionINT8),
		"trt_engine_cache_enable": boolFlag(o.EngineCachePath != ""),
	}
	if o.MaxWorkspaceSize > 0 {
		m["trt_max_workspace_size"] = strconv.FormatInt(o.MaxWorkspaceSize, 10)
	}
	if o.EngineCachePath != "" {
		m["trt_engine_cache_path"] = o.EngineCachePath
	}
	if o.INT8CalibrationTable != "" {
		m["trt_int8_calibration_table_name"] = o.INT8CalibrationTable
	}
	return m
}

// Validate checks the precision settings.
func (o TensorRTOptions) Validate() error {
	switch o.Precision {
	case "", model.PrecisionFP32, model.PrecisionFP16:
		return nil
	case model.PrecisionINT8:
		if o.INT8CalibrationTable == "" {
			return errors.New("INT8 precision needs a calibration table")
		}
		return nil
	default:
		return errors.Errorf("unknown precision %q", o.Precision)
	}
}

func (TensorRTOptions) isProviderOptions() {}

// TensorRTProvider implements the ExecutionProvider interface.
type TensorRTProvider struct {
	options TensorRTOptions
}

// NewTensorRTProvider creates a new TensorRT provider.
func NewTensorRTProvider(args TensorRTOptions) *TensorRTProvider {
	return &TensorRTProvider{options: args}
}

// Backend returns the backend of the TensorRT provider.
func (p *TensorRTProvider) Backend() ProviderBackend {
	return TensorRTProviderBackend
}

// Options returns the options of the TensorRT provider.
func (p *TensorRTProvider) Options() ProviderOptions {
	return p.options
}

// Append registers TensorRT, then CUDA as fallback for unsupported nodes.
func (p *TensorRTProvider) Append(options *ort.SessionOptions) error {
	if err := p.options.Validate(); err != nil {
		return err
	}

	trt, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return errors.Wrap(err, "error creating TensorRT options")
	}
	defer trt.Destroy()
	if err := trt.Update(p.options.Map()); err != nil {
		return errors.Wrap(err, "error converting TensorRT options")
	}
	if err := options.AppendExecutionProviderTensorRT(trt); err != nil {
		return errors.Wrap(err, "error enabling TensorRT")
	}

	return NewCUDAProvider(CUDAOptions{DeviceID: p.options.DeviceID, DoCopyInDefaultStream: true}).Append(options)
}
