// Package model - Model precision options.
//
// See:
// https://onnxruntime.ai/docs/execution-providers/TensorRT-ExecutionProvider.html#configurations
package model

// Precision represents the arithmetic precision the network is executed with.
type Precision string

const (
	// PrecisionFP32 runs the network in 32-bit floating point.
	PrecisionFP32 Precision = "FP32"
	// PrecisionFP16 allows 16-bit floating point kernels where supported.
	PrecisionFP16 Precision = "FP16"
	// PrecisionINT8 allows 8-bit integer kernels. It needs a calibration table.
	PrecisionINT8 Precision = "INT8"
)
