// Package providers - ONNX Runtime execution providers and inference sessions.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend names an ONNX Runtime execution provider.
type ProviderBackend string

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	Backend() ProviderBackend
	Options() ProviderOptions
	// Append registers the provider with the session options.
	Append(options *ort.SessionOptions) error
}

// ErrUnsupportedProvider is returned for unknown backends or options types.
var ErrUnsupportedProvider = errors.New("unsupported execution provider")

// NewProvider creates a new provider based on the type of options.
//
// Arguments:
//   - options: The provider options. CPUOptions, CUDAOptions or TensorRTOptions.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: ErrUnsupportedProvider for any other options type.
func NewProvider(options ProviderOptions) (ExecutionProvider, error) {
	switch opts := options.(type) {
	case CPUOptions:
		return NewCPUProvider(opts), nil
	case CUDAOptions:
		return NewCUDAProvider(opts), nil
	case TensorRTOptions:
		return NewTensorRTProvider(opts), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedProvider, "options type %T", opts)
	}
}

// DefaultOptions returns the default options of a backend.
func DefaultOptions(backend ProviderBackend) (ProviderOptions, error) {
	switch backend {
	case CPUProviderBackend, "":
		return CPUOptions{}, nil
	case CUDAProviderBackend:
		return CUDAOptions{DoCopyInDefaultStream: true}, nil
	case TensorRTProviderBackend:
		return DefaultTensorRTOptions(), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedProvider, "backend %q", backend)
	}
}
