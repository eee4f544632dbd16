// Package providers - CPU based execution provider.
package providers

import (
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CPUProviderBackend runs the network on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// CPUOptions contains arguments for the CPU provider.
type CPUOptions struct{}

func (CPUOptions) isProviderOptions() {}

// CPUProvider implements the ExecutionProvider interface.
type CPUProvider struct {
	options CPUOptions
}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider(args CPUOptions) *CPUProvider {
	return &CPUProvider{options: args}
}

// Backend returns the backend of the CPU provider.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Options returns the options of the CPU provider.
func (p *CPUProvider) Options() ProviderOptions {
	return p.options
}

// Append is a no-op: ONNX Runtime always falls back to its CPU provider.
func (p *CPUProvider) Append(*ort.SessionOptions) error {
	return nil
}
