package model

import (
	"gorgonia.org/tensor"
)

// Layer is a named output tensor produced by the inference engine.
//
// Data is borrowed from the engine and is only valid until the next inference
// call on the same session.
type Layer struct {
	// Name is the tensor name in the network graph.
	Name string
	// Dims is the tensor shape. It may be nil when the producer does not
	// report one.
	Dims tensor.Shape
	// Data is the flat float32 content of the tensor.
	Data []float32
}

// Volume returns the number of elements described by Dims, or len(Data)
// when Dims is unset.
func (l Layer) Volume() int {
	if len(l.Dims) == 0 {
		return len(l.Data)
	}
	return l.Dims.TotalSize()
}

// FindLayer returns the index of the first layer called name, or -1.
func FindLayer(layers []Layer, name string) int {
	for i := range layers {
		if layers[i].Name == name {
			return i
		}
	}
	return -1
}

// NetworkInfo describes the resolution the network was run at.
type NetworkInfo struct {
	Width    int `json:"width"    yaml:"width"`
	Height   int `json:"height"   yaml:"height"`
	Channels int `json:"channels" yaml:"channels"`
}

// DetectionParams carries per-run filtering applied by parsers after decoding.
type DetectionParams struct {
	// NumClasses is the number of classes the network was trained with,
	// background included.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// PreClusterThreshold drops objects whose confidence is below it.
	// Zero keeps everything.
	PreClusterThreshold float32 `json:"pre_cluster_threshold" yaml:"pre_cluster_threshold"`
}

// Parser turns the raw output layers of one inference into objects in the
// pixel space of the network input.
type Parser interface {
	ParseObjects(layers []Layer, network NetworkInfo, params DetectionParams) ([]Object, error)
}

// ParserFunc adapts a plain function to the Parser interface.
type ParserFunc func(layers []Layer, network NetworkInfo, params DetectionParams) ([]Object, error)

// ParseObjects calls f.
func (f ParserFunc) ParseObjects(layers []Layer, network NetworkInfo, params DetectionParams) ([]Object, error) {
	return f(layers, network, params)
}
