// Package model - Contracts shared by every detection model: named output
// layers, network geometry, parsed objects and the parser interface.
package model

import (
	"gorgonia.org/tensor"
)

// Family is the family of models.
type Family string

const (
	// ModelFamilyCOCO is the COCO model family (80 classes + background).
	ModelFamilyCOCO Family = "coco"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameMaskRCNN is the name of the Mask-RCNN instance segmentation model.
	ModelNameMaskRCNN Name = "maskrcnn"
)

// BaseModel describes how a model is loaded and bound to an inference session.
type BaseModel struct {
	Name   Name
	Family Family
	Path   string
	// Input is the name of the image input tensor.
	Input string
	// InputShape is the shape of the input tensor, batch first.
	InputShape tensor.Shape
	// Outputs are the names of the output tensors, in binding order.
	Outputs []string
	// OutputShapes are the shapes of the output tensors, index-aligned with Outputs.
	OutputShapes []tensor.Shape
}

// Model is a detection model that knows its bindings and how to turn its raw
// outputs into objects.
type Model interface {
	Options() BaseModel
	Parser() Parser
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name   Name   `json:"name"   yaml:"name"`
	Path   string `json:"path"   yaml:"path"`
	Family Family `json:"family" yaml:"family"`
	Input  string `json:"input"  yaml:"input"`
	// Outputs overrides the output layer names. Empty keeps the model defaults.
	Outputs []string `json:"outputs" yaml:"outputs"`
}
