package maskrcnn

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-mrcnn/models/model"
)

// Model is the Mask-RCNN detection model.
type Model struct {
	options model.BaseModel
	parser  *Parser
}

// NewModel creates a Mask-RCNN model bound to the COCO geometry.
//
// Arguments:
//   - args: The model path and optional input and output names.
//   - logger: The logger handed to the parser. May be nil.
//
// Returns:
//   - *Model: The model.
//   - error: An error if the path is empty or the output names are incomplete.
func NewModel(args model.NewModelArgs, logger *zap.SugaredLogger) (*Model, error) {
	if args.Path == "" {
		return nil, errors.New("mask-rcnn model path is required")
	}

	params := COCOParams()
	switch len(args.Outputs) {
	case 0:
	case 2:
		params.DetectionLayer, params.MaskLayer = args.Outputs[0], args.Outputs[1]
	default:
		return nil, errors.Errorf("mask-rcnn needs 2 outputs (detection, mask), got %d", len(args.Outputs))
	}

	input := args.Input
	if input == "" {
		input = InputLayerName
	}
	family := args.Family
	if family == "" {
		family = model.ModelFamilyCOCO
	}

	parser, err := NewParser(params, WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &Model{
		options: model.BaseModel{
			Name:         model.ModelNameMaskRCNN,
			Family:       family,
			Path:         args.Path,
			Input:        input,
			InputShape:   params.InputShape(),
			Outputs:      []string{params.DetectionLayer, params.MaskLayer},
			OutputShapes: []tensor.Shape{params.DetectionShape(), params.MaskShape()},
		},
		parser: parser,
	}, nil
}

// Options returns the bindings of the model.
func (m *Model) Options() model.BaseModel {
	return m.options
}

// Parser returns the output parser of the model.
func (m *Model) Parser() model.Parser {
	return m.parser
}
