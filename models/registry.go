package models

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-mrcnn/models/maskrcnn"
	"github.com/nvr-ai/go-mrcnn/models/model"
)

// MaskRCNNParserName is the registered name of the Mask-RCNN output parser.
const MaskRCNNParserName = "NvDsInferParseCustomMrcnnUff"

var (
	// ErrParserNotFound is returned when no parser is registered under a name.
	ErrParserNotFound = errors.New("parser not found")
	// ErrUnsupportedModel is returned by NewModel for unknown model names.
	ErrUnsupportedModel = errors.New("unsupported model")
)

// ParserFactory builds a parser. The logger is never nil.
type ParserFactory func(logger *zap.SugaredLogger) (model.Parser, error)

var (
	parsersMu sync.RWMutex
	parsers   = map[string]ParserFactory{}
)

func init() {
	RegisterParser(MaskRCNNParserName, func(logger *zap.SugaredLogger) (model.Parser, error) {
		return maskrcnn.NewParser(maskrcnn.COCOParams(), maskrcnn.WithLogger(logger))
	})
}

// RegisterParser makes a parser available by name, replacing any parser
// already registered under it.
func RegisterParser(name string, factory ParserFactory) {
	parsersMu.Lock()
	defer parsersMu.Unlock()
	parsers[name] = factory
}

// LookupParser builds the parser registered under name.
//
// Arguments:
//   - name: The parser name, as written in the inference configuration.
//   - logger: The logger handed to the parser. May be nil.
//
// Returns:
//   - model.Parser: A new parser instance.
//   - error: ErrParserNotFound if nothing is registered under name.
func LookupParser(name string, logger *zap.SugaredLogger) (model.Parser, error) {
	parsersMu.RLock()
	factory, ok := parsers[name]
	parsersMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrParserNotFound, "%q", name)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p, err := factory(logger.Named(name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create parser %q", name)
	}
	return p, nil
}

// Parsers returns the registered parser names, sorted.
func Parsers() []string {
	parsersMu.RLock()
	defer parsersMu.RUnlock()
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewModel creates a new detection model instance based on the specified model name.
//
// Arguments:
//   - args: Configuration parameters specifying the model name and location.
//   - logger: The logger handed to the model parser. May be nil.
//
// Returns:
//   - model.Model: A fully configured model instance implementing the Model interface.
//   - error: An error if the model name is unsupported or the arguments are invalid.
//
// Example:
//
// ```go
//
//	m, err := models.NewModel(model.NewModelArgs{
//	    Name: model.ModelNameMaskRCNN,
//	    Path: "/models/mrcnn_coco.onnx",
//	}, logger)
//	if err != nil {
//	    log.Fatalf("Failed to create detection model: %v", err)
//	}
//
// ```
func NewModel(args model.NewModelArgs, logger *zap.SugaredLogger) (model.Model, error) {
	switch args.Name {
	case model.ModelNameMaskRCNN:
		if args.Family == "" {
			args.Family = model.ModelFamilyCOCO
		}
		set, err := defaultClasses.Set(args.Family)
		if err != nil {
			return nil, err
		}
		if len(set.Classes) != maskrcnn.NumClasses {
			return nil, errors.Errorf("class family %q has %d classes, mask-rcnn outputs %d",
				args.Family, len(set.Classes), maskrcnn.NumClasses)
		}
		m, err := maskrcnn.NewModel(args, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedModel, "%q", args.Name)
	}
}
