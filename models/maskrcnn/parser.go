package maskrcnn

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-mrcnn/images"
	"github.com/nvr-ai/go-mrcnn/models/model"
)

// ErrInvalidNetwork is returned when the network size handed to the parser
// cannot hold a pixel.
var ErrInvalidNetwork = errors.New("invalid network size")

// Parser implements model.Parser for Mask-RCNN outputs.
type Parser struct {
	decoder *Decoder
	layers  *layerCache
	clip    images.ClipMode
	logger  *zap.SugaredLogger
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClipMode selects how boxes are clamped to the network frame.
func WithClipMode(mode images.ClipMode) Option {
	return func(p *Parser) {
		p.clip = mode
	}
}

// NewParser returns a parser for the given network geometry.
//
// Arguments:
//   - params: The network geometry and layer names.
//   - opts: Optional logger and clip mode.
//
// Returns:
//   - *Parser: The parser. It is safe for concurrent use.
//   - error: An error if params are invalid.
//
// Example:
//
// ```go
//
//	parser, err := maskrcnn.NewParser(maskrcnn.COCOParams(), maskrcnn.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	objects, err := parser.ParseObjects(layers, model.NetworkInfo{Width: 1024, Height: 1024}, model.DetectionParams{})
//
// ```
func NewParser(params Params, opts ...Option) (*Parser, error) {
	decoder, err := NewDecoder(params)
	if err != nil {
		return nil, err
	}
	p := &Parser{
		decoder: decoder,
		layers:  newLayerCache(params.DetectionLayer, params.MaskLayer),
		clip:    images.ClipToFrame,
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Decoder returns the decoder used by the parser.
func (p *Parser) Decoder() *Decoder {
	return p.decoder
}

// ParseObjects locates the detection and mask layers, decodes them and
// projects every kept detection into the pixel space of network.
//
// Arguments:
//   - layers: The output layers of one inference, in any order.
//   - network: The resolution the network was run at.
//   - params: Optional confidence filtering.
//
// Returns:
//   - []model.Object: The objects in candidate order. Masks borrow the mask layer.
//   - error: ErrLayerNotFound, ErrBufferTooSmall or ErrInvalidNetwork. No objects
//     are returned with an error.
func (p *Parser) ParseObjects(
	layers []model.Layer,
	network model.NetworkInfo,
	params model.DetectionParams,
) ([]model.Object, error) {
	if network.Width <= 0 || network.Height <= 0 {
		return nil, errors.Wrapf(ErrInvalidNetwork, "%dx%d", network.Width, network.Height)
	}
	if params.NumClasses > 0 && params.NumClasses != p.decoder.params.NumClasses {
		p.logger.Warnw("detection params class count differs from the network",
			"configured", params.NumClasses, "network", p.decoder.params.NumClasses)
	}

	idx, err := p.layers.resolve(layers)
	if err != nil {
		p.logger.Errorw("failed to resolve output layers", "error", err)
		return nil, err
	}

	detections, stats, err := p.decoder.DecodeWithStats(layers[idx.detection].Data, layers[idx.mask].Data)
	if err != nil {
		return nil, err
	}
	if stats.Invalid > 0 {
		p.logger.Debugw("dropped candidates with invalid class ids", "count", stats.Invalid)
	}

	objects := make([]model.Object, 0, len(detections))
	for _, d := range detections {
		// NaN scores fail any positive threshold.
		if params.PreClusterThreshold > 0 && !(d.Confidence >= params.PreClusterThreshold) {
			continue
		}
		r := images.ToPixels(d.Box, network.Width, network.Height, p.clip)
		objects = append(objects, model.Object{
			ClassID:    d.Label,
			Confidence: d.Confidence,
			Left:       r.Left,
			Top:        r.Top,
			Width:      r.Width,
			Height:     r.Height,
			Mask:       d.Mask,
		})
	}
	return objects, nil
}
