package maskrcnn

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/nvr-ai/go-mrcnn/models/model"
)

type layerIndices struct {
	detection int
	mask      int
}

// layerCache remembers where the detection and mask layers sit in the layer
// list. The engine keeps its output order stable for a run, so after the first
// lookup a parse only has to confirm the cached positions still hold the
// expected names.
type layerCache struct {
	detectionName string
	maskName      string

	mu      sync.Mutex
	indices atomic.Pointer[layerIndices]
}

func newLayerCache(detectionName, maskName string) *layerCache {
	return &layerCache{detectionName: detectionName, maskName: maskName}
}

func (c *layerCache) valid(idx *layerIndices, layers []model.Layer) bool {
	return idx != nil &&
		idx.detection < len(layers) && layers[idx.detection].Name == c.detectionName &&
		idx.mask < len(layers) && layers[idx.mask].Name == c.maskName
}

// resolve returns the positions of the detection and mask layers. A missing
// layer is not cached, so the next call looks again.
func (c *layerCache) resolve(layers []model.Layer) (layerIndices, error) {
	if idx := c.indices.Load(); c.valid(idx, layers) {
		return *idx, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indices.Load(); c.valid(idx, layers) {
		return *idx, nil
	}

	det := model.FindLayer(layers, c.detectionName)
	if det < 0 {
		return layerIndices{}, errors.Wrapf(ErrLayerNotFound, "could not find detection layer %q", c.detectionName)
	}
	mask := model.FindLayer(layers, c.maskName)
	if mask < 0 {
		return layerIndices{}, errors.Wrapf(ErrLayerNotFound, "could not find mask layer %q", c.maskName)
	}

	idx := &layerIndices{detection: det, mask: mask}
	c.indices.Store(idx)
	return *idx, nil
}

// warm reports whether a resolution has been cached.
func (c *layerCache) warm() bool {
	return c.indices.Load() != nil
}
